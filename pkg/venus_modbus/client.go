// Package venus_modbus reads the com.victronenergy.system Modbus TCP unit of
// a Venus OS device. Register map follows the CCGX Modbus TCP register list.
package venus_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

const (
	// com.victronenergy.system registers
	REG_RELAY_STATE      = 806
	REG_AC_ACTIVE_SOURCE = 826
	REG_BATTERY_DC_POWER = 842
	REG_BATTERY_SOC      = 843

	// battery SoC is published with one decimal
	SOC_SCALE = 10
)

// SystemReader is the Venus system service seen over Modbus TCP.
type SystemReader interface {
	Open() error
	Close() error
	GetBatterySOC() (float64, error)
	GetBatteryDCPower() (float64, error)
	GetACActiveSource() (int, error)
	GetRelayState() (bool, error)
	SetRelayState(closed bool) error
}

type VenusSystemModbusReader struct {
	client *modbus.ModbusClient
}

func CreateVenusSystemModbusReader(ip string, port uint, unitId uint8, timeout time.Duration) (SystemReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// the system service answers on its own unit id
	err = client.SetUnitId(unitId)
	if err != nil {
		return nil, err
	}
	return &VenusSystemModbusReader{
		client: client,
	}, nil
}

func (reader *VenusSystemModbusReader) Open() error {
	return reader.client.Open()
}

func (reader *VenusSystemModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *VenusSystemModbusReader) GetBatterySOC() (float64, error) {
	raw, err := reader.client.ReadRegister(REG_BATTERY_SOC, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return float64(raw) / SOC_SCALE, nil
}

func (reader *VenusSystemModbusReader) GetBatteryDCPower() (float64, error) {
	raw, err := reader.client.ReadRegister(REG_BATTERY_DC_POWER, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	// signed register, negative while discharging
	return float64(int16(raw)), nil
}

func (reader *VenusSystemModbusReader) GetACActiveSource() (int, error) {
	raw, err := reader.client.ReadRegister(REG_AC_ACTIVE_SOURCE, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return int(raw), nil
}

func (reader *VenusSystemModbusReader) GetRelayState() (bool, error) {
	raw, err := reader.client.ReadRegister(REG_RELAY_STATE, modbus.HOLDING_REGISTER)
	if err != nil {
		return false, err
	}
	return raw == 1, nil
}

func (reader *VenusSystemModbusReader) SetRelayState(closed bool) error {
	var value uint16
	if closed {
		value = 1
	}
	return reader.client.WriteRegister(REG_RELAY_STATE, value)
}

// ensure interface compliance
var _ SystemReader = (*VenusSystemModbusReader)(nil)
