package events

import (
	. "github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/service"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE         = "bridge"
	SENSOR_ID_VERSION              = "version"
	SENSOR_ID_RELAY_STATE          = "relay_state"
	SENSOR_ID_LOADSHEDDING         = "loadshedding"
	SENSOR_ID_BATTERY_SOC          = "battery_soc"
	SENSOR_ID_BATTERY_DC_POWER     = "battery_dc_power"
	SENSOR_ID_BATTERY_DC_POWER_AVG = "battery_dc_power_avg"
	SENSOR_ID_AC_ACTIVE_SOURCE     = "ac_active_source"
)

func RelayStateToUpdateEvents(state service.RelayState) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RELAY_STATE,
		},
		Value: state == service.StateOn,
	})

	return events
}

// LoadsheddingToUpdateEvents reports whether the AC input is currently lost
// and the system runs inverted.
func LoadsheddingToUpdateEvents(acSource, invertingSourceCode int) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LOADSHEDDING,
		},
		Value: acSource == invertingSourceCode,
	})

	return events
}

func ParametersToUpdateEvents(p service.Parameters, averagePower float64) []any {
	var events []any

	// Battery SoC
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY_SOC,
		},
		Value:    p.SOC,
		Decimals: 1,
	})
	// Battery DC Power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY_DC_POWER,
		},
		Value:    p.DCPower,
		Decimals: 1,
	})
	// Battery DC Power (smoothed)
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY_DC_POWER_AVG,
		},
		Value:    averagePower,
		Decimals: 1,
	})
	// AC Active Source
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_AC_ACTIVE_SOURCE,
		},
		Value: acSourceName(p.ACSource),
	})

	return events
}

func VersionToUpdateEvent() any {
	return TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_VERSION,
		},
		Value: versioninfo.Short(),
	}
}

// acSourceName maps the Venus /Ac/ActiveIn/Source value to a readable label.
func acSourceName(source int) string {
	switch source {
	case 0:
		return "not_available"
	case 1:
		return "grid"
	case 2:
		return "generator"
	case 3:
		return "shore"
	case 240:
		return "inverting"
	default:
		return "unknown"
	}
}
