package venus_modbus

import "sync"

func CreateTestSystemReader() *TestSystemReader {
	return &TestSystemReader{
		SOC:      65,
		DCPower:  -400,
		ACSource: 1,
	}
}

// TestSystemReader is an in-memory Venus system for tests. Mutable behind a
// mutex because the adapter reads it from background tasks.
type TestSystemReader struct {
	mu       sync.Mutex
	SOC      float64
	DCPower  float64
	ACSource int
	Relay    bool
}

func (reader *TestSystemReader) Open() error {
	return nil
}

func (reader *TestSystemReader) Close() error {
	return nil
}

func (reader *TestSystemReader) GetBatterySOC() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.SOC, nil
}

func (reader *TestSystemReader) GetBatteryDCPower() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.DCPower, nil
}

func (reader *TestSystemReader) GetACActiveSource() (int, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.ACSource, nil
}

func (reader *TestSystemReader) GetRelayState() (bool, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.Relay, nil
}

func (reader *TestSystemReader) SetRelayState(closed bool) error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.Relay = closed
	return nil
}

func (reader *TestSystemReader) SetValues(soc, dcPower float64, acSource int) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.SOC = soc
	reader.DCPower = dcPower
	reader.ACSource = acSource
}

var _ SystemReader = (*TestSystemReader)(nil)
