package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const invertingCode = 240

// relayRecorder captures every relay command the engine issues, in order.
type relayRecorder struct {
	commands []bool
}

func (r *relayRecorder) SetRelayState(closed bool) {
	r.commands = append(r.commands, closed)
}

func venusSettings() Settings {
	// the original AC-Out2 deployment values, with a short window for tests
	return Settings{
		MaxDCPower:          -250,
		MaxDCPowerSOC:       50,
		DCPowerPeriodCount:  3,
		MinSOC:              60,
		SOCHysteresis:       3,
		DCPowerHysteresis:   1000,
		InvertingSourceCode: invertingCode,
	}
}

func newTestOverride(t *testing.T, settings Settings) (*Override, *relayRecorder) {
	recorder := &relayRecorder{}
	o, err := NewOverride(settings, recorder, zap.Must(zap.NewDevelopment()))
	require.NoError(t, err)
	return o, recorder
}

func TestRejectsInvalidSettings(t *testing.T) {
	recorder := &relayRecorder{}
	logger := zap.Must(zap.NewDevelopment())

	s := venusSettings()
	s.DCPowerPeriodCount = 0
	_, err := NewOverride(s, recorder, logger)
	require.ErrorIs(t, err, ErrInvalidSettings)

	s = venusSettings()
	s.SOCHysteresis = -1
	_, err = NewOverride(s, recorder, logger)
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestInitialSafety(t *testing.T) {
	// before any update the engine must have forced the relay open exactly once
	o, recorder := newTestOverride(t, venusSettings())

	assert.Equal(t, []bool{false}, recorder.commands)
	assert.Equal(t, StateOff, o.State())
}

func TestCurrentParametersSnapshot(t *testing.T) {
	o, _ := newTestOverride(t, venusSettings())

	p := Parameters{SOC: 42.5, DCPower: -300, ACSource: 1}
	o.Update(p)

	assert.Equal(t, p, o.CurrentParameters())
}

func TestSwitchOnViaMinSOCAndSingleCallback(t *testing.T) {
	// three identical favorable updates must yield a single transition to On
	// with exactly one closed command, none repeated on the confirm updates
	o, recorder := newTestOverride(t, venusSettings())

	for i := 0; i < 3; i++ {
		o.Update(Parameters{SOC: 65, DCPower: 0, ACSource: 1})
	}

	assert.Equal(t, StateOn, o.State())
	assert.Equal(t, []bool{false, true}, recorder.commands)
}

func TestConfirmTransitionSuppressed(t *testing.T) {
	o, recorder := newTestOverride(t, venusSettings())

	o.Update(Parameters{SOC: 65, DCPower: 0, ACSource: 1})
	require.Equal(t, StateOn, o.State())
	issued := len(recorder.commands)

	// same favorable snapshot again: target equals current, no callback
	o.Update(Parameters{SOC: 65, DCPower: 0, ACSource: 1})
	assert.Equal(t, StateOn, o.State())
	assert.Len(t, recorder.commands, issued)
}

func TestDeterministicCommandSequence(t *testing.T) {
	sequence := []Parameters{
		{SOC: 65, DCPower: 0, ACSource: 1},
		{SOC: 65, DCPower: 900, ACSource: 1},
		{SOC: 58, DCPower: -400, ACSource: 1},
		{SOC: 58, DCPower: -400, ACSource: invertingCode},
		{SOC: 70, DCPower: 100, ACSource: invertingCode},
		{SOC: 70, DCPower: 100, ACSource: 1},
	}

	run := func() []bool {
		o, recorder := newTestOverride(t, venusSettings())
		for _, p := range sequence {
			o.Update(p)
		}
		return recorder.commands
	}

	assert.Equal(t, run(), run())
}

func TestInvertingVeto(t *testing.T) {
	// with the AC input lost, no input however favorable may close the relay
	// from the open state
	o, recorder := newTestOverride(t, venusSettings())

	for i := 0; i < 10; i++ {
		o.Update(Parameters{SOC: 100, DCPower: 5000, ACSource: invertingCode})
	}

	assert.Equal(t, StateOff, o.State())
	assert.Equal(t, []bool{false}, recorder.commands)
}

func TestInvertingVetoHoldsStateWithoutError(t *testing.T) {
	// inverting + high discharge + high SOC: neither guard fires once the
	// window saturates; the engine must simply hold Off
	s := venusSettings()
	o, _ := newTestOverride(t, s)

	favourable := Parameters{SOC: 90, DCPower: 2000, ACSource: invertingCode}
	for i := 0; i < s.DCPowerPeriodCount+1; i++ {
		o.Update(favourable)
	}
	require.Greater(t, o.AveragePower(), s.MaxDCPower+s.DCPowerHysteresis)

	assert.Equal(t, StateOff, o.State())
}

func TestWindowSaturationGatesPowerAdmission(t *testing.T) {
	// admission via the high-power clause needs the smoothed mean above
	// MaxDCPower + DCPowerHysteresis, which the sentinels prevent until the
	// window holds only real samples
	o, recorder := newTestOverride(t, venusSettings())

	// SOC 55 is below MinSOC + hysteresis, only the power clause can admit
	p := Parameters{SOC: 55, DCPower: 800, ACSource: 1}
	o.Update(p)
	assert.Equal(t, StateOff, o.State())
	o.Update(p)
	assert.Equal(t, StateOff, o.State())
	o.Update(p)

	assert.Equal(t, 800.0, o.AveragePower())
	assert.Equal(t, StateOn, o.State())
	assert.Equal(t, []bool{false, true}, recorder.commands)
}

func TestStayCheckSkipsHysteresis(t *testing.T) {
	// hysteresis widens thresholds only on state change. Entering On needs
	// SOC > MinSOC + SOCHysteresis, but once On the engine stays there down
	// to MinSOC exactly, and leaves at or below it.
	s := venusSettings()
	s.MaxDCPower = 500 // keep the high-power clause out of the way
	o, recorder := newTestOverride(t, s)

	// SOC 62 is above MinSOC but within the hysteresis band: not admitted
	o.Update(Parameters{SOC: 62, DCPower: 0, ACSource: 1})
	require.Equal(t, StateOff, o.State())

	o.Update(Parameters{SOC: 64, DCPower: 0, ACSource: 1})
	require.Equal(t, StateOn, o.State())

	// dropping back inside the band keeps the relay closed
	o.Update(Parameters{SOC: 61, DCPower: 0, ACSource: 1})
	assert.Equal(t, StateOn, o.State())

	// at 58 the stay check fails and the change-to-Off check fires
	o.Update(Parameters{SOC: 58, DCPower: 0, ACSource: 1})
	assert.Equal(t, StateOff, o.State())

	assert.Equal(t, []bool{false, true, false}, recorder.commands)
}

func TestHighPowerKeepsRelayClosedBelowMinSOC(t *testing.T) {
	// while discharging hard with SOC above MaxDCPowerSOC the relay stays
	// closed even when SOC falls below MinSOC
	o, _ := newTestOverride(t, venusSettings())

	for i := 0; i < 3; i++ {
		o.Update(Parameters{SOC: 65, DCPower: 900, ACSource: 1})
	}
	require.Equal(t, StateOn, o.State())

	o.Update(Parameters{SOC: 55, DCPower: 900, ACSource: 1})
	assert.Equal(t, StateOn, o.State())

	// below MaxDCPowerSOC the power clause no longer carries it
	o.Update(Parameters{SOC: 45, DCPower: 900, ACSource: 1})
	assert.Equal(t, StateOff, o.State())
}

func TestGuardCoverage(t *testing.T) {
	// sweep the hysteresis band in both states: apart from the intended
	// AC-In veto hold, the guards must be exhaustive complements
	assert.Nil(t, FindGuardGap(venusSettings()))

	s := venusSettings()
	s.SOCHysteresis = 0
	s.DCPowerHysteresis = 0
	assert.Nil(t, FindGuardGap(s))
}
