package service

import (
	"errors"
	"fmt"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/port"

	"go.uber.org/zap"
)

// ErrInvalidSettings is returned when the override engine is constructed with
// settings it cannot operate on. The engine is unusable after this error.
var ErrInvalidSettings = errors.New("invalid override settings")

// Settings are the immutable thresholds of the override engine.
//
// MaxDCPower / MaxDCPowerSOC describe the "high discharge" condition: with the
// smoothed DC power beyond MaxDCPower and SOC above MaxDCPowerSOC the relay
// may stay closed even below MinSOC. The hysteresis values widen every
// threshold when evaluating a state change, never when confirming the current
// state. InvertingSourceCode is the AC source value reported while the AC
// input is lost and the system runs inverted; while inverting, a closed relay
// is never admitted from the open state.
type Settings struct {
	MaxDCPower          float64
	MaxDCPowerSOC       float64
	DCPowerPeriodCount  int
	MinSOC              float64
	SOCHysteresis       float64
	DCPowerHysteresis   float64
	InvertingSourceCode int
}

// Parameters is the current measurement snapshot. It is replaced wholesale on
// every update; callers carry unchanged fields forward from the last snapshot.
type Parameters struct {
	SOC      float64
	DCPower  float64
	ACSource int
}

type RelayState int

const (
	StateOff RelayState = iota
	StateOn
)

func (s RelayState) String() string {
	if s == StateOn {
		return "on"
	}
	return "off"
}

// Override decides on every measurement update whether the AC-Out2 relay
// should be closed. Two states, Off (relay open, initial) and On (relay
// closed); the transition guards combine a rolling mean over DC power with
// hysteresis-adjusted threshold comparisons that differ between "stay" and
// "change" evaluations. Not safe for concurrent use: updates must arrive
// serialized from a single owner, and the relay actuator must not call back
// into Update.
type Override struct {
	settings Settings
	params   Parameters
	power    *RollingMean
	state    RelayState
	relay    port.RelayActuator
	logger   *zap.Logger
}

func NewOverride(settings Settings, relay port.RelayActuator, logger *zap.Logger) (*Override, error) {
	if settings.SOCHysteresis < 0 || settings.DCPowerHysteresis < 0 {
		return nil, fmt.Errorf("%w: hysteresis values must be >= 0", ErrInvalidSettings)
	}
	power, err := NewRollingMean(settings.DCPowerPeriodCount, PowerSentinel)
	if err != nil {
		return nil, err
	}
	o := &Override{
		settings: settings,
		params:   Parameters{SOC: 0, DCPower: 0, ACSource: 1},
		power:    power,
		state:    StateOff,
		relay:    relay,
		logger:   logger,
	}
	if gap := FindGuardGap(settings); gap != nil {
		o.logger.Warn("override guard coverage gap: neither guard fires for some inputs, engine will hold state there",
			zap.Float64("soc", gap.SOC), zap.Float64("avg_power", gap.DCPower), zap.Int("ac_source", gap.ACSource))
	}
	// ensure we are off to start
	o.toggleRelay(false)
	return o, nil
}

func (o *Override) CurrentParameters() Parameters {
	return o.params
}

func (o *Override) State() RelayState {
	return o.state
}

// AveragePower is the current smoothed DC power the guards evaluate against.
func (o *Override) AveragePower() float64 {
	return o.power.Mean()
}

// Update replaces the parameter snapshot, pushes the DC power sample into the
// rolling window and evaluates the transition policy exactly once. The relay
// actuator is invoked only when the evaluation lands on a different state.
func (o *Override) Update(params Parameters) {
	o.params = params
	o.power.Push(params.DCPower)
	o.poll()
}

func (o *Override) poll() {
	prev := o.state
	target := prev
	avg := o.power.Mean()
	// "can be on" wins over "can be off"; if neither fires, hold state
	switch {
	case canBeOn(o.settings, prev, avg, o.params):
		target = StateOn
	case canBeOff(o.settings, prev, avg, o.params):
		target = StateOff
	}
	o.state = target
	if target != prev {
		o.toggleRelay(target == StateOn)
	}
}

func (o *Override) toggleRelay(closed bool) {
	if closed {
		o.logger.Info("toggle Venus relay to closed",
			zap.Float64("soc", o.params.SOC), zap.Int("ac_source", o.params.ACSource),
			zap.Float64("avg_dc_power", o.power.Mean()))
	} else {
		o.logger.Info("toggle Venus relay to open",
			zap.Float64("soc", o.params.SOC), zap.Int("ac_source", o.params.ACSource),
			zap.Float64("avg_dc_power", o.power.Mean()))
	}
	o.relay.SetRelayState(closed)
}

// canBeOn evaluates the On guard. Confirming On applies no hysteresis;
// switching Off->On widens every threshold by its hysteresis and is vetoed
// outright while the AC input is lost.
func canBeOn(s Settings, current RelayState, avgPower float64, p Parameters) bool {
	if current == StateOn {
		if avgPower > s.MaxDCPower && p.SOC > s.MaxDCPowerSOC {
			return true
		}
		return p.SOC > s.MinSOC
	}
	// no AC-In, don't turn on if we weren't on already
	if p.ACSource == s.InvertingSourceCode {
		return false
	}
	if avgPower > s.MaxDCPower+s.DCPowerHysteresis && p.SOC > s.MaxDCPowerSOC+s.SOCHysteresis {
		return true
	}
	return p.SOC > s.MinSOC+s.SOCHysteresis
}

// canBeOff mirrors canBeOn: confirming Off applies hysteresis, switching
// On->Off does not. There is no AC source veto on the way off.
func canBeOff(s Settings, current RelayState, avgPower float64, p Parameters) bool {
	if current == StateOff {
		if avgPower <= s.MaxDCPower+s.DCPowerHysteresis || p.SOC <= s.MaxDCPowerSOC+s.SOCHysteresis {
			return true
		}
		return p.SOC <= s.MinSOC+s.SOCHysteresis
	}
	if avgPower <= s.MaxDCPower || p.SOC <= s.MaxDCPowerSOC {
		return true
	}
	return p.SOC <= s.MinSOC
}

// FindGuardGap sweeps the hysteresis band in both states looking for an input
// where neither guard fires. A non-nil result is not an error: the engine
// holds its current state there, but the gap is worth a warning because it
// means some measurement combination leaves the relay wherever it happens to
// be. The known gap is inverting + high discharge + high SOC in the Off
// state, where the AC-In veto blocks On and the Off "stay" guard declines.
func FindGuardGap(s Settings) *Parameters {
	socProbes := sweepProbes(s.MinSOC, s.SOCHysteresis)
	socProbes = append(socProbes, sweepProbes(s.MaxDCPowerSOC, s.SOCHysteresis)...)
	powerProbes := sweepProbes(s.MaxDCPower, s.DCPowerHysteresis)
	sources := []int{s.InvertingSourceCode, s.InvertingSourceCode + 1}

	for _, state := range []RelayState{StateOff, StateOn} {
		for _, src := range sources {
			for _, soc := range socProbes {
				for _, avg := range powerProbes {
					p := Parameters{SOC: soc, DCPower: avg, ACSource: src}
					if !canBeOn(s, state, avg, p) && !canBeOff(s, state, avg, p) {
						// the AC-In veto hold in the Off state is intended behaviour
						if state == StateOff && src == s.InvertingSourceCode {
							continue
						}
						return &p
					}
				}
			}
		}
	}
	return nil
}

// sweepProbes returns values just below, on and just above a threshold and
// its hysteresis-shifted counterpart.
func sweepProbes(threshold, hysteresis float64) []float64 {
	const eps = 0.001
	return []float64{
		threshold - eps, threshold, threshold + eps,
		threshold + hysteresis - eps, threshold + hysteresis, threshold + hysteresis + eps,
	}
}
