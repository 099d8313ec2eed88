package actor

import (
	"fmt"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/events"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/port"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/service"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/metrics"
	. "github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// RelayOverrideActor hosts the relay decision engine. Measurement updates
// arrive from the monitor adapter through the master; every relay command the
// engine emits goes to the actuator adapter as a SetRelayStateRequest. The
// engine itself stays synchronous and single-owner inside this actor.
type RelayOverrideActor struct {
	behavior actor.Behavior
	stash    *Stash

	config        *config.Config
	actuatorActor *actor.PID
	eventStream   *eventstream.EventStream
	metrics       *metrics.Metrics
	engine        *service.Override

	logger *zap.Logger
}

func NewRelayOverrideActor(config *config.Config, actuatorActor *actor.PID, eventStream *eventstream.EventStream,
	metrics *metrics.Metrics, logger *zap.Logger) *RelayOverrideActor {
	act := &RelayOverrideActor{
		config:        config,
		actuatorActor: actuatorActor,
		eventStream:   eventStream,
		metrics:       metrics,
		behavior:      actor.NewBehavior(),
		stash:         &Stash{},
		logger:        ActorLogger(domain.ACTOR_ID_OVERRIDE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *RelayOverrideActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *RelayOverrideActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("override@starting started")

		engine, err := service.NewOverride(overrideSettings(state.config), port.RelayCommandFunc(func(closed bool) {
			state.commandRelay(ctx, closed)
		}), state.logger)
		if err != nil {
			panic(err)
		}
		state.engine = engine

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("override@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *RelayOverrideActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.BatterySOCUpdate:
		state.logger.Debug("override@default BatterySOCUpdate", zap.Float64("soc", msg.SOC))
		params := state.engine.CurrentParameters()
		params.SOC = msg.SOC
		state.applyUpdate(params)
	case domain.BatteryDCPowerUpdate:
		state.logger.Debug("override@default BatteryDCPowerUpdate", zap.Float64("dc_power", msg.DCPower))
		params := state.engine.CurrentParameters()
		params.DCPower = msg.DCPower
		state.applyUpdate(params)
	case domain.ACSourceUpdate:
		state.logger.Debug("override@default ACSourceUpdate", zap.Int("source", msg.Source))
		params := state.engine.CurrentParameters()
		params.ACSource = msg.Source
		loadshedding := msg.Source == state.config.OverrideConfig.InvertingSourceCode
		state.metrics.SetLoadshedding(loadshedding)
		for _, ev := range events.LoadsheddingToUpdateEvents(msg.Source, state.config.OverrideConfig.InvertingSourceCode) {
			state.eventStream.Publish(ev)
		}
		state.applyUpdate(params)
	case domain.SetRelayStateResponse:
		if msg.HasResponseError() {
			state.logger.Error("override@default relay write failed", zap.Error(msg.GetResponseError()))
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("override@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_OVERRIDE,
			Healthy: true,
			State:   state.engine.State().String(),
		})
	case domain.GetStatusRequest:
		state.logger.Debug("override@default GetStatusRequest")
		params := state.engine.CurrentParameters()
		ForRequest(msg).Respond(ctx, domain.GetStatusResponse{
			RelayState:     state.engine.State().String(),
			Loadshedding:   params.ACSource == state.config.OverrideConfig.InvertingSourceCode,
			BatterySOC:     params.SOC,
			BatteryDCPower: params.DCPower,
			AverageDCPower: state.engine.AveragePower(),
			ACSource:       params.ACSource,
		})
	case *actor.Stopping:
		// leave the relay open on the way out, whatever state we were in
		state.logger.Info("override: stopping, forcing relay open")
		ctx.Send(state.actuatorActor, domain.SetRelayStateRequest{Closed: false})
	default:
		state.logger.Debug("override@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *RelayOverrideActor) applyUpdate(params service.Parameters) {
	state.engine.Update(params)
	state.metrics.SetBatteryState(params.SOC, params.DCPower, state.engine.AveragePower())
	for _, ev := range events.ParametersToUpdateEvents(params, state.engine.AveragePower()) {
		state.eventStream.Publish(ev)
	}
}

// commandRelay is the engine's relay callback. It runs inside this actor's
// message handling, including once during engine construction.
func (state *RelayOverrideActor) commandRelay(ctx actor.Context, closed bool) {
	ctx.Request(state.actuatorActor, domain.SetRelayStateRequest{
		ActorRequestMixIn: domain.ActorRequestMixIn{
			ReplyToRef: (*domain.ActorRef)(ctx.Self()),
		},
		Closed: closed,
	})
	state.metrics.SetRelayState(closed)
	for _, ev := range events.RelayStateToUpdateEvents(stateFromClosed(closed)) {
		state.eventStream.Publish(ev)
	}
}

func stateFromClosed(closed bool) service.RelayState {
	if closed {
		return service.StateOn
	}
	return service.StateOff
}

func overrideSettings(cfg *config.Config) service.Settings {
	return service.Settings{
		MaxDCPower:          cfg.OverrideConfig.MaxDCPower,
		MaxDCPowerSOC:       cfg.OverrideConfig.MaxDCPowerSOC,
		DCPowerPeriodCount:  cfg.OverrideConfig.DCPowerPeriodCount,
		MinSOC:              cfg.OverrideConfig.MinSOC,
		SOCHysteresis:       cfg.OverrideConfig.SOCHysteresis,
		DCPowerHysteresis:   cfg.OverrideConfig.DCPowerHysteresis,
		InvertingSourceCode: cfg.OverrideConfig.InvertingSourceCode,
	}
}
