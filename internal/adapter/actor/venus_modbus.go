package actor

import (
	"fmt"
	"time"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"
	"github.com/rsmithsa/venus-acout2-relay-control/pkg/venus_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// VenusModbusActor polls the Venus system unit over Modbus TCP. Unlike the
// MQTT bridge there are no change notifications, so it samples on a timer and
// forwards only the values that actually changed since the last poll.
type VenusModbusActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	reader    venus_modbus.SystemReader
	scheduler *scheduler.TimerScheduler
	last      *measurementSnapshot
	logger    *zap.Logger
}

type measurementSnapshot struct {
	SOC      float64
	DCPower  float64
	ACSource int
	Err      error
}

type modbusPollTick struct {
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewVenusModbusActor(config *config.Config, reader venus_modbus.SystemReader, logger *zap.Logger) *VenusModbusActor {
	act := &VenusModbusActor{
		config:   config,
		reader:   reader,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *VenusModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VenusModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started")
		if err := state.reader.Open(); err != nil {
			panic(err)
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), modbusPollTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.reader.Close()
	default:
		state.logger.Debug("modbus@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   "polling",
		})
	case modbusPollTick:
		state.logger.Debug("modbus@default tick")
		self := ctx.Self()
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readSnapshot),
			mapTaskResult[measurementSnapshot](self)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: measurementSnapshot{Err: err},
				replyTo: self,
			}
		}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())

		// schedule next tick
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), modbusPollTick{})
		state.behavior.BecomeStacked(state.WaitingModbus)
	case measurementSnapshot:
		if msg.Err != nil {
			state.logger.Error("modbus@default poll failed", zap.Error(msg.Err))
			return
		}
		state.forwardChanges(ctx, msg)
	case domain.SetRelayStateRequest:
		state.logger.Debug("modbus@default SetRelayStateRequest", zap.Bool("closed", msg.Closed))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		closed := msg.Closed
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.SetRelayStateResponse, error) {
			if err := state.reader.SetRelayState(closed); err != nil {
				return nil, err
			}
			return &domain.SetRelayStateResponse{Closed: closed}, nil
		}), mapTaskResult[domain.SetRelayStateResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.SetRelayStateResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Closed: closed,
				},
				replyTo: sender,
			}
		}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case *actor.Stopping:
		state.reader.Close()
	default:
		state.logger.Debug("modbus@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *VenusModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("modbus@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.reader.Close()
	default:
		state.logger.Debug("modbus@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusModbusActor) readSnapshot() (*measurementSnapshot, error) {
	soc, err := state.reader.GetBatterySOC()
	if err != nil {
		return nil, err
	}
	dcPower, err := state.reader.GetBatteryDCPower()
	if err != nil {
		return nil, err
	}
	acSource, err := state.reader.GetACActiveSource()
	if err != nil {
		return nil, err
	}
	return &measurementSnapshot{
		SOC:      soc,
		DCPower:  dcPower,
		ACSource: acSource,
	}, nil
}

// forwardChanges sends one message per changed value, like the MQTT bridge
// notifications. The first snapshot forwards everything.
func (state *VenusModbusActor) forwardChanges(ctx actor.Context, snapshot measurementSnapshot) {
	last := state.last
	if last == nil || last.SOC != snapshot.SOC {
		ctx.Send(ctx.Parent(), domain.BatterySOCUpdate{SOC: snapshot.SOC})
	}
	if last == nil || last.DCPower != snapshot.DCPower {
		ctx.Send(ctx.Parent(), domain.BatteryDCPowerUpdate{DCPower: snapshot.DCPower})
	}
	if last == nil || last.ACSource != snapshot.ACSource {
		ctx.Send(ctx.Parent(), domain.ACSourceUpdate{Source: snapshot.ACSource})
	}
	state.last = &snapshot
}

func (state *VenusModbusActor) pollInterval() time.Duration {
	return time.Duration(state.config.Modbus.PollIntervalMillis) * time.Millisecond
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
