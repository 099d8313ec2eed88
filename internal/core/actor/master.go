package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/rsmithsa/venus-acout2-relay-control/internal/adapter/actor"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/events"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/metrics"
	. "github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func() *adactor.VenusMQTTActor

type ModbusActorProvider func() *adactor.VenusModbusActor

// MasterControlActor supervises the monitor adapter (MQTT bridge or Modbus
// poller, per configuration) and the relay override actor, routes measurement
// updates between them and aggregates health checks.
type MasterControlActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	metrics             *metrics.Metrics
	monitorActor        *actor.PID
	overrideActor       *actor.PID
	mqttActorProvider   MQTTActorProvider
	modbusActorProvider ModbusActorProvider
	eventStreamSub      *eventstream.Subscription
	logger              *zap.Logger
}

type healthCheckResult struct {
	monitorActorHealthy  bool
	overrideActorHealthy bool
	checksReceived       int
	respondTo            *actor.PID
}

type onEventStreamMessage struct {
	message any
}

func NewMasterControlActor(config config.Config, mqttActorProvider MQTTActorProvider,
	modbusActorProvider ModbusActorProvider, metrics *metrics.Metrics, logger *zap.Logger) *MasterControlActor {
	act := &MasterControlActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		metrics:             metrics,
		mqttActorProvider:   mqttActorProvider,
		modbusActorProvider: modbusActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterControlActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterControlActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start monitor child
		monitorActorPID, err := state.startMonitorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.monitorActor = monitorActorPID

		// start relay override child
		overrideActorPID, err := state.startOverrideActor(ctx)
		if err != nil {
			panic(err)
		}
		state.overrideActor = overrideActorPID

		// with an MQTT monitor, mirror sensor events back to the broker.
		// the subscription callback may fire outside the actor goroutine,
		// so route through the root context
		if state.config.MonitorConfig.Source == config.MonitorSourceMQTT {
			root := ctx.ActorSystem().Root
			self := ctx.Self()
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				root.Send(self, onEventStreamMessage{message: value})
			})
			// announce the daemon version, retained
			if ev, ok := events.VersionToUpdateEvent().(domain.SensorUpdateEvent); ok {
				ctx.Send(state.monitorActor, domain.PublishSensorUpdateRequest{Retain: true, Event: ev})
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterControlActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.BatterySOCUpdate:
		ctx.Send(state.overrideActor, msg)
	case domain.BatteryDCPowerUpdate:
		ctx.Send(state.overrideActor, msg)
	case domain.ACSourceUpdate:
		ctx.Send(state.overrideActor, msg)
	case onEventStreamMessage:
		if ev, ok := msg.message.(domain.SensorUpdateEvent); ok {
			ctx.Send(state.monitorActor, domain.PublishSensorUpdateRequest{Event: ev})
		}
	case domain.GetStatusRequest:
		state.logger.Debug("master@default GetStatusRequest")
		ctx.Forward(state.overrideActor)
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Monitor Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.monitorActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      state.monitorActorId(),
				Healthy: false,
			}
		})
		// Override Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.overrideActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_OVERRIDE,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case *actor.Terminated:
		// if the monitor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, state.monitorActorId()) {
			state.logger.Error("master@default monitor terminated")
			panic(errors.New("monitor terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterControlActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == state.monitorActorId() {
				state.currentHealthCheck.monitorActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_OVERRIDE {
				state.currentHealthCheck.overrideActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterControlActor) startMonitorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	var producer actor.Producer
	switch state.config.MonitorConfig.Source {
	case config.MonitorSourceModbus:
		producer = func() actor.Actor {
			return state.modbusActorProvider()
		}
	default:
		producer = func() actor.Actor {
			return state.mqttActorProvider()
		}
	}

	monitorProps := actor.PropsFromProducer(producer, actor.WithSupervisor(supervisor))
	monitorActorPID, err := ctx.SpawnNamed(monitorProps, state.monitorActorId())
	if err != nil {
		return nil, err
	}

	return monitorActorPID, nil
}

func (state *MasterControlActor) startOverrideActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	overrideProps := actor.PropsFromProducer(func() actor.Actor {
		return NewRelayOverrideActor(&state.config, state.monitorActor, state.eventStream, state.metrics, state.logger)
	}, actor.WithSupervisor(supervisor))
	overridePID, err := ctx.SpawnNamed(overrideProps, domain.ACTOR_ID_OVERRIDE)
	if err != nil {
		return nil, err
	}

	return overridePID, nil
}

func (state *MasterControlActor) monitorActorId() string {
	if state.config.MonitorConfig.Source == config.MonitorSourceModbus {
		return domain.ACTOR_ID_MODBUS
	}
	return domain.ACTOR_ID_MQTT
}

func (state *healthCheckResult) reset() {
	state.monitorActorHealthy = false
	state.overrideActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 2
}

func (state *healthCheckResult) allHealthy() bool {
	return state.monitorActorHealthy && state.overrideActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
