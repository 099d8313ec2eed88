package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/mqtt"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// VenusMQTTActor bridges the Venus OS dbus-mqtt service. It follows the
// battery and AC source paths of com.victronenergy.system, forwards parsed
// values to its parent and writes the relay path on request. dbus-mqtt only
// keeps publishing while a keepalive arrives periodically, so a scheduled job
// feeds one for as long as the actor is subscribed.
type VenusMQTTActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	client    *mqtt.MQTTClient
	scheduler quartz.Scheduler
	logger    *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Closed  bool
	Error   error
}

type keepaliveTick struct {
}

func NewVenusMQTTActor(config *config.Config, logger *zap.Logger) *VenusMQTTActor {
	act := &VenusMQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *VenusMQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VenusMQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to the system notification topics
		state.client.Subscribe(state.client.NotificationWildcardTopic(), 0, func(c pahomqtt.Client, m pahomqtt.Message) {
			update, err := state.parseNotification(m)
			if err == nil && update != nil {
				ctx.Send(ctx.Self(), update)
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.startKeepalive(ctx)
		state.requestInitialValues()
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusMQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "subscribed",
		})
	case domain.BatterySOCUpdate:
		// route measurement to parent
		ctx.Send(ctx.Parent(), msg)
	case domain.BatteryDCPowerUpdate:
		ctx.Send(ctx.Parent(), msg)
	case domain.ACSourceUpdate:
		ctx.Send(ctx.Parent(), msg)
	case keepaliveTick:
		state.logger.Debug("mqtt@default keepalive")
		state.client.Publish(state.client.KeepaliveTopic(), "", 0, false, func(error) {}, 500*time.Millisecond)
	case domain.SetRelayStateRequest:
		state.logger.Debug("mqtt@default SetRelayStateRequest", zap.Bool("closed", msg.Closed))
		state.writeRelayState(ctx, msg.Closed, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.Any("message", msg))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		// receive message from event bus and publish to MQTT if needed
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// parseNotification maps a dbus-mqtt value notification to a measurement
// message. Runs on the paho callback goroutine, so it must not touch actor
// state beyond the immutable client.
func (state *VenusMQTTActor) parseNotification(m pahomqtt.Message) (any, error) {
	path, err := state.client.ParseNotificationPath(m.Topic())
	if err != nil {
		return nil, err
	}
	switch path {
	case mqtt.PATH_BATTERY_SOC:
		value, err := mqtt.ParseFloatValue(m.Payload())
		if err != nil {
			return nil, err
		}
		return domain.BatterySOCUpdate{SOC: value}, nil
	case mqtt.PATH_BATTERY_DC_POWER:
		value, err := mqtt.ParseFloatValue(m.Payload())
		if err != nil {
			return nil, err
		}
		return domain.BatteryDCPowerUpdate{DCPower: value}, nil
	case mqtt.PATH_AC_ACTIVE_SOURCE:
		value, err := mqtt.ParseIntValue(m.Payload())
		if err != nil {
			return nil, err
		}
		return domain.ACSourceUpdate{Source: value}, nil
	default:
		return nil, nil
	}
}

// requestInitialValues asks dbus-mqtt to republish the followed paths so the
// decision engine does not have to wait for the next natural change.
func (state *VenusMQTTActor) requestInitialValues() {
	for _, path := range []string{mqtt.PATH_BATTERY_SOC, mqtt.PATH_BATTERY_DC_POWER, mqtt.PATH_AC_ACTIVE_SOURCE} {
		state.client.Publish(state.client.ReadTopic(path), "", 0, false, func(error) {}, 500*time.Millisecond)
	}
}

func (state *VenusMQTTActor) startKeepalive(ctx actor.Context) {
	interval := time.Duration(state.config.MQTT.KeepaliveIntervalSecs) * time.Second
	if interval <= 0 {
		return
	}
	root := ctx.ActorSystem().Root
	self := ctx.Self()

	state.scheduler = quartz.NewStdScheduler()
	state.scheduler.Start(context.Background())
	tickJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(self, keepaliveTick{})
		return true, nil
	})
	err := state.scheduler.ScheduleJob(quartz.NewJobDetail(tickJob, quartz.NewJobKey("mqtt_keepalive")),
		quartz.NewSimpleTrigger(interval))
	if err != nil {
		state.logger.Error("mqtt: could not schedule keepalive", zap.Error(err))
	}
	// send the first keepalive right away
	root.Send(self, keepaliveTick{})
}

func (state *VenusMQTTActor) writeRelayState(ctx actor.Context, closed bool, replyTo *actor.PID) {
	value := 0
	if closed {
		value = 1
	}
	payload, err := mqtt.EncodeWriteValue(value)
	if err != nil {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Closed: closed, Error: err})
	} else {
		state.client.Publish(state.client.WriteTopic(mqtt.PATH_RELAY_STATE), payload, 1, false, func(err error) {
			ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Closed: closed, Error: err})
		}, 5*time.Second)
	}
	state.behavior.BecomeStacked(state.RelayPublishResultReceive)
}

func (state *VenusMQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
		}
	default:
		return nil
	}
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func (state *VenusMQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool) {
	msg := state.event2MQTTMessage(event)
	if msg != nil {
		state.logger.Sugar().Debugf("mqtt@publish: sensor publish %s => %s", msg.topic, msg.message)
		state.client.Publish(msg.topic, msg.message, 1, msg.retain || retain, func(err error) {
			ctx.Send(ctx.Self(), publishResult{Error: err})
		}, 5*time.Second)
		state.behavior.BecomeStacked(state.EventPublishResultReceive)
	}
}

func (state *VenusMQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *VenusMQTTActor) RelayPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not write relay state", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.SetRelayStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
				Closed: msg.Closed,
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusMQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusMQTTActor) EventPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishSensorUpdateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VenusMQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.scheduler != nil {
		state.scheduler.Stop()
		state.scheduler = nil
	}
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}

// Dummy actor
func NewTestVenusMQTTActor(config *config.Config, logger *zap.Logger) *VenusMQTTActor {
	act := &VenusMQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *VenusMQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "subscribed",
		})
	case domain.SetRelayStateRequest:
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.SetRelayStateResponse{Closed: msg.Closed})
		} else if ctx.Sender() != nil {
			ctx.Respond(domain.SetRelayStateResponse{Closed: msg.Closed})
		}
	case domain.PublishSensorUpdateRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishMessageRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishMessageResponse{})
		}
	}
}
