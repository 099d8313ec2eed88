package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

// Venus OS dbus-mqtt paths under com.victronenergy.system. The bridge follows
// the three measurement paths and writes the relay path.
const (
	PATH_BATTERY_SOC      = "Dc/Battery/Soc"
	PATH_BATTERY_DC_POWER = "Dc/Battery/Power"
	PATH_AC_ACTIVE_SOURCE = "Ac/ActiveIn/Source"
	PATH_RELAY_STATE      = "Relay/0/State"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("acout2_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:             mqtt.NewClient(opts),
		cfg:                cfg.MQTT,
		notificationRegexp: notificationPathExtractor(cfg.MQTT.PortalId),
	}
}

type MQTTClient struct {
	client             mqtt.Client
	cfg                config.MQTTConfig
	notificationRegexp *regexp.Regexp
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

// NotificationTopic is where dbus-mqtt publishes value changes for a system
// service path.
func (c *MQTTClient) NotificationTopic(path string) string {
	return fmt.Sprintf("N/%s/system/0/%s", c.cfg.PortalId, path)
}

// WriteTopic is the request topic to set a system service path value.
func (c *MQTTClient) WriteTopic(path string) string {
	return fmt.Sprintf("W/%s/system/0/%s", c.cfg.PortalId, path)
}

// ReadTopic requests an immediate value publication for a path.
func (c *MQTTClient) ReadTopic(path string) string {
	return fmt.Sprintf("R/%s/system/0/%s", c.cfg.PortalId, path)
}

// KeepaliveTopic must be published to periodically or dbus-mqtt stops
// forwarding notifications after about a minute.
func (c *MQTTClient) KeepaliveTopic() string {
	return fmt.Sprintf("R/%s/keepalive", c.cfg.PortalId)
}

func (c *MQTTClient) NotificationWildcardTopic() string {
	return fmt.Sprintf("N/%s/system/0/#", c.cfg.PortalId)
}

// ParseNotificationPath extracts the dbus path from a notification topic.
func (c *MQTTClient) ParseNotificationPath(topic string) (string, error) {
	matches := c.notificationRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return "", errors.New("not a system notification topic")
	}
	return matches[0][1], nil
}

type valuePayload struct {
	Value *json.Number `json:"value"`
}

// ParseFloatValue decodes a dbus-mqtt value payload. A missing or null value
// means the path is currently invalid on the bus.
func ParseFloatValue(payload []byte) (float64, error) {
	var msg valuePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, err
	}
	if msg.Value == nil {
		return 0, errors.New("value is null")
	}
	return msg.Value.Float64()
}

func ParseIntValue(payload []byte) (int, error) {
	var msg valuePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, err
	}
	if msg.Value == nil {
		return 0, errors.New("value is null")
	}
	v, err := msg.Value.Int64()
	if err != nil {
		// some firmwares publish integers as floats
		f, ferr := msg.Value.Float64()
		if ferr != nil {
			return 0, err
		}
		return int(f), nil
	}
	return int(v), nil
}

// EncodeWriteValue builds the payload for a W/ topic.
func EncodeWriteValue(value any) (string, error) {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT unsubscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func notificationPathExtractor(portalId string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^N/%s/system/0/(.+)$", regexp.QuoteMeta(portalId)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
