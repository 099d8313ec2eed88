package domain

const (
	ACTOR_ID_MASTER   = "master"
	ACTOR_ID_MQTT     = "mqtt"
	ACTOR_ID_MODBUS   = "modbus"
	ACTOR_ID_OVERRIDE = "relay_override"
)

// Measurement updates flow from the monitor adapter (MQTT or Modbus) through
// the master to the override actor. Each message carries a single changed
// value; the override actor merges it into its last known snapshot.

type BatterySOCUpdate struct {
	SOC float64
}

type BatteryDCPowerUpdate struct {
	DCPower float64
}

type ACSourceUpdate struct {
	Source int
}

// SetRelayStateRequest commands the Venus relay. Closed = true powers the
// AC-Out2 circuit.
type SetRelayStateRequest struct {
	ActorRequestMixIn
	Closed bool
}

type SetRelayStateResponse struct {
	ActorResponseMixIn
	Closed bool
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type GetStatusRequest struct {
	ActorRequestMixIn
}

type GetStatusResponse struct {
	ActorResponseMixIn
	RelayState     string
	Loadshedding   bool
	BatterySOC     float64
	BatteryDCPower float64
	AverageDCPower float64
	ACSource       int
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
