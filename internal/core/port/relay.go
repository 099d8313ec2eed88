package port

// RelayActuator receives relay commands from the override engine.
// true = relay closed (AC-Out2 powered), false = relay open.
type RelayActuator interface {
	SetRelayState(closed bool)
}

// RelayCommandFunc adapts a plain function to the RelayActuator port.
type RelayCommandFunc func(closed bool)

func (f RelayCommandFunc) SetRelayState(closed bool) {
	f(closed)
}
