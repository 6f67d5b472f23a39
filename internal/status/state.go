package status

import (
	"fmt"
	"slices"

	"github.com/matheus3301/wppcrm/internal/bus"
)

// State is the connection state of the messaging session.
type State string

const (
	Disconnected    State = "DISCONNECTED"
	Connecting      State = "CONNECTING"
	AwaitingPairing State = "AWAITING_PAIRING"
	Connected       State = "CONNECTED"
	Error           State = "ERROR"
)

// validTransitions defines allowed state transitions. AwaitingPairing may
// re-enter itself when the pairing code rotates.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting, Error},
	Connecting:      {AwaitingPairing, Connected, Disconnected, Error},
	AwaitingPairing: {AwaitingPairing, Connected, Disconnected, Error},
	Connected:       {Disconnected, Error},
	Error:           {Connecting, Disconnected},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// Status is the externally visible connection status.
type Status struct {
	State     State  `json:"state"`
	QRImage   string `json:"qrImage,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// Machine holds the single Status of the process and publishes every change
// on the bus. It does no locking of its own: the owner serializes access.
type Machine struct {
	current Status
	bus     *bus.Bus
}

// NewMachine creates a machine in the Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Status{State: Disconnected},
		bus:     b,
	}
}

// Current returns a copy of the current status.
func (m *Machine) Current() Status {
	return m.current
}

// State returns the current state.
func (m *Machine) State() State {
	return m.current.State
}

// Transition moves to a new state. Leaving AwaitingPairing drops the QR
// image and reaching Connected clears the last error.
func (m *Machine) Transition(to State) error {
	from := m.current.State
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current.State = to
	if to != AwaitingPairing {
		m.current.QRImage = ""
	}
	if to == Connected {
		m.current.LastError = ""
	}
	m.publish()
	return nil
}

// ShowPairing enters AwaitingPairing with the given QR image. Calling it
// again while already awaiting pairing replaces the image.
func (m *Machine) ShowPairing(qrImage string) error {
	if !CanTransition(m.current.State, AwaitingPairing) {
		return fmt.Errorf("invalid transition from %s to %s", m.current.State, AwaitingPairing)
	}
	m.current.State = AwaitingPairing
	m.current.QRImage = qrImage
	m.publish()
	return nil
}

// Fail forces the Error state from anywhere and records err.
func (m *Machine) Fail(err error) {
	m.current = Status{State: Error}
	if err != nil {
		m.current.LastError = err.Error()
	}
	m.publish()
}

// Reset forces the Disconnected state from anywhere. A non-empty reason is
// kept as the last error; the QR image is always cleared.
func (m *Machine) Reset(reason string) {
	m.current = Status{State: Disconnected, LastError: reason}
	m.publish()
}

func (m *Machine) publish() {
	if m.bus != nil {
		m.bus.Emit(bus.KindStatus, m.current)
	}
}
