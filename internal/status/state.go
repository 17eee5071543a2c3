package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/lobbybee/frontdesk/internal/bus"
)

// State is the lifecycle state of the chat socket.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Closing      State = "CLOSING"
	Error        State = "ERROR"
)

// There is no transition out of Error other than a fresh Connecting attempt:
// reconnection is always caller driven.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected, Error},
	Connected:    {Closing, Disconnected, Error},
	Closing:      {Disconnected, Error},
	Error:        {Connecting, Disconnected},
}

// Machine tracks and enforces socket state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the socket is open.
func (m *Machine) IsConnected() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindTransportStatus, StatusChange{From: from, To: to})
	return nil
}

// CompareAndTransition moves to `to` only when the current state is `from`.
// It reports whether the transition happened.
func (m *Machine) CompareAndTransition(from, to State) bool {
	m.mu.Lock()
	if m.current != from || !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return false
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindTransportStatus, StatusChange{From: from, To: to})
	return true
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
