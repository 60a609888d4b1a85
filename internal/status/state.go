package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rikseotools/vence-sub014/internal/bus"
)

// State represents an agent runtime state.
type State string

const (
	Booting          State = "BOOTING"
	AuthRequired     State = "AUTH_REQUIRED"
	CodeSent         State = "CODE_SENT"
	AwaitingPassword State = "AWAITING_PASSWORD"
	Connecting       State = "CONNECTING"
	Authenticated    State = "AUTHENTICATED"
	Monitoring       State = "MONITORING"
	Reconnecting     State = "RECONNECTING"
	Error            State = "ERROR"
)

// validTransitions defines allowed state transitions. The auth path is
// AUTH_REQUIRED → CODE_SENT → (AUTHENTICATED | AWAITING_PASSWORD) →
// AUTHENTICATED; a stored session skips it via CONNECTING.
var validTransitions = map[State][]State{
	Booting:          {Connecting, AuthRequired, Error},
	AuthRequired:     {CodeSent, Connecting, Error},
	CodeSent:         {AwaitingPassword, Authenticated, AuthRequired, Error},
	AwaitingPassword: {Authenticated, AuthRequired, Error},
	Connecting:       {Authenticated, AuthRequired, Reconnecting, Error},
	Authenticated:    {Monitoring, Reconnecting, AuthRequired, Error},
	Monitoring:       {Authenticated, Reconnecting, AuthRequired, Error},
	Reconnecting:     {Connecting, AuthRequired, Error},
	Error:            {Booting},
}

// Machine tracks and enforces agent runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
