package status

import (
	"testing"

	"github.com/rikseotools/vence-sub014/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Connecting},
		{Booting, Error},
		{AuthRequired, CodeSent},
		{CodeSent, Authenticated},
		{CodeSent, AwaitingPassword},
		{AwaitingPassword, Authenticated},
		{Authenticated, Monitoring},
		{Monitoring, Authenticated},
		{Monitoring, Reconnecting},
		{Reconnecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Monitoring); err == nil {
		t.Error("Transition(BOOTING -> MONITORING) should fail")
	}
}

// TestPasswordlessSkipsAwaitingPassword verifies that CODE_SENT can go
// straight to AUTHENTICATED for accounts without a password layer, and
// through AWAITING_PASSWORD for accounts with one.
func TestPasswordlessSkipsAwaitingPassword(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, CodeSent)
	if err := m.Transition(Authenticated); err != nil {
		t.Fatalf("CODE_SENT -> AUTHENTICATED: %v", err)
	}

	m = NewMachine(nil)
	walkTo(t, m, CodeSent)
	if err := m.Transition(AwaitingPassword); err != nil {
		t.Fatalf("CODE_SENT -> AWAITING_PASSWORD: %v", err)
	}
	if err := m.Transition(Authenticated); err != nil {
		t.Fatalf("AWAITING_PASSWORD -> AUTHENTICATED: %v", err)
	}
}

// TestStoredSessionLifecycle simulates a restart with a stored session:
// BOOTING → CONNECTING → AUTHENTICATED → MONITORING.
func TestStoredSessionLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Authenticated, Monitoring}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Monitoring {
		t.Errorf("final state = %s, want MONITORING", m.Current())
	}
}

// TestInvalidSessionFallsBackToAuth verifies CONNECTING → AUTH_REQUIRED,
// the path taken when a stored session no longer passes the identity probe.
func TestInvalidSessionFallsBackToAuth(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)

	if err := m.Transition(AuthRequired); err != nil {
		t.Fatalf("CONNECTING -> AUTH_REQUIRED: %v", err)
	}
	if m.Current() != AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", m.Current())
	}
}

// TestDisconnectReconnectCycle verifies the reconnect loop:
// MONITORING → RECONNECTING → CONNECTING → AUTHENTICATED.
func TestDisconnectReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Monitoring)

	steps := []State{Reconnecting, Connecting, Authenticated}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Authenticated {
		t.Errorf("final state = %s, want AUTHENTICATED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:          {},
		AuthRequired:     {AuthRequired},
		CodeSent:         {AuthRequired, CodeSent},
		AwaitingPassword: {AuthRequired, CodeSent, AwaitingPassword},
		Connecting:       {AuthRequired, Connecting},
		Authenticated:    {AuthRequired, Connecting, Authenticated},
		Monitoring:       {AuthRequired, Connecting, Authenticated, Monitoring},
		Reconnecting:     {AuthRequired, Connecting, Authenticated, Reconnecting},
		Error:            {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
