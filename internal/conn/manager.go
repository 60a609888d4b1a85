package conn

import (
	"context"
	"errors"
	"sync"

	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/zap"
)

// ErrNoActiveConnection is returned by Current when nothing is connected.
// Callers branch on it to trigger the re-login flow.
var ErrNoActiveConnection = errors.New("no active connection")

// Manager owns the single live protocol connection. Every other component
// borrows the connection through Current and never closes it itself.
type Manager struct {
	dialer tg.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	current tg.Conn
	session string
}

// NewManager creates a connection manager around the given dialer.
func NewManager(d tg.Dialer, logger *zap.Logger) *Manager {
	return &Manager{dialer: d, logger: logger}
}

// Connect returns a live connection for the given session string. A live
// connection opened with the same session is reused unchanged; anything
// else is torn down first and replaced. An empty session string is valid
// and means "no prior session" (fresh login).
//
// Transport errors propagate to the caller; retry policy lives in the
// transport layer beneath, configured at dialer construction.
func (m *Manager) Connect(ctx context.Context, session string) (tg.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Alive() && m.session == session {
		return m.current, nil
	}

	if m.current != nil {
		// Close errors are not actionable: the connection is being replaced.
		if err := m.current.Close(); err != nil {
			m.logger.Warn("closing stale connection", zap.Error(err))
		}
		m.current = nil
		m.session = ""
	}

	c, err := m.dialer.Dial(ctx, session)
	if err != nil {
		return nil, err
	}
	m.current = c
	m.session = session
	m.logger.Info("connection established", zap.Bool("fresh_session", session == ""))
	return c, nil
}

// Disconnect closes the active connection if present and resets the
// stored session identity. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.Close(); err != nil {
			m.logger.Warn("closing connection", zap.Error(err))
		}
		m.current = nil
		m.logger.Info("disconnected")
	}
	m.session = ""
}

// IsConnected reports whether a live connection exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Alive()
}

// Current returns the live connection, or ErrNoActiveConnection.
func (m *Manager) Current() (tg.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.Alive() {
		return nil, ErrNoActiveConnection
	}
	return m.current, nil
}
