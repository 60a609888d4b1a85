// Package monitor watches inbound group messages for configured keywords
// and publishes a hit event for every match. Persistence happens off the
// handler path, in the Ingester.
package monitor

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/store"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/zap"
)

// Stored message text is capped so a single giant message cannot bloat
// the alerts table.
const maxAlertTextLen = 4000

// KindHit is published for every keyword match, before persistence.
const KindHit = "monitor.hit"

// GroupConfig selects one group to watch. Keywords left empty fall back
// to the default keyword list passed to Start. AutoReply, when set, is
// the text the responder sends back to matched messages in this group.
type GroupConfig struct {
	ID        string
	Keywords  []string
	AutoReply string
}

// Status is a snapshot of the monitoring state.
type Status struct {
	IsMonitoring bool     `json:"is_monitoring"`
	GroupCount   int      `json:"group_count"`
	GroupIDs     []string `json:"group_ids"`
}

type groupRule struct {
	keywords  []string
	autoReply string
}

type snapshot struct {
	groups map[string]groupRule
}

// Monitor registers a single message handler on the live connection and
// filters messages against an immutable config snapshot. Start replaces
// the snapshot atomically; in-flight handler invocations finish against
// the snapshot they started with.
type Monitor struct {
	cm     *conn.Manager
	bus    *bus.Bus
	logger *zap.Logger

	cfg atomic.Pointer[snapshot]

	mu         sync.Mutex
	bound      tg.Conn
	unregister func()
}

// New creates a monitor. It stays idle until Start.
func New(cm *conn.Manager, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{cm: cm, bus: b, logger: logger}
}

// Start begins monitoring the given groups. Groups without their own
// keyword list use defaults. Calling Start while already monitoring
// swaps the configuration without dropping messages in between.
func (m *Monitor) Start(groups []GroupConfig, defaults []string) error {
	c, err := m.cm.Current()
	if err != nil {
		return err
	}

	snap := &snapshot{groups: make(map[string]groupRule, len(groups))}
	for _, g := range groups {
		if g.ID == "" {
			continue
		}
		kws := g.Keywords
		if len(kws) == 0 {
			kws = defaults
		}
		snap.groups[g.ID] = groupRule{keywords: kws, autoReply: g.AutoReply}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Store(snap)
	m.bindLocked(c)
	m.logger.Info("monitoring started", zap.Int("groups", len(snap.groups)))
	return nil
}

// Rebind moves the message handler onto the manager's current connection.
// Call it after a reconnect; the old registration died with the old
// connection. No-op while the monitor is stopped.
func (m *Monitor) Rebind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unregister == nil {
		return nil
	}
	c, err := m.cm.Current()
	if err != nil {
		return err
	}
	m.bindLocked(c)
	return nil
}

// bindLocked registers the handler on c, dropping any registration held
// on a previous connection. Caller holds m.mu.
func (m *Monitor) bindLocked(c tg.Conn) {
	if m.bound == c && m.unregister != nil {
		return
	}
	if m.unregister != nil {
		m.unregister()
	}
	m.bound = c
	m.unregister = c.OnMessage(m.handle)
}

// Stop deregisters the message handler and clears the configuration.
// Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unregister != nil {
		m.unregister()
		m.unregister = nil
		m.bound = nil
		m.logger.Info("monitoring stopped")
	}
	m.cfg.Store(nil)
}

// Status reports whether monitoring is active and which groups are watched.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	active := m.unregister != nil
	m.mu.Unlock()

	snap := m.cfg.Load()
	var ids []string
	if snap != nil {
		ids = make([]string, 0, len(snap.groups))
		for id := range snap.groups {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	return Status{IsMonitoring: active, GroupCount: len(ids), GroupIDs: ids}
}

// AutoReplyFor returns the configured auto-reply text for a group, if any.
func (m *Monitor) AutoReplyFor(groupID string) (string, bool) {
	snap := m.cfg.Load()
	if snap == nil {
		return "", false
	}
	rule, ok := snap.groups[groupID]
	if !ok || rule.autoReply == "" {
		return "", false
	}
	return rule.autoReply, true
}

// handle runs on the transport's dispatch goroutine. It does no I/O:
// matches publish a hit event and return.
func (m *Monitor) handle(msg tg.Message) {
	if msg.FromSelf {
		return
	}
	snap := m.cfg.Load()
	if snap == nil {
		return
	}

	gid := strconv.FormatInt(msg.GroupID, 10)
	rule, ok := snap.groups[gid]
	if !ok {
		return
	}
	matched := CheckKeywords(msg.Text, rule.keywords)
	if len(matched) == 0 {
		return
	}

	alert := &store.Alert{
		GroupID:         gid,
		MessageID:       msg.ID,
		MessageText:     truncate(msg.Text, maxAlertTextLen),
		SenderID:        strconv.FormatInt(msg.SenderID, 10),
		SenderName:      msg.SenderName,
		SenderUsername:  msg.SenderUsername,
		MatchedKeywords: matched,
		DetectedAt:      time.Now().UnixMilli(),
	}
	m.logger.Debug("keyword hit",
		zap.String("group_id", gid),
		zap.Int("message_id", msg.ID),
		zap.Strings("keywords", matched))
	m.bus.Publish(bus.Event{Kind: KindHit, Timestamp: time.Now(), Payload: alert})
}

// truncate caps s at max runes. The byte-length check is only a cheap
// early out: a string of at most max bytes has at most max runes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
