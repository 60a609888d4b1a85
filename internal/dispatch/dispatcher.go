// Package dispatch sends outbound messages and keeps alert bookkeeping in
// step with what was actually sent.
package dispatch

import (
	"context"
	"strconv"

	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/store"
	"go.uber.org/zap"
)

// SendResult is the structured outcome of a send or reply.
type SendResult struct {
	Success   bool
	MessageID int
	Error     string
}

// ReplyResult extends SendResult with bookkeeping state: a reply can be
// delivered on the wire yet fail to be recorded on the alert row. The two
// failures are reported separately so callers never retry a delivered send.
type ReplyResult struct {
	SendResult
	AlertUpdated bool
}

// Dispatcher sends via the shared connection and records replies in the
// alert store.
type Dispatcher struct {
	cm     *conn.Manager
	db     *store.DB
	logger *zap.Logger
}

// New creates a dispatcher.
func New(cm *conn.Manager, db *store.DB, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{cm: cm, db: db, logger: logger}
}

// SendMessage sends a free-standing text message to a group.
func (d *Dispatcher) SendMessage(ctx context.Context, groupID string, text string) SendResult {
	gid, err := parseGroupID(groupID)
	if err != nil {
		return SendResult{Error: "invalid group id"}
	}
	c, err := d.cm.Current()
	if err != nil {
		return SendResult{Error: "not connected"}
	}

	id, err := c.SendText(ctx, gid, text)
	if err != nil {
		d.logger.Warn("send failed", zap.String("group_id", groupID), zap.Error(err))
		return SendResult{Error: err.Error()}
	}
	return SendResult{Success: true, MessageID: id}
}

// ReplyToMessage sends a threaded reply to a specific message and marks
// the matching alert row as replied. A missing alert row is a bookkeeping
// miss, not a send failure.
func (d *Dispatcher) ReplyToMessage(ctx context.Context, groupID string, messageID int, text string) ReplyResult {
	gid, err := parseGroupID(groupID)
	if err != nil {
		return ReplyResult{SendResult: SendResult{Error: "invalid group id"}}
	}
	c, err := d.cm.Current()
	if err != nil {
		return ReplyResult{SendResult: SendResult{Error: "not connected"}}
	}

	sentID, err := c.Reply(ctx, gid, messageID, text)
	if err != nil {
		d.logger.Warn("reply failed",
			zap.String("group_id", groupID),
			zap.Int("message_id", messageID),
			zap.Error(err))
		return ReplyResult{SendResult: SendResult{Error: err.Error()}}
	}

	res := ReplyResult{SendResult: SendResult{Success: true, MessageID: sentID}}
	updated, err := d.db.MarkReplied(groupID, messageID, text)
	if err != nil {
		d.logger.Error("record reply",
			zap.String("group_id", groupID),
			zap.Int("message_id", messageID),
			zap.Error(err))
		return res
	}
	res.AlertUpdated = updated
	if !updated {
		d.logger.Debug("reply to message with no alert row",
			zap.String("group_id", groupID),
			zap.Int("message_id", messageID))
	}
	return res
}

func parseGroupID(groupID string) (int64, error) {
	return strconv.ParseInt(groupID, 10, 64)
}
