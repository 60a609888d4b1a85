// Package directory enumerates, searches, and manages the account's
// group and channel memberships.
package directory

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/zap"
)

// Directory provides group discovery and membership operations on top of
// the shared connection. It borrows the connection and never closes it.
type Directory struct {
	cm     *conn.Manager
	logger *zap.Logger
}

// New creates a directory over the connection manager.
func New(cm *conn.Manager, logger *zap.Logger) *Directory {
	return &Directory{cm: cm, logger: logger}
}

// JoinResult is the structured outcome of JoinGroup. Never an error:
// failures carry one of a small closed set of user-facing reasons.
type JoinResult struct {
	Success bool
	Group   *tg.GroupSummary
	Error   string
}

// ListMyGroups lists the account's recent conversations, keeping groups
// and non-broadcast channels. Broadcast-only channels and one-to-one
// chats are filtered out.
func (d *Directory) ListMyGroups(ctx context.Context, limit int) ([]tg.GroupSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	c, err := d.cm.Current()
	if err != nil {
		return nil, err
	}

	dialogs, err := c.Dialogs(ctx, limit)
	if err != nil {
		return nil, err
	}

	var out []tg.GroupSummary
	for _, dlg := range dialogs {
		e := dlg.Entity
		if e == nil || e.IsBroadcast {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// SearchGroups searches public groups server-side by keyword. Only public
// entities (with a username) are kept; broadcast channels are excluded.
func (d *Directory) SearchGroups(ctx context.Context, query string, limit int) ([]tg.GroupSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	c, err := d.cm.Current()
	if err != nil {
		return nil, err
	}

	found, err := c.SearchPublic(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var out []tg.GroupSummary
	for _, g := range found {
		if g.Username == "" || g.IsBroadcast {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// GetGroupInfo resolves a numeric id or a @username to canonical group
// metadata. An unresolvable reference yields (nil, nil), not an error.
func (d *Directory) GetGroupInfo(ctx context.Context, ref string) (*tg.GroupSummary, error) {
	c, err := d.cm.Current()
	if err != nil {
		return nil, err
	}

	var (
		g      *tg.GroupSummary
		resErr error
	)
	if id, numErr := strconv.ParseInt(strings.TrimSpace(ref), 10, 64); numErr == nil {
		g, resErr = c.ResolveID(ctx, id)
	} else {
		g, resErr = c.ResolveUsername(ctx, normalizeUsername(ref))
	}
	if errors.Is(resErr, tg.ErrPeerNotFound) {
		return nil, nil
	}
	if resErr != nil {
		return nil, resErr
	}
	return g, nil
}

// JoinGroup joins a public group by username. Known protocol error codes
// map to user-facing reasons; anything unrecognized maps to a generic one.
func (d *Directory) JoinGroup(ctx context.Context, username string) JoinResult {
	c, err := d.cm.Current()
	if err != nil {
		return JoinResult{Error: "not connected"}
	}

	g, err := c.JoinChannel(ctx, normalizeUsername(username))
	if err != nil {
		reason := joinFailureReason(err)
		d.logger.Warn("join group failed",
			zap.String("username", username),
			zap.String("reason", reason),
			zap.Error(err))
		return JoinResult{Error: reason}
	}
	return JoinResult{Success: true, Group: g}
}

// LeaveGroup leaves a group by id. Best-effort: any failure reports false
// rather than propagating.
func (d *Directory) LeaveGroup(ctx context.Context, id int64) bool {
	c, err := d.cm.Current()
	if err != nil {
		return false
	}
	if err := c.LeaveChannel(ctx, id); err != nil {
		d.logger.Warn("leave group failed", zap.Int64("group_id", id), zap.Error(err))
		return false
	}
	return true
}

// SearchMessages searches a group's messages server-side. Messages with
// no text payload are skipped.
func (d *Directory) SearchMessages(ctx context.Context, groupID int64, query string, limit int) ([]tg.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	c, err := d.cm.Current()
	if err != nil {
		return nil, err
	}
	msgs, err := c.SearchHistory(ctx, groupID, query, limit)
	if err != nil {
		return nil, err
	}
	return withText(msgs), nil
}

// GetRecentMessages fetches the latest messages of a group, skipping
// those with no text payload.
func (d *Directory) GetRecentMessages(ctx context.Context, groupID int64, limit int) ([]tg.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	c, err := d.cm.Current()
	if err != nil {
		return nil, err
	}
	msgs, err := c.RecentHistory(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	return withText(msgs), nil
}

func withText(msgs []tg.Message) []tg.Message {
	var out []tg.Message
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func normalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

// joinFailureReason maps stable protocol error codes to the closed set of
// user-facing reasons.
func joinFailureReason(err error) string {
	switch {
	case tg.IsRPC(err, "CHANNELS_TOO_MUCH"):
		return "group limit reached"
	case tg.IsRPC(err, "INVITE_HASH_INVALID"), tg.IsRPC(err, "INVITE_HASH_EXPIRED"):
		return "invalid invite"
	case tg.IsRPC(err, "CHANNEL_PRIVATE"):
		return "this group is private"
	case errors.Is(err, tg.ErrPeerNotFound):
		return "group not found"
	default:
		return "could not join group"
	}
}
