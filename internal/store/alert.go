package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// InsertAlert stores an alert, deduplicating on (group_id, message_id).
// Returns false when the pair was already recorded; duplicate delivery
// of the same message is expected and not an error.
func (db *DB) InsertAlert(a *Alert) (bool, error) {
	keywords, err := json.Marshal(a.MatchedKeywords)
	if err != nil {
		return false, err
	}
	if a.DetectedAt == 0 {
		a.DetectedAt = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO alerts (group_id, message_id, message_text, sender_id, sender_name, sender_username, matched_keywords, is_read, is_replied, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT(group_id, message_id) DO NOTHING`,
		a.GroupID, a.MessageID, a.MessageText, a.SenderID, a.SenderName, a.SenderUsername, string(keywords), a.DetectedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAlert returns the alert for (groupID, messageID), or nil when absent.
func (db *DB) GetAlert(groupID string, messageID int) (*Alert, error) {
	row := db.QueryRow(`
		SELECT id, group_id, message_id, message_text, sender_id, sender_name, sender_username, matched_keywords, is_read, is_replied, COALESCE(reply_text, ''), detected_at, COALESCE(replied_at, 0)
		FROM alerts
		WHERE group_id = ? AND message_id = ?`, groupID, messageID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListAlerts returns alerts newest first. When unreadOnly is set, alerts
// already marked read are skipped.
func (db *DB) ListAlerts(unreadOnly bool, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, group_id, message_id, message_text, sender_id, sender_name, sender_username, matched_keywords, is_read, is_replied, COALESCE(reply_text, ''), detected_at, COALESCE(replied_at, 0)
		FROM alerts`
	if unreadOnly {
		query += ` WHERE is_read = 0`
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// MarkReplied records a sent reply on the alert row. Returns false when
// no alert exists for the pair.
func (db *DB) MarkReplied(groupID string, messageID int, replyText string) (bool, error) {
	res, err := db.Exec(`
		UPDATE alerts
		SET is_replied = 1, reply_text = ?, replied_at = ?
		WHERE group_id = ? AND message_id = ?`,
		replyText, time.Now().UnixMilli(), groupID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead flags the alert as reviewed. Returns false when absent.
func (db *DB) MarkRead(groupID string, messageID int) (bool, error) {
	res, err := db.Exec(`
		UPDATE alerts SET is_read = 1 WHERE group_id = ? AND message_id = ?`,
		groupID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a        Alert
		keywords string
	)
	if err := row.Scan(&a.ID, &a.GroupID, &a.MessageID, &a.MessageText, &a.SenderID, &a.SenderName, &a.SenderUsername, &keywords, &a.IsRead, &a.IsReplied, &a.ReplyText, &a.DetectedAt, &a.RepliedAt); err != nil {
		return nil, err
	}
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &a.MatchedKeywords); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
