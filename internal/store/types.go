package store

// Alert is a persisted record of a keyword-matched message. A message is
// identified by (GroupID, MessageID); inserting the same pair twice is a
// no-op, never a second row.
type Alert struct {
	ID              int64    `json:"id"`
	GroupID         string   `json:"group_id"`
	MessageID       int      `json:"message_id"`
	MessageText     string   `json:"message_text"`
	SenderID        string   `json:"sender_id"`
	SenderName      string   `json:"sender_name"`
	SenderUsername  string   `json:"sender_username,omitempty"`
	MatchedKeywords []string `json:"matched_keywords"`
	IsRead          bool     `json:"is_read"`
	IsReplied       bool     `json:"is_replied"`
	ReplyText       string   `json:"reply_text,omitempty"`
	DetectedAt      int64    `json:"detected_at"`
	RepliedAt       int64    `json:"replied_at,omitempty"`
}

// Credential is the encrypted session plus basic identity stored for one
// authenticated account. The session string only exists encrypted at rest.
type Credential struct {
	Phone         string
	SessionCipher string
	UserID        int64
	FirstName     string
	LastName      string
	Username      string
	UpdatedAt     int64
}
