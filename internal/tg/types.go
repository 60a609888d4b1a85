package tg

import "time"

// User is the basic identity of the authenticated account or a message sender.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// DisplayName returns "first last", falling back to the username and then
// to "unknown".
func (u User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = "unknown"
	}
	return name
}

// SentCode is the server-issued verification-code handle returned by SendCode.
// The hash must be echoed back on SignIn.
type SentCode struct {
	PhoneCodeHash string
}

// GroupSummary is canonical metadata for a group or channel entity.
type GroupSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	About       string `json:"about,omitempty"`
	IsChannel   bool   `json:"is_channel"`
	IsGroup     bool   `json:"is_group"`
	IsBroadcast bool   `json:"is_broadcast"`
	IsVerified  bool   `json:"is_verified"`
	HasPhoto    bool   `json:"has_photo"`
}

// Message is the canonical normalized shape every inbound or fetched
// message is reduced to before it reaches any consumer. Senders of
// channel posts carry the channel title as SenderName.
type Message struct {
	ID             int       `json:"id"`
	GroupID        int64     `json:"group_id"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"text"`
	Date           time.Time `json:"date"`
	FromSelf       bool      `json:"from_self,omitempty"`
}
