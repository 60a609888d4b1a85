package tg

import "context"

// Conn is the protocol boundary: the set of connect/auth/event primitives
// the agent needs from the underlying MTProto client. Exactly one Conn is
// live at a time; it is owned by the connection manager and borrowed
// everywhere else.
type Conn interface {
	// Close tears the connection down. Safe to call once.
	Close() error
	// Alive reports whether the connection's run loop is still up.
	Alive() bool

	// Me performs a lightweight identity probe against the server.
	Me(ctx context.Context) (*User, error)
	// ExportSession serializes the connection's session for at-rest storage.
	ExportSession(ctx context.Context) (string, error)

	// SendCode requests a verification code for the phone number.
	SendCode(ctx context.Context, phone string) (*SentCode, error)
	// SignIn completes code verification. Returns ErrPasswordRequired when
	// the account has a password layer.
	SignIn(ctx context.Context, phone, code, codeHash string) (*User, error)
	// CheckPassword performs the challenge-response password step.
	CheckPassword(ctx context.Context, password string) (*User, error)

	// Dialogs lists the account's recent conversations as raw entities;
	// filtering is the directory's concern.
	Dialogs(ctx context.Context, limit int) ([]Dialog, error)
	// SearchPublic searches server-side for public entities by keyword.
	SearchPublic(ctx context.Context, query string, limit int) ([]GroupSummary, error)
	// ResolveUsername resolves a public @username. ErrPeerNotFound when unknown.
	ResolveUsername(ctx context.Context, username string) (*GroupSummary, error)
	// ResolveID resolves a previously-seen entity by id. ErrPeerNotFound when unknown.
	ResolveID(ctx context.Context, id int64) (*GroupSummary, error)
	// JoinChannel joins a public channel or supergroup by username.
	JoinChannel(ctx context.Context, username string) (*GroupSummary, error)
	// LeaveChannel leaves a channel or supergroup by id.
	LeaveChannel(ctx context.Context, id int64) error

	// RecentHistory fetches the latest messages of a group.
	RecentHistory(ctx context.Context, groupID int64, limit int) ([]Message, error)
	// SearchHistory searches messages of a group server-side.
	SearchHistory(ctx context.Context, groupID int64, query string, limit int) ([]Message, error)

	// SendText sends an unsolicited message. Returns the server message id.
	SendText(ctx context.Context, groupID int64, text string) (int, error)
	// Reply sends a message threaded to replyToID. Returns the server message id.
	Reply(ctx context.Context, groupID int64, replyToID int, text string) (int, error)

	// OnMessage registers a handler for inbound messages and returns an
	// unregister func. Handlers run on the transport's event goroutine and
	// must not block.
	OnMessage(h func(Message)) (unregister func())
}

// Dialog is one entry of the account's conversation list. Entity is nil
// for one-to-one chats.
type Dialog struct {
	Entity *GroupSummary
}

// Dialer opens a connection from a plaintext session string. An empty
// string starts an unauthenticated connection for a fresh login.
type Dialer interface {
	Dial(ctx context.Context, session string) (Conn, error)
}
