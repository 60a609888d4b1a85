// Package tgtest provides in-memory fakes for the protocol boundary,
// used by component tests across the repo.
package tgtest

import (
	"context"
	"sync"

	"github.com/rikseotools/vence-sub014/internal/tg"
)

// FakeConn implements tg.Conn with overridable function fields. The zero
// value is a live connection whose every operation succeeds with zero
// results.
type FakeConn struct {
	mu       sync.Mutex
	closed   bool
	Closes   int
	CloseErr error

	handlers map[int]func(tg.Message)
	nextID   int

	MeFunc            func(ctx context.Context) (*tg.User, error)
	ExportSessionFunc func(ctx context.Context) (string, error)
	SendCodeFunc      func(ctx context.Context, phone string) (*tg.SentCode, error)
	SignInFunc        func(ctx context.Context, phone, code, codeHash string) (*tg.User, error)
	CheckPasswordFunc func(ctx context.Context, password string) (*tg.User, error)
	DialogsFunc       func(ctx context.Context, limit int) ([]tg.Dialog, error)
	SearchPublicFunc  func(ctx context.Context, query string, limit int) ([]tg.GroupSummary, error)
	ResolveUserFunc   func(ctx context.Context, username string) (*tg.GroupSummary, error)
	ResolveIDFunc     func(ctx context.Context, id int64) (*tg.GroupSummary, error)
	JoinChannelFunc   func(ctx context.Context, username string) (*tg.GroupSummary, error)
	LeaveChannelFunc  func(ctx context.Context, id int64) error
	RecentHistoryFunc func(ctx context.Context, groupID int64, limit int) ([]tg.Message, error)
	SearchHistoryFunc func(ctx context.Context, groupID int64, query string, limit int) ([]tg.Message, error)
	SendTextFunc      func(ctx context.Context, groupID int64, text string) (int, error)
	ReplyFunc         func(ctx context.Context, groupID int64, replyToID int, text string) (int, error)
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.Closes++
	return c.CloseErr
}

func (c *FakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *FakeConn) Me(ctx context.Context) (*tg.User, error) {
	if c.MeFunc != nil {
		return c.MeFunc(ctx)
	}
	return &tg.User{}, nil
}

func (c *FakeConn) ExportSession(ctx context.Context) (string, error) {
	if c.ExportSessionFunc != nil {
		return c.ExportSessionFunc(ctx)
	}
	return "", nil
}

func (c *FakeConn) SendCode(ctx context.Context, phone string) (*tg.SentCode, error) {
	if c.SendCodeFunc != nil {
		return c.SendCodeFunc(ctx, phone)
	}
	return &tg.SentCode{}, nil
}

func (c *FakeConn) SignIn(ctx context.Context, phone, code, codeHash string) (*tg.User, error) {
	if c.SignInFunc != nil {
		return c.SignInFunc(ctx, phone, code, codeHash)
	}
	return &tg.User{}, nil
}

func (c *FakeConn) CheckPassword(ctx context.Context, password string) (*tg.User, error) {
	if c.CheckPasswordFunc != nil {
		return c.CheckPasswordFunc(ctx, password)
	}
	return &tg.User{}, nil
}

func (c *FakeConn) Dialogs(ctx context.Context, limit int) ([]tg.Dialog, error) {
	if c.DialogsFunc != nil {
		return c.DialogsFunc(ctx, limit)
	}
	return nil, nil
}

func (c *FakeConn) SearchPublic(ctx context.Context, query string, limit int) ([]tg.GroupSummary, error) {
	if c.SearchPublicFunc != nil {
		return c.SearchPublicFunc(ctx, query, limit)
	}
	return nil, nil
}

func (c *FakeConn) ResolveUsername(ctx context.Context, username string) (*tg.GroupSummary, error) {
	if c.ResolveUserFunc != nil {
		return c.ResolveUserFunc(ctx, username)
	}
	return nil, tg.ErrPeerNotFound
}

func (c *FakeConn) ResolveID(ctx context.Context, id int64) (*tg.GroupSummary, error) {
	if c.ResolveIDFunc != nil {
		return c.ResolveIDFunc(ctx, id)
	}
	return nil, tg.ErrPeerNotFound
}

func (c *FakeConn) JoinChannel(ctx context.Context, username string) (*tg.GroupSummary, error) {
	if c.JoinChannelFunc != nil {
		return c.JoinChannelFunc(ctx, username)
	}
	return nil, tg.ErrPeerNotFound
}

func (c *FakeConn) LeaveChannel(ctx context.Context, id int64) error {
	if c.LeaveChannelFunc != nil {
		return c.LeaveChannelFunc(ctx, id)
	}
	return nil
}

func (c *FakeConn) RecentHistory(ctx context.Context, groupID int64, limit int) ([]tg.Message, error) {
	if c.RecentHistoryFunc != nil {
		return c.RecentHistoryFunc(ctx, groupID, limit)
	}
	return nil, nil
}

func (c *FakeConn) SearchHistory(ctx context.Context, groupID int64, query string, limit int) ([]tg.Message, error) {
	if c.SearchHistoryFunc != nil {
		return c.SearchHistoryFunc(ctx, groupID, query, limit)
	}
	return nil, nil
}

func (c *FakeConn) SendText(ctx context.Context, groupID int64, text string) (int, error) {
	if c.SendTextFunc != nil {
		return c.SendTextFunc(ctx, groupID, text)
	}
	return 1, nil
}

func (c *FakeConn) Reply(ctx context.Context, groupID int64, replyToID int, text string) (int, error) {
	if c.ReplyFunc != nil {
		return c.ReplyFunc(ctx, groupID, replyToID, text)
	}
	return 1, nil
}

func (c *FakeConn) OnMessage(h func(tg.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[int]func(tg.Message))
	}
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// HandlerCount reports how many message handlers are registered.
func (c *FakeConn) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Emit delivers a message to all registered handlers, simulating an
// inbound event from the transport.
func (c *FakeConn) Emit(m tg.Message) {
	c.mu.Lock()
	hs := make([]func(tg.Message), 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}

// FakeDialer implements tg.Dialer, minting a FakeConn per Dial.
type FakeDialer struct {
	mu    sync.Mutex
	Dials []string
	Conns []*FakeConn

	// DialFunc overrides the default behavior when set.
	DialFunc func(ctx context.Context, session string) (tg.Conn, error)
	// NextConn is used for the next Dial when set.
	NextConn *FakeConn
	// Err makes every Dial fail when set.
	Err error
}

func (d *FakeDialer) Dial(ctx context.Context, session string) (tg.Conn, error) {
	d.mu.Lock()
	d.Dials = append(d.Dials, session)
	d.mu.Unlock()

	if d.DialFunc != nil {
		return d.DialFunc(ctx, session)
	}
	if d.Err != nil {
		return nil, d.Err
	}

	c := d.NextConn
	if c == nil {
		c = &FakeConn{}
	}
	d.mu.Lock()
	d.Conns = append(d.Conns, c)
	d.NextConn = nil
	d.mu.Unlock()
	return c, nil
}

// DialCount reports how many times Dial was invoked.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}
