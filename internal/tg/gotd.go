package tg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	tgapi "github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Options configures the MTProto dialer. AppID and AppHash identify the
// application; RequestTimeout bounds every RPC; MaxRetries is handed to
// the transport's request retry policy.
type Options struct {
	AppID          int
	AppHash        string
	RequestTimeout time.Duration
	MaxRetries     int
	Logger         *zap.Logger
}

// GotdDialer opens Telegram connections backed by gotd/td.
type GotdDialer struct {
	opts Options
}

// NewDialer creates a dialer. A zero RequestTimeout defaults to 30s.
func NewDialer(opts Options) *GotdDialer {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &GotdDialer{opts: opts}
}

// Dial opens a connection with the given plaintext session string and
// starts its background run loop. The caller's ctx bounds only the
// initial connect; the run loop itself is owned by the connection and
// lives until Close or a transport failure.
func (d *GotdDialer) Dial(ctx context.Context, sessionStr string) (Conn, error) {
	storage := &session.StorageMemory{}
	if sessionStr != "" {
		raw, err := base64.StdEncoding.DecodeString(sessionStr)
		if err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		if err := storage.StoreSession(ctx, raw); err != nil {
			return nil, fmt.Errorf("preload session: %w", err)
		}
	}

	dispatcher := tgapi.NewUpdateDispatcher()
	client := telegram.NewClient(d.opts.AppID, d.opts.AppHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
		Logger:         d.opts.Logger.Named("mtproto"),
		MaxRetries:     d.opts.MaxRetries,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
		},
	})

	c := &gotdConn{
		client:   client,
		api:      client.API(),
		storage:  storage,
		timeout:  d.opts.RequestTimeout,
		logger:   d.opts.Logger,
		peers:    make(map[int64]peerInfo),
		handlers: make(map[int]func(Message)),
	}
	c.bindDispatcher(dispatcher)

	if err := c.startRun(ctx, client.Run); err != nil {
		return nil, err
	}
	return c, nil
}

// gotdConn adapts a running gotd client to the Conn interface.
type gotdConn struct {
	client  *telegram.Client
	api     *tgapi.Client
	storage *session.StorageMemory
	timeout time.Duration
	logger  *zap.Logger
	alive   atomic.Bool

	cancelRun context.CancelFunc
	exited    chan struct{}

	peersMu sync.RWMutex
	peers   map[int64]peerInfo

	handlersMu  sync.RWMutex
	handlers    map[int]func(Message)
	nextHandler int
}

// runFunc is the client's blocking run loop. It returns when the inner
// callback returns or the transport fails.
type runFunc func(ctx context.Context, f func(context.Context) error) error

// startRun launches run under a context owned by the connection, detached
// from the caller's cancellation. ctx bounds only the wait for the
// transport to come up. A supervisor goroutine watches the loop and flips
// alive off the moment it ends, whatever the cause, so a dead connection
// is never vended again.
func (c *gotdConn) startRun(ctx context.Context, run runFunc) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- run(runCtx, func(inner context.Context) error {
			close(ready)
			<-inner.Done()
			return inner.Err()
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("run loop exited during initialization")
		}
		return fmt.Errorf("connect: %w", err)
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("connect: %w", ctx.Err())
	}

	c.cancelRun = cancel
	c.exited = make(chan struct{})
	c.alive.Store(true)

	go func() {
		err := <-done
		c.alive.Store(false)
		close(c.exited)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("connection run loop ended", zap.Error(err))
		}
	}()
	return nil
}

// Close stops the run loop and waits for it to exit. Idempotent, and safe
// after the loop has already died on its own.
func (c *gotdConn) Close() error {
	c.cancelRun()
	<-c.exited
	return nil
}

func (c *gotdConn) Alive() bool {
	return c.alive.Load()
}

// opCtx bounds a single RPC so a stalled transport cannot block forever.
func (c *gotdConn) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *gotdConn) Me(ctx context.Context) (*User, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	self, err := c.client.Self(ctx)
	if err != nil {
		return nil, wrapRPC(err)
	}
	return userFromTG(self), nil
}

func (c *gotdConn) ExportSession(ctx context.Context) (string, error) {
	raw, err := c.storage.LoadSession(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *gotdConn) SendCode(ctx context.Context, phone string) (*SentCode, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return nil, wrapRPC(err)
	}
	code, ok := sent.(*tgapi.AuthSentCode)
	if !ok {
		return nil, fmt.Errorf("unexpected sent code type %T", sent)
	}
	return &SentCode{PhoneCodeHash: code.PhoneCodeHash}, nil
}

func (c *gotdConn) SignIn(ctx context.Context, phone, code, codeHash string) (*User, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	authz, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return nil, ErrPasswordRequired
		}
		return nil, wrapRPC(err)
	}
	return userFromAuth(authz), nil
}

func (c *gotdConn) CheckPassword(ctx context.Context, password string) (*User, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	authz, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return nil, wrapRPC(err)
	}
	return userFromAuth(authz), nil
}

func userFromAuth(a *tgapi.AuthAuthorization) *User {
	u, ok := a.User.(*tgapi.User)
	if !ok {
		return &User{}
	}
	return userFromTG(u)
}

func userFromTG(u *tgapi.User) *User {
	return &User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}

// wrapRPC converts transport errors carrying a stable protocol error type
// into RPCError so callers never match on message text.
func wrapRPC(err error) error {
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		return &RPCError{Code: rpc.Code, Type: rpc.Type}
	}
	return err
}
