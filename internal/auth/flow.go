package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/sessioncrypt"
	"github.com/rikseotools/vence-sub014/internal/status"
	"github.com/rikseotools/vence-sub014/internal/store"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/zap"
)

// ErrTwoFactorRequired signals that the account needs its password to
// finish signing in. Callers catch it and re-invoke SignIn with the
// password; it is an expected branch, not a failure.
var ErrTwoFactorRequired = errors.New("two-factor password required")

// ErrCodeExpired is returned when no pending verification handle exists
// for the phone number, typically because the ten-minute window passed.
var ErrCodeExpired = errors.New("verification code expired or never requested")

// Flow drives the login handshake: send code → verify code → optional
// password challenge. On success it encrypts and persists the session.
type Flow struct {
	cm      *conn.Manager
	codec   *sessioncrypt.Codec
	pending *PendingAuth
	db      *store.DB
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewFlow creates an auth flow. machine and b may be nil in tests.
func NewFlow(cm *conn.Manager, codec *sessioncrypt.Codec, pending *PendingAuth, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Flow {
	return &Flow{
		cm:      cm,
		codec:   codec,
		pending: pending,
		db:      db,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// SignInResult is the outcome of a completed sign-in.
type SignInResult struct {
	// EncryptedSession is the session string encrypted for at-rest storage.
	EncryptedSession string
	Identity         tg.User
}

// ConnectResult is the structured outcome of ConnectWithSession. It is
// never an error: the caller needs to distinguish "needs re-login"
// (NeedsLogin) from a hard transport failure (Error set, NeedsLogin false).
type ConnectResult struct {
	Connected  bool
	NeedsLogin bool
	Identity   *tg.User
	Error      string
}

// SendCode opens a fresh-login connection and requests a verification
// code for phone. The returned handle must be echoed back on SignIn.
func (f *Flow) SendCode(ctx context.Context, phone string) (string, error) {
	c, err := f.cm.Connect(ctx, "")
	if err != nil {
		return "", err
	}

	sent, err := c.SendCode(ctx, phone)
	if err != nil {
		return "", err
	}

	f.pending.Put(phone, sent.PhoneCodeHash)
	f.transition(status.CodeSent)
	f.publish("auth.code_sent", phone)
	f.logger.Info("verification code sent", zap.String("phone", phone))
	return sent.PhoneCodeHash, nil
}

// SignIn completes the handshake with phone + code + handle. An empty
// codeHash falls back to the pending entry recorded by SendCode. When the
// account has a password layer and password is empty, SignIn fails with
// ErrTwoFactorRequired; re-invoke with the password to continue. Any
// other failure propagates verbatim.
func (f *Flow) SignIn(ctx context.Context, phone, code, codeHash, password string) (*SignInResult, error) {
	if codeHash == "" {
		h, ok := f.pending.Get(phone)
		if !ok {
			return nil, ErrCodeExpired
		}
		codeHash = h
	}

	c, err := f.cm.Current()
	if err != nil {
		// The code was sent from another process lifetime; a fresh-login
		// connection can still complete the check.
		c, err = f.cm.Connect(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	user, err := c.SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, tg.ErrPasswordRequired) {
		if password == "" {
			f.transition(status.AwaitingPassword)
			return nil, ErrTwoFactorRequired
		}
		user, err = c.CheckPassword(ctx, password)
	}
	if err != nil {
		return nil, err
	}

	plain, err := c.ExportSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("export session: %w", err)
	}
	cipher, err := f.codec.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt session: %w", err)
	}

	if err := f.db.UpsertCredential(&store.Credential{
		Phone:         phone,
		SessionCipher: cipher,
		UserID:        user.ID,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Username:      user.Username,
	}); err != nil {
		// The account is signed in regardless; losing the stored copy only
		// costs a re-login after restart.
		f.logger.Error("failed to persist credential", zap.Error(err))
	}

	f.pending.Delete(phone)
	f.transition(status.Authenticated)
	f.publish("auth.signed_in", user.ID)
	f.logger.Info("signed in",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return &SignInResult{EncryptedSession: cipher, Identity: *user}, nil
}

// ConnectWithSession decrypts a stored session, connects with it, and
// probes the identity to confirm the session is still valid server-side.
func (f *Flow) ConnectWithSession(ctx context.Context, encryptedSession string) ConnectResult {
	plain, err := f.codec.Decrypt(encryptedSession)
	if err != nil {
		return ConnectResult{NeedsLogin: true, Error: "invalid session"}
	}

	c, err := f.cm.Connect(ctx, plain)
	if err != nil {
		return ConnectResult{Error: err.Error()}
	}

	me, err := c.Me(ctx)
	if err != nil {
		if sessionRejected(err) {
			f.cm.Disconnect()
			return ConnectResult{NeedsLogin: true, Error: err.Error()}
		}
		return ConnectResult{Error: err.Error()}
	}

	f.transition(status.Authenticated)
	f.publish("auth.connected", me.ID)
	return ConnectResult{Connected: true, Identity: me}
}

// sessionRejected reports whether the server refused the session itself,
// as opposed to a transient transport failure.
func sessionRejected(err error) bool {
	return tg.IsRPC(err, "AUTH_KEY_UNREGISTERED") ||
		tg.IsRPC(err, "AUTH_KEY_INVALID") ||
		tg.IsRPC(err, "SESSION_REVOKED") ||
		tg.IsRPC(err, "SESSION_EXPIRED") ||
		tg.IsRPC(err, "USER_DEACTIVATED")
}

func (f *Flow) transition(to status.State) {
	if f.machine == nil {
		return
	}
	if err := f.machine.Transition(to); err != nil {
		f.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (f *Flow) publish(kind string, payload any) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
