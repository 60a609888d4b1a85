package tg

import (
	"errors"
	"fmt"
)

// ErrPasswordRequired signals that the account has a password layer and
// sign-in must continue with CheckPassword. Expected, not fatal.
var ErrPasswordRequired = errors.New("two-factor password required")

// ErrPeerNotFound is returned when an entity cannot be resolved.
var ErrPeerNotFound = errors.New("peer not found")

// RPCError is a protocol-level error with a stable type code, e.g.
// "CHANNEL_PRIVATE". Callers branch on Type, never on message text.
type RPCError struct {
	Code int
	Type string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Type)
}

// IsRPC reports whether err carries the given stable error type.
func IsRPC(err error, errType string) bool {
	var rpc *RPCError
	return errors.As(err, &rpc) && rpc.Type == errType
}
