package overlay

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures raised by the overlay so callers can decide
// whether a failure is retryable, fatal, or just a normal shutdown.
type ErrorKind int

const (
	// KindConfig marks a failure to construct a peer from its configuration
	// (bad listen address, missing name or workspace ID, invalid keypair).
	KindConfig ErrorKind = iota
	// KindTransport marks a failure in the underlying connection (dial
	// timeout, unreachable peer, handshake refused).
	KindTransport
	// KindProtocol marks a failure in a behaviour running over an
	// established connection (identify version mismatch, malformed
	// rendezvous response, gossip decode failure).
	KindProtocol
	// KindChannel marks a failure to hand work to the peer runtime (the
	// command channel is full or its reader has exited).
	KindChannel
	// KindCancelled marks a failure caused by the owning context being
	// cancelled, not by the network or the caller's input.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindChannel:
		return "channel"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed error every exported overlay operation returns on
// failure. Op names the operation that failed (e.g. "network.dial",
// "rendezvous.register") so logs can be grepped without parsing message text.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel conditions referenced directly by callers (via errors.Is), not
// wrapped with op-specific context of their own.
var (
	ErrVersionIncompatible = errors.New("peer advertises an incompatible protocol version")
	ErrNamespaceUnknown    = errors.New("rendezvous namespace has no registrations")
	ErrRegistrationExpired = errors.New("rendezvous registration expired")
	ErrPeerUnreachable     = errors.New("peer unreachable")
)

// classifyDialErr turns a raw libp2p dial/connect error into a typed overlay
// error so the reconnect loop and callers can branch on Kind instead of
// string-matching.
func classifyDialErr(op string, err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return newError(KindCancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTransport, op, fmt.Errorf("%w: %w", ErrPeerUnreachable, err))
	case errors.Is(err, ErrVersionIncompatible):
		return newError(KindProtocol, op, err)
	default:
		return newError(KindTransport, op, err)
	}
}
