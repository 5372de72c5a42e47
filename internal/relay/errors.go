package relay

import (
	"fmt"
	"net/http"
)

// Kind classifies a relay failure by who can fix it.
type Kind int

const (
	// KindRequest is malformed or incomplete input; the caller fixes it.
	KindRequest Kind = iota + 1
	// KindConfiguration is missing deployment configuration; the operator fixes it.
	KindConfiguration
	// KindAuthorization is a bad signature; the caller re-signs.
	KindAuthorization
	// KindExecution is a failed contract call; the nonce may or may not be consumed.
	KindExecution
	// KindConfirmation is a submitted but unconfirmed transaction; the outcome is unknown.
	KindConfirmation
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindConfiguration:
		return "configuration"
	case KindAuthorization:
		return "authorization"
	case KindExecution:
		return "execution"
	case KindConfirmation:
		return "confirmation"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindRequest:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Stable client-facing messages.
const (
	MsgMissingFields      = "Missing required fields"
	MsgNotConfigured      = "Social contract address not configured"
	MsgInvalidSignature   = "Invalid signature"
	MsgVerificationFailed = "Signature verification failed"
	MsgRelayFailed        = "Failed to relay comment"
	MsgPublishFailed      = "Failed to publish subject"
	MsgCommentRelayed     = "Comment relayed successfully"
	MsgSubjectPublished   = "Subject published successfully"
)

// Error is a relay failure. Message is stable and safe to show; Err carries
// the upstream cause when there is one.
type Error struct {
	Kind    Kind
	State   State
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s, state %s): %v", e.Message, e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%s (%s, state %s)", e.Message, e.Kind, e.State)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error.
func (e *Error) Status() int { return e.Kind.Status() }

// Detail returns the upstream message, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
