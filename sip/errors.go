package sip

import "github.com/ghettovoice/sipua/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrClientClosed     Error = "client closed"
	ErrClientStarted    Error = "client already started"
)

// Transport errors.
const (
	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed Error = "transport closed"
	// ErrMessageTooLarge is returned when an inbound stream message exceeds the framer limit.
	ErrMessageTooLarge Error = "message too large"
)

// Message errors.
const (
	ErrUnsupportedMethod Error = "unsupported request method"
	ErrMalformedMessage  Error = "malformed message"
	ErrMissingHeader     Error = "missing mandatory header"
)

// Authentication errors.
const (
	ErrMissingChallengeHeader Error = "missing challenge header"
	ErrMalformedChallenge     Error = "malformed challenge"
	ErrTooManyChallenges      Error = "too many authentication challenges"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

func newMalformedMessageError(args ...any) error {
	return errorutil.NewWrapperError(ErrMalformedMessage, args...) //errtrace:skip
}

func newMissingHeaderError(args ...any) error {
	return errorutil.NewWrapperError(ErrMissingHeader, args...) //errtrace:skip
}
