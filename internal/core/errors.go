package core

import "errors"

// Error codes sent to live clients.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeNotFound        = "not_found"
	ErrCodeNotFriends      = "not_friends"
	ErrCodeAlreadySubbed   = "already_subscribed"
	ErrCodeNotSubscribed   = "not_subscribed"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInternal        = "internal_error"
	ErrCodeUnsupportedProt = "unsupported_protocol"
	ErrCodeSlowConsumer    = "slow_consumer"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrUnknownClient     = errors.New("unknown client")
	ErrHubStopped        = errors.New("hub stopped")
	ErrNotHeld           = errors.New("subscription is not waiting for a snapshot")
	ErrSlowConsumer      = errors.New("client is too slow to receive the snapshot")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string `json:"code"`
	Message string `json:"msg"`
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
