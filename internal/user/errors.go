package user

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind classifies a failure; handlers map it to an HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindNoOp
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindNoOp:
		return "no_op"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a policy failure with a client-facing message.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
}

func (e *Error) Error() string { return e.Message }

// KindOf returns the Kind of err, or KindInternal for errors that are not *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrBadCredentials = &Error{Kind: KindAuth, Message: "email or password is incorrect"}
	ErrWrongPassword  = &Error{Kind: KindAuth, Message: "current password is incorrect"}
	ErrUserNotFound   = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrIdentityTaken  = &Error{Kind: KindConflict, Message: "email or username is already registered"}
	ErrEmailTaken     = &Error{Kind: KindConflict, Message: "email is already used by another account"}
	ErrUsernameTaken  = &Error{Kind: KindConflict, Message: "username is already taken"}
	ErrSameUsername   = &Error{Kind: KindNoOp, Message: "new username is the same as the current one"}
)

func invalid(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// rateLimited reports the remaining cooldown rounded up to whole hours in the
// message; RetryAfter keeps the exact value.
func rateLimited(field string, remaining time.Duration) *Error {
	hours := int(math.Ceil(remaining.Hours()))
	if hours < 1 {
		hours = 1
	}
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("%s was changed recently; try again in %d %s", field, hours, unit),
		RetryAfter: remaining,
	}
}
