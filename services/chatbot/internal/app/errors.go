package app

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the app returns to a caller either is one of these
// or wraps one through *Error; anything else is an internal failure.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrAuth       = errors.New("unauthorized")
	ErrLocked     = errors.New("account locked")
	ErrNotFound   = errors.New("not found")
	ErrInvalidOTP = errors.New("invalid or expired OTP")
	ErrProvider   = errors.New("provider error")
)

// Error carries a client-facing message for one of the kinds above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func validationError(msg string) error { return newError(ErrValidation, msg) }
func authError(msg string) error       { return newError(ErrAuth, msg) }
func notFoundError(msg string) error   { return newError(ErrNotFound, msg) }

// Client-facing messages shared by several operations.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountLocked      = "Account is temporarily locked due to too many failed login attempts. Please try again later."
	msgDeactivated        = "Account is deactivated"
	msgInvalidOTP         = "Invalid or expired OTP"
	msgConversationGone   = "Conversation not found"
)

// Message returns the client-facing text for err, or "" when err is not
// one of the app's typed errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	for _, kind := range []error{ErrValidation, ErrConflict, ErrAuth, ErrLocked, ErrNotFound, ErrInvalidOTP, ErrProvider} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}
