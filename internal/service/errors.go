package service

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Error kinds. Match with errors.Is; the concrete *Error carries the message.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrAuthFailure  = errors.New("authentication failed")
)

// Error is a domain failure with a message safe to show to the user.
type Error struct {
	Kind    error
	Message string
	// Fields holds one message per invalid field, for ErrValidation.
	Fields []string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) > 0 {
		return strings.Join(e.Fields, "; ")
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func validationError(fields ...string) *Error {
	return &Error{Kind: ErrValidation, Message: strings.Join(fields, "; "), Fields: fields}
}

// Message returns the user-facing text for err, or fallback for anything that
// is not a domain error.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return fallback
}

// isUniqueViolation recognises duplicate key errors from either driver. gorm
// translates most of them when TranslateError is set; the string checks catch
// drivers it has no translator for.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
