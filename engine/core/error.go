package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error envelope carried across stage boundaries.
// Code is a stable machine-readable identifier; Details holds contextual
// values safe to log and serialize.
type Error struct {
	Message string         `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func NewError(err error, code string, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Message: msg,
		Code:    code,
		Details: details,
		cause:   err,
	}
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorFrom converts any error into an *Error, preserving an existing
// envelope instead of re-wrapping it.
func ErrorFrom(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return NewError(err, code, nil)
}
