package core

import (
	"errors"
	"fmt"
)

// Error is a coded error carried across engine package boundaries.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// NewError wraps err with a stable code and optional details.
func NewError(err error, code string, details map[string]any) *Error {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: details,
		Err:     err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by code so sentinel codes can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return other.Code != "" && other.Code == e.Code
}

// AsMap renders the error for JSON payloads.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	out := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		out["details"] = e.Details
	}
	return out
}

// ErrorCode extracts the code of the first *Error in err's chain.
func ErrorCode(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
