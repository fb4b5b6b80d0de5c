package proto

import (
	"errors"
	"fmt"
)

// Error codes carried on the wire inside Message.Error.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeMalformed       = "MALFORMED"
	CodeInvalidPath     = "INVALID_PATH"
	CodeReservedKey     = "RESERVED_KEY"
	CodeEmptyArray      = "EMPTY_ARRAY"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotIdentified   = "NOT_IDENTIFIED"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// Error is the error type exchanged between hub and nodes. Two errors
// match under errors.Is when their codes match, so a sentinel such as
// ErrNotFound matches a NOT_FOUND error decoded from a response frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	// Path, reserved-key and empty-array errors are all malformed input.
	return t.Code == CodeMalformed && isMalformedCode(e.Code)
}

func isMalformedCode(code string) bool {
	switch code {
	case CodeMalformed, CodeInvalidPath, CodeReservedKey, CodeEmptyArray:
		return true
	}
	return false
}

var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrMalformed    = &Error{Code: CodeMalformed, Message: "malformed payload"}
	ErrInvalidPath  = &Error{Code: CodeInvalidPath, Message: "invalid path"}
	ErrReservedKey  = &Error{Code: CodeReservedKey, Message: "reserved key"}
	ErrEmptyArray   = &Error{Code: CodeEmptyArray, Message: "empty item array"}
	ErrNotConnected = &Error{Code: CodeUnavailable, Message: "not connected"}
	ErrTimeout      = &Error{Code: CodeTimeout, Message: "timeout"}
)

// Errorf builds an *Error with the given code.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError converts err into an *Error suitable for a response frame.
// Errors that do not carry a code become INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
