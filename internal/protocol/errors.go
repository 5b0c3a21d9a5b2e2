package protocol

import (
	"errors"
	"fmt"
)

const (
	// Input layer.
	ErrMissingField   = "E_MISSING_FIELD"
	ErrMalformedValue = "E_MALFORMED_VALUE"
	ErrLookupNotFound = "E_LOOKUP_NOT_FOUND"

	// Remote layer.
	ErrRemoteFailure = "E_REMOTE_FAILURE"
	ErrTimeout       = "E_TIMEOUT"

	// Transport/session.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrMissingField:    {},
	ErrMalformedValue:  {},
	ErrLookupNotFound:  {},
	ErrRemoteFailure:   {},
	ErrTimeout:         {},
	ErrProtoBadRequest: {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// WireCode is the code reported to a peer for err: its own code when that is
// a known one, E_INTERNAL otherwise.
func WireCode(err error) string {
	code := CodeOf(err)
	if code == "" || !IsKnownCode(code) {
		return ErrInternal
	}
	return code
}

// Error is a coded failure. Field names the input that caused it, when there is one.
type Error struct {
	Code  string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := e.Code
	if e.Field != "" {
		s += " " + e.Field
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(code, field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code, field string, err error) *Error {
	return &Error{Code: code, Field: field, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
