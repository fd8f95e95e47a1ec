package sensor

import (
	"errors"
	"fmt"
)

// ErrorCode classifies sensor errors.
type ErrorCode string

// Error codes. Each has a matching sentinel below so callers can use
// errors.Is without inspecting *Error.
const (
	CodeNoDevice        ErrorCode = "NO_DEVICE"
	CodeBackend         ErrorCode = "BACKEND"
	CodeUnsupported     ErrorCode = "UNSUPPORTED"
	CodeUnsupportedMode ErrorCode = "UNSUPPORTED_MODE"
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	CodeIllegalState    ErrorCode = "ILLEGAL_STATE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeUnknownFormat   ErrorCode = "UNKNOWN_FORMAT"
	CodeStreamRead      ErrorCode = "STREAM_READ"
)

var (
	ErrNoDevice        = &Error{Code: CodeNoDevice, Message: "no device available"}
	ErrBackend         = &Error{Code: CodeBackend, Message: "backend failure"}
	ErrUnsupported     = &Error{Code: CodeUnsupported, Message: "operation not supported"}
	ErrUnsupportedMode = &Error{Code: CodeUnsupportedMode, Message: "mode not supported"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrIllegalState    = &Error{Code: CodeIllegalState, Message: "illegal state"}
	ErrTimeout         = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrUnknownFormat   = &Error{Code: CodeUnknownFormat, Message: "unknown format code"}
	ErrStreamRead      = &Error{Code: CodeStreamRead, Message: "stream read failed"}
)

// Error is returned by every operation in this package. Message is the
// extended, human-readable description of the failure.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Op      string         `json:"op,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"cause,omitempty"`
}

func newError(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

func wrapError(code ErrorCode, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: cause.Error(), Cause: cause}
}

// With returns a copy of e carrying an extra context value.
func (e *Error) With(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	c := *e
	c.Context = ctx
	return &c
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, ErrTimeout)
// holds for every timeout regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}

// ExtendedError returns the extended message of the most recent sensor
// error in err's chain, or err.Error() for foreign errors.
func ExtendedError(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// backendError turns a driver error into a sensor error. Driver errors that
// are already sensor errors keep their code.
func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Op == "" {
			c := *se
			c.Op = op
			return &c
		}
		return err
	}
	return wrapError(CodeBackend, op, err)
}
