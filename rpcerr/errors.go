// Package rpcerr defines the error taxonomy shared by the framer, the clients and the server.
//
// Framing and transport failures are connection-fatal and never reach callers as handler
// errors. Handler-level failures travel back as a Response and surface on the single pending
// call as a *RemoteError.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Response codes carried in the ret_code field.
const (
	CodeOK             = 200
	CodeMethodNotFound = 404
	CodeHandlerError   = 500
)

var (
	// ErrNeedMore is returned by the framer when a partial message is buffered. Not a failure.
	ErrNeedMore = errors.New("need more bytes")

	// ErrUnknownRequestID means the peer answered an id that has no pending call.
	ErrUnknownRequestID = errors.New("unknown request id")

	// ErrConnectionAborted fails every call still pending when a connection closes.
	ErrConnectionAborted = errors.New("connection abort")

	ErrDuplicateName = errors.New("handler name already registered")
	ErrUnwrapDepth   = errors.New("deferred result nested too deeply")
	ErrClientClosed  = errors.New("client is closed")
)

// ParseError is a fatal framing failure. The connection that produced it must be closed.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Msg
}

func NewParseError(msg string) error {
	return errors.WithStack(&ParseError{Msg: msg})
}

func NewParseErrorf(format string, args ...interface{}) error {
	return NewParseError(fmt.Sprintf(format, args...))
}

func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// RemoteError is a failed call reported by the server: 404 for an unknown method, 500 when
// the handler failed.
type RemoteError struct {
	Code int
	Msg  string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

func NewRemoteError(code int, msg string) *RemoteError {
	return &RemoteError{Code: code, Msg: msg}
}

func IsMethodNotFound(err error) bool {
	return hasCode(err, CodeMethodNotFound)
}

func IsHandlerError(err error) bool {
	return hasCode(err, CodeHandlerError)
}

func hasCode(err error, code int) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// Aborted wraps the reason a connection went away so callers can still match
// ErrConnectionAborted with errors.Is.
func Aborted(reason error) error {
	if reason == nil {
		return ErrConnectionAborted
	}
	return &abortedError{reason: reason}
}

type abortedError struct {
	reason error
}

func (e *abortedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrConnectionAborted.Error(), e.reason)
}

func (e *abortedError) Is(target error) bool {
	return target == ErrConnectionAborted
}

func (e *abortedError) Unwrap() error {
	return e.reason
}
