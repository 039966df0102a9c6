package voldemort

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ClientError indicates the request itself, or the server's answer to it,
// is semantically a client fault: it will never succeed by retrying against
// another replica.
type ClientError struct {
	msg   string
	cause error
}

func (e *ClientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("client error: %s: %s", e.msg, e.cause)
	}
	return fmt.Sprintf("client error: %s", e.msg)
}

func (e *ClientError) Unwrap() error { return e.cause }

// NewClientError builds a ClientError with the given message.
func NewClientError(msg string) *ClientError {
	return &ClientError{msg: msg}
}

// WrapClientError builds a ClientError that wraps a lower-level cause.
func WrapClientError(cause error, msg string) *ClientError {
	return &ClientError{msg: msg, cause: pkgerrors.Wrap(cause, msg)}
}

// ServerError indicates a transient or remote fault: the cluster may answer
// successfully if the same request is retried against a different replica.
type ServerError struct {
	msg   string
	cause error
}

func (e *ServerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("server error: %s: %s", e.msg, e.cause)
	}
	return fmt.Sprintf("server error: %s", e.msg)
}

func (e *ServerError) Unwrap() error { return e.cause }

// NewServerError builds a ServerError with the given message.
func NewServerError(msg string) *ServerError {
	return &ServerError{msg: msg}
}

// WrapServerError builds a ServerError that wraps a lower-level cause.
func WrapServerError(cause error, msg string) *ServerError {
	return &ServerError{msg: msg, cause: pkgerrors.Wrap(cause, msg)}
}

// ErrKeyNotFound is the distinguished ClientError subkind raised when a get
// resolves to no versions, either because the server's GetResponse.error
// indicates a missing key or because the versioned list comes back empty.
var ErrKeyNotFound = NewClientError("key not found")

// IsKeyNotFound reports whether err is (or wraps) ErrKeyNotFound.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// Sentinel errors used across the connection/cluster state machines.
var (
	ErrConnectionClosed  = NewServerError("connection closed")
	ErrShutdownRequested = NewServerError("shutdown requested")
	ErrRequestTimeout    = NewServerError("request timed out")
	ErrNoViableReplica   = NewServerError("no connection can handle the request")
	ErrProtocolRejected  = NewServerError("protocol negotiation rejected")
	ErrBootstrapFailed   = NewServerError("bootstrap failed")
)
