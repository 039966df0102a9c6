package voldemort

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientErrorMessage(t *testing.T) {
	err := NewClientError("bad request")
	assert.Equal(t, "client error: bad request", err.Error())
}

func TestServerErrorMessage(t *testing.T) {
	err := NewServerError("node unreachable")
	assert.Equal(t, "server error: node unreachable", err.Error())
}

func TestWrapClientErrorPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := WrapClientError(cause, "context")
	assert.Contains(t, err.Error(), "context")
	assert.Contains(t, err.Error(), "underlying")
	assert.ErrorIs(t, err, cause)
}

func TestWrapServerErrorPreservesCause(t *testing.T) {
	cause := errors.New("dial failed")
	err := WrapServerError(cause, "dialing")
	assert.ErrorIs(t, err, cause)
}

func TestIsKeyNotFound(t *testing.T) {
	assert.True(t, IsKeyNotFound(ErrKeyNotFound))
	// IsKeyNotFound only cares about the Unwrap chain, not the wrapper's own
	// class.
	assert.True(t, IsKeyNotFound(WrapServerError(ErrKeyNotFound, "wrapped")))
	assert.False(t, IsKeyNotFound(NewServerError("unrelated")))
	assert.False(t, IsKeyNotFound(nil))
}
