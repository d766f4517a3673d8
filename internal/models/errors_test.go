package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorKinds(t *testing.T) {
	err := Errorf(ErrNotFound, "session not found: %s", "s1")
	assert.Equal(t, ErrNotFound, KindOf(err))
	assert.Equal(t, "session not found: s1", MessageOf(err))
}

func TestKindOfWrappedError(t *testing.T) {
	inner := Errorf(ErrNoFreePort, "no free port in range 7681-7781")
	wrapped := fmt.Errorf("starting gateway: %w", inner)

	assert.Equal(t, ErrNoFreePort, KindOf(wrapped))
	assert.Equal(t, "no free port in range 7681-7781", MessageOf(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("something broke")
	assert.Equal(t, ErrInternal, KindOf(err))
	// Untyped errors never leak their text to clients
	assert.Equal(t, "internal error", MessageOf(err))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("exec: not found")
	err := NewAppError(ErrGatewayStartFailed, "failed to start web terminal", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to start web terminal")
}
