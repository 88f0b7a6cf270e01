package api

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := NewError(KindTimeout, "read", io.ErrNoProgress)
	wrapped := fmt.Errorf("serve: %w", err)

	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.NotErrorIs(t, wrapped, ErrIO)
	assert.ErrorIs(t, wrapped, io.ErrNoProgress)
	assert.True(t, IsKind(wrapped, KindTimeout))
	assert.Equal(t, KindTimeout, KindOf(wrapped))

	var e *Error
	assert.ErrorAs(t, wrapped, &e)
	assert.Equal(t, "read", e.Op)
}

func TestSpecificSentinelMatchesByIdentity(t *testing.T) {
	errA := Errorf(KindProtocolViolation, "parse", "a")
	errB := Errorf(KindProtocolViolation, "parse", "b")

	assert.ErrorIs(t, fmt.Errorf("x: %w", errA), errA)
	assert.NotErrorIs(t, errA, errB)
	assert.ErrorIs(t, errB, ErrProtocolViolation)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "timeout", ErrTimeout.Error())
	assert.Equal(t, "bind: address in use", NewError(KindIO, "bind", errors.New("address in use")).Error())

	err := Errorf(KindRejected, "submit", "pool stopped").
		WithContext("queued", 3).
		WithContext("fd", 7)
	assert.Equal(t, "submit: pool stopped (fd=7, queued=3)", err.Error())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.False(t, IsKind(nil, KindUnknown))
	assert.Equal(t, "connection closed", KindConnectionClosed.String())
}
