package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorFormatting(t *testing.T) {
	err := New(ErrValidation, "user id already exists")
	assert.Equal(t, "[VALIDATION_ERROR] user id already exists", err.Error())

	cause := stderrors.New("disk full")
	wrapped := Wrap(ErrStorage, "put students/s1", cause)
	assert.Equal(t, "[STORAGE_ERROR] put students/s1: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestIsThroughWrapChain(t *testing.T) {
	inner := Wrap(ErrNetwork, "pull", stderrors.New("connection refused"))
	outer := fmt.Errorf("sync cycle: %w", Wrap(ErrSyncFailed, "sync failed", inner))

	assert.True(t, Is(outer, ErrSyncFailed))
	assert.True(t, Is(outer, ErrNetwork))
	assert.False(t, Is(outer, ErrStorage))
	assert.False(t, Is(nil, ErrStorage))
	assert.False(t, Is(stderrors.New("plain"), ErrStorage))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, CodeOf(fmt.Errorf("x: %w", New(ErrNotFound, "missing"))))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}
