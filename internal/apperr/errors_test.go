package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageIncludesContextAndCause(t *testing.T) {
	err := Wrap(errors.New("connection reset"), ErrFetchFailed, "query release feed").
		WithContext("channel", "nightly")

	assert.Equal(t, "query release feed (channel=nightly): connection reset", err.Error())
}

func TestIsType_WalksWrappedChain(t *testing.T) {
	inner := New(ErrChannelNotInstalled, "channel nightly is not installed")
	outer := Wrap(inner, ErrMetadataFetchFailed, "metadata fetch failed")
	wrapped := fmt.Errorf("job 1: %w", outer)

	assert.True(t, IsType(wrapped, ErrMetadataFetchFailed))
	assert.True(t, IsType(wrapped, ErrChannelNotInstalled))
	assert.False(t, IsType(wrapped, ErrRateLimited))
	assert.False(t, IsType(errors.New("plain"), ErrUnknown))
	assert.Equal(t, ErrMetadataFetchFailed, TypeOf(wrapped))
}

func TestKind_MatchesWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("install: %w", New(ErrRateLimited, "github rate limit exceeded"))

	assert.True(t, errors.Is(err, Kind(ErrRateLimited)))
	assert.False(t, errors.Is(err, Kind(ErrFetchFailed)))
}

func TestSafeExecute_RecoversPanic(t *testing.T) {
	err := SafeExecute(func() error {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, IsType(err, ErrUnknown))
	assert.Contains(t, err.Error(), "boom")

	assert.NoError(t, SafeExecute(func() error { return nil }))
}
