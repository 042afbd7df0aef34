package release

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstaller struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	block   chan struct{}
	started chan struct{}
}

func (f *fakeInstaller) Install(_ context.Context, channel string, _ Logf) bool {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channel)
	return !f.fail[channel]
}

func TestNewScheduler_InvalidExpression(t *testing.T) {
	_, err := NewScheduler(&fakeInstaller{}, "every now and then", []string{"stable"})
	require.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	inst := &fakeInstaller{fail: map[string]bool{"master": true}}
	s, err := NewScheduler(inst, "0 */6 * * *", []string{"stable", "nightly", "master"})
	require.NoError(t, err)

	ok := s.RunOnce(context.Background())
	assert.Equal(t, 2, ok)
	assert.Equal(t, []string{"stable", "nightly", "master"}, inst.calls)

	info, err := s.TriggerInfo(time.Now())
	require.NoError(t, err)
	assert.False(t, info.Last.IsZero())
	assert.True(t, info.Next.After(time.Now()))
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	inst := &fakeInstaller{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := NewScheduler(inst, "@hourly", []string{"stable"})
	require.NoError(t, err)

	done := make(chan int)
	go func() { done <- s.RunOnce(context.Background()) }()
	<-inst.started

	assert.Equal(t, 0, s.RunOnce(context.Background()))

	close(inst.block)
	assert.Equal(t, 1, <-done)
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(&fakeInstaller{}, "@daily", []string{"nightly"})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Equal(t, []string{"nightly"}, s.Channels())
}
