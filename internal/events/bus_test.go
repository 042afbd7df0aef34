package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
)

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestBus_RoutesBySession(t *testing.T) {
	bus := NewBus(8)
	mine := bus.Subscribe("s1")
	all := bus.Subscribe("")
	other := bus.Subscribe("s2")
	defer mine.Close()
	defer all.Close()
	defer other.Close()

	bus.Status(jobs.Event{JobID: "j1", SessionID: "s1", Status: jobs.StatusGettingInfo, Message: "Fetching video information..."})

	msg := receive(t, mine)
	assert.Equal(t, TypeDownloadStatus, msg.Type)
	ev, ok := msg.Data.(jobs.Event)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusGettingInfo, ev.Status)

	assert.Equal(t, TypeDownloadStatus, receive(t, all).Type)
	assert.Empty(t, other.C())
}

func TestBus_LogPrefixesTime(t *testing.T) {
	bus := NewBus(8)
	bus.now = func() time.Time { return time.Date(2024, 8, 6, 13, 4, 5, 0, time.UTC) }
	sub := bus.Subscribe("s1")
	defer sub.Close()

	bus.Logf("s1")("Downloading %s", "nightly")

	msg := receive(t, sub)
	assert.Equal(t, TypeLogMessage, msg.Type)
	assert.Equal(t, LogLine{Message: "[13:04:05] Downloading nightly", SessionID: "s1"}, msg.Data)
}

func TestBus_DropsLogLinesWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe("s1")

	bus.Log("j1", "s1", "first")
	bus.Log("j1", "s1", "second")

	msg := receive(t, sub)
	assert.Contains(t, msg.Data.(LogLine).Message, "first")
	assert.Equal(t, 1, sub.dropped)

	sub.Close()
	sub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBus_TerminalStatusEvictsOldestWhenFull(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("s1")
	defer sub.Close()

	bus.Log("j1", "s1", "one")
	bus.Log("j1", "s1", "two")
	bus.Log("j1", "s1", "three")
	bus.Status(jobs.Event{JobID: "j1", SessionID: "s1", Status: jobs.StatusCompleted, Message: "Download complete!"})
	bus.UpdateComplete(UpdateComplete{SessionID: "s1", Success: true, Channel: "nightly"})

	first := receive(t, sub)
	require.Equal(t, TypeDownloadStatus, first.Type)
	assert.Equal(t, jobs.StatusCompleted, first.Data.(jobs.Event).Status)
	assert.Equal(t, TypeUpdateComplete, receive(t, sub).Type)
	assert.Empty(t, sub.C())
	assert.Equal(t, 3, sub.dropped)
}
