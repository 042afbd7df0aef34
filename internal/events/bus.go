package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

type MessageType string

const (
	TypeDownloadStatus MessageType = "download_status"
	TypeLogMessage     MessageType = "log_message"
	TypeUpdateComplete MessageType = "update_complete"
)

// Message is what subscribers receive. Data is a jobs.Event, LogLine or
// UpdateComplete depending on Type.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Data      any         `json:"data"`
}

type LogLine struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
}

type UpdateComplete struct {
	Success    bool   `json:"success"`
	Channel    string `json:"channel"`
	NewVersion string `json:"new_version,omitempty"`
	Error      string `json:"error,omitempty"`
	SessionID  string `json:"session_id"`
}

const DefaultBuffer = 256

// Bus fans messages out to subscribers keyed by session id. Slow subscribers
// lose log lines instead of blocking publishers.
type Bus struct {
	buffer int
	now    func() time.Time

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer: buffer,
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

type Subscription struct {
	bus       *Bus
	sessionID string
	ch        chan Message
	dropped   int
}

// Subscribe registers for messages of sessionID, or of every session when
// sessionID is empty.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		bus:       b,
		sessionID: sessionID,
		ch:        make(chan Message, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (s *Subscription) C() <-chan Message { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
	if s.dropped > 0 {
		log.Warn("Subscriber for session %q dropped %d messages", s.sessionID, s.dropped)
	}
}

func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != msg.SessionID {
			continue
		}
		sub.deliver(msg)
	}
}

// deliver drops log lines for a full subscriber. Status and update messages
// evict the oldest queued message instead so terminal states always arrive.
func (s *Subscription) deliver(msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	if msg.Type == TypeLogMessage {
		s.dropped++
		return
	}
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.dropped++
	}
}

// Subscribers reports the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Status publishes a job status transition.
func (b *Bus) Status(ev jobs.Event) {
	b.Publish(Message{Type: TypeDownloadStatus, SessionID: ev.SessionID, Data: ev})
}

// Log publishes an operator facing log line prefixed with the wall clock time.
func (b *Bus) Log(jobID, sessionID, message string) {
	b.Publish(Message{
		Type:      TypeLogMessage,
		SessionID: sessionID,
		Data: LogLine{
			Message:   fmt.Sprintf("[%s] %s", b.now().Format("15:04:05"), message),
			SessionID: sessionID,
			TaskID:    jobID,
		},
	})
}

// Logf returns a printf style logger bound to sessionID.
func (b *Bus) Logf(sessionID string) func(format string, args ...any) {
	return func(format string, args ...any) {
		b.Log("", sessionID, fmt.Sprintf(format, args...))
	}
}

func (b *Bus) UpdateComplete(uc UpdateComplete) {
	b.Publish(Message{Type: TypeUpdateComplete, SessionID: uc.SessionID, Data: uc})
}
