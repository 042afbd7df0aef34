package release

import (
	"sync"

	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

// logFanout delivers the progress lines of an in-flight install to every
// caller waiting on it, including callers that joined late.
type logFanout struct {
	mu        sync.Mutex
	nextID    int
	byChannel map[string]map[int]Logf
}

// join registers logf for channel until the returned func is called.
func (l *logFanout) join(channel string, logf Logf) func() {
	if logf == nil {
		return func() {}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byChannel == nil {
		l.byChannel = make(map[string]map[int]Logf)
	}
	if l.byChannel[channel] == nil {
		l.byChannel[channel] = make(map[int]Logf)
	}
	id := l.nextID
	l.nextID++
	l.byChannel[channel][id] = logf
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.byChannel[channel], id)
		if len(l.byChannel[channel]) == 0 {
			delete(l.byChannel, channel)
		}
	}
}

// logf writes a line to the process log once and to every caller joined on
// channel.
func (l *logFanout) logf(channel string) Logf {
	return func(format string, args ...any) {
		log.Info(format, args...)
		l.mu.Lock()
		targets := make([]Logf, 0, len(l.byChannel[channel]))
		for _, fn := range l.byChannel[channel] {
			targets = append(targets, fn)
		}
		l.mu.Unlock()
		for _, fn := range targets {
			fn(format, args...)
		}
	}
}
