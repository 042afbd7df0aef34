package pipeline

import (
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/extractor"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
)

// Sink receives everything a job reports while it runs.
type Sink interface {
	Status(ev jobs.Event)
	Log(jobID, sessionID, message string)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnStatus func(ev jobs.Event)
	OnLog    func(jobID, sessionID, message string)
}

func (s SinkFuncs) Status(ev jobs.Event) {
	if s.OnStatus != nil {
		s.OnStatus(ev)
	}
}

func (s SinkFuncs) Log(jobID, sessionID, message string) {
	if s.OnLog != nil {
		s.OnLog(jobID, sessionID, message)
	}
}

// MultiSink forwards to every sink in order.
type MultiSink []Sink

func (m MultiSink) Status(ev jobs.Event) {
	for _, s := range m {
		s.Status(ev)
	}
}

func (m MultiSink) Log(jobID, sessionID, message string) {
	for _, s := range m {
		s.Log(jobID, sessionID, message)
	}
}

// Resolver hands out an extractor bound to a channel's current installation.
type Resolver interface {
	Resolve(channel string) (extractor.Handle, error)
}
