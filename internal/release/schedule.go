package release

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/icron"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

// Installer is the part of Fetcher the scheduler drives.
type Installer interface {
	Install(ctx context.Context, channel string, logf Logf) bool
}

// Scheduler periodically brings a set of channels to their latest release.
type Scheduler struct {
	installer Installer
	channels  []string
	cronExpr  string
	cron      *cron.Cron

	mu      sync.Mutex
	lastRun time.Time
	entry   cron.EntryID
	running bool
}

func NewScheduler(installer Installer, cronExpr string, channels []string) (*Scheduler, error) {
	if _, err := icron.Parse(cronExpr); err != nil {
		return nil, err
	}
	return &Scheduler{
		installer: installer,
		channels:  append([]string(nil), channels...),
		cronExpr:  cronExpr,
		cron:      cron.New(cron.WithParser(icron.Parser)),
	}, nil
}

// Start registers the update job and starts the cron engine. Runs triggered
// while a previous one is still going are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		return nil
	}
	id, err := s.cron.AddFunc(s.cronExpr, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule release checks: %w", err)
	}
	s.entry = id
	s.cron.Start()
	log.Info("Release checks scheduled (%s) for %v", s.cronExpr, s.channels)
	return nil
}

// Stop halts the engine and waits for a running update to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce installs the latest release of every configured channel and reports
// how many succeeded. It returns 0 without doing anything when a run is active.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Info("Release check already running, skipping trigger")
		return 0
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	ok := 0
	for _, channel := range s.channels {
		if ctx.Err() != nil {
			break
		}
		if s.installer.Install(ctx, channel, nil) {
			ok++
		}
	}
	return ok
}

// TriggerInfo reports the schedule's next trigger and the last completed run.
func (s *Scheduler) TriggerInfo(now time.Time) (*icron.TriggerInfo, error) {
	info, err := icron.GetTriggerInfo(s.cronExpr, now)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if !s.lastRun.IsZero() {
		info.Last = s.lastRun
		info.TimeSinceLast = now.Sub(s.lastRun)
	}
	s.mu.Unlock()
	return info, nil
}

func (s *Scheduler) Channels() []string {
	return append([]string(nil), s.channels...)
}
