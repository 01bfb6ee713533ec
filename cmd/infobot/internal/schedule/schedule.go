// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package schedule runs jobs on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs a job at the beginning of every hour.
const DefaultSpec = "0 * * * *"

// Job is a scheduled function. Errors are logged.
type Job func(ctx context.Context) error

// Scheduler runs jobs in UTC. A job that is still running when its next
// tick arrives is skipped, and panics in jobs are recovered and logged.
type Scheduler struct {
	c   *cron.Cron
	log *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

// New returns a new Scheduler.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	l := logger{log}
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		log:     log,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Validate checks a standard five field cron spec.
func Validate(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// Add schedules job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already exists", name)
	}
	id, err := s.c.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.run(ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", name, err)
	}
	s.entries[name] = id
	s.log.Info("scheduled job", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	start := time.Now()
	s.log.Info("running job", "job", name)
	if err := job(ctx); err != nil {
		s.log.Error("job failed", "job", name, "err", err, "duration", time.Since(start))
		return
	}
	s.log.Info("job done", "job", name, "duration", time.Since(start))
}

// Next returns the time job name runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.c.Entry(id).Next
	return next, !next.IsZero()
}

// Run starts the scheduler and blocks until ctx is canceled. Then it waits
// for running jobs to return. Jobs receive ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.c.Start()
	<-ctx.Done()
	s.log.Info("stopping scheduler")
	<-s.c.Stop().Done()
	return nil
}

// Health reports the next scheduled runs.
func (s *Scheduler) Health() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "no jobs", true
	}
	var status string
	for _, name := range slices.Sorted(maps.Keys(s.entries)) {
		next := s.c.Entry(s.entries[name]).Next
		if status != "" {
			status += "; "
		}
		if next.IsZero() {
			status += name + ": not started"
			continue
		}
		status += name + ": next run at " + next.Format(time.RFC3339)
	}
	return status, true
}

// logger adapts slog to cron.Logger.
type logger struct{ l *slog.Logger }

func (l logger) Info(msg string, keysAndValues ...any) {
	l.l.Debug(msg, keysAndValues...)
}

func (l logger) Error(err error, msg string, keysAndValues ...any) {
	l.l.Error(msg, append([]any{"err", err}, keysAndValues...)...)
}
