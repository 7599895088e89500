package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calassist/internal/log"
	"calassist/internal/model"
)

// RefreshRecorder counts refresh outcomes.
type RefreshRecorder interface {
	IncRefresh(outcome string)
}

type SnapshotOptions struct {
	// Backfill and Horizon bound the cached range around now.
	Backfill time.Duration
	Horizon  time.Duration
	Now      func() time.Time
	Recorder RefreshRecorder
}

// Snapshot caches the events of a source for a window around now. Readers
// get copies and never block on a refresh in progress; queries outside the
// cached window go straight to the source.
type Snapshot struct {
	src  Source
	opts SnapshotOptions

	refreshMu sync.Mutex // serializes refreshes

	mu        sync.RWMutex
	events    []model.ExistingEvent
	from, to  time.Time
	refreshed time.Time
	lastErr   error
}

func NewSnapshot(src Source, opts SnapshotOptions) *Snapshot {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 7 * 24 * time.Hour
	}
	if opts.Backfill < 0 {
		opts.Backfill = 0
	}
	return &Snapshot{src: src, opts: opts}
}

// Refresh reloads the window from the source. On a partial failure the
// events that did load still replace the snapshot.
func (s *Snapshot) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	now := s.opts.Now()
	from := now.Add(-s.opts.Backfill)
	to := now.Add(s.opts.Horizon)

	start := time.Now()
	evs, err := s.src.Events(ctx, from, to)
	outcome := "ok"
	switch {
	case err != nil && len(evs) == 0:
		outcome = "error"
	case err != nil:
		outcome = "partial"
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.IncRefresh(outcome)
	}

	if outcome == "error" {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		log.Error("calendar refresh failed", err, "elapsed", time.Since(start))
		return fmt.Errorf("refresh calendar: %w", err)
	}

	s.mu.Lock()
	s.events = evs
	s.from, s.to = from, to
	s.refreshed = now
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		log.Warn("calendar refresh partial", "events", len(evs), "error", err)
	} else {
		log.Info("calendar refreshed", "events", len(evs), "elapsed", time.Since(start))
	}
	return err
}

// Events returns a copy of the cached events touching [from, to).
func (s *Snapshot) Events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	s.mu.RLock()
	covered := !s.refreshed.IsZero() && !from.Before(s.from) && !to.After(s.to)
	var out []model.ExistingEvent
	if covered {
		for _, e := range s.events {
			if InRange(e, from, to) {
				out = append(out, e)
			}
		}
	}
	s.mu.RUnlock()

	if !covered {
		return s.src.Events(ctx, from, to)
	}
	return out, nil
}

// RefreshedAt returns when the snapshot was last loaded and the error of the
// last attempt, if any.
func (s *Snapshot) RefreshedAt() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed, s.lastErr
}

// Scheduler refreshes a snapshot on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// StartRefresh schedules s.Refresh with a standard five-field cron spec
// evaluated in loc. Each run is bounded by timeout.
func StartRefresh(ctx context.Context, s *Snapshot, spec string, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_ = s.Refresh(rctx)
	})
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info("calendar refresh scheduled", "cron", spec, "tz", loc.String())
	return &Scheduler{cron: c}, nil
}

// Stop halts the schedule and waits for a running refresh to finish or ctx
// to end.
func (sc *Scheduler) Stop(ctx context.Context) {
	done := sc.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
