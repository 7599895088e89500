// Package calendar defines the calendar collaborators the assistant reads
// from and commits to, and keeps a periodically refreshed snapshot of
// existing events.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"calassist/internal/model"
)

// Source lists existing events in [from, to).
type Source interface {
	Events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error)
}

// Committer writes a confirmed draft to a calendar. It is only ever called
// after explicit user confirmation.
type Committer interface {
	Commit(ctx context.Context, d model.EventDraft) (model.ExistingEvent, error)
}

// ErrNoCommitter is returned when a commit is requested but no writable
// calendar is configured.
var ErrNoCommitter = errors.New("no writable calendar configured")

// ErrUndated is returned when a task without a date is committed to a
// calendar that needs a start.
var ErrUndated = errors.New("draft has no date")

// Multi merges several sources. A failing source does not hide the others:
// their events are returned together with the joined error.
type Multi []Source

func (m Multi) Events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	var out []model.ExistingEvent
	var errs []error
	for i, s := range m {
		evs, err := s.Events(ctx, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", i, err))
			continue
		}
		out = append(out, evs...)
	}
	SortEvents(out)
	return out, errors.Join(errs...)
}

// SortEvents orders events by start, then end, then ID.
func SortEvents(evs []model.ExistingEvent) {
	slices.SortStableFunc(evs, func(a, b model.ExistingEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := a.End.Compare(b.End); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// InRange reports whether e touches [from, to). Zero-length events count
// when they sit inside the range.
func InRange(e model.ExistingEvent, from, to time.Time) bool {
	if e.Start.Equal(e.End) {
		return !e.Start.Before(from) && e.Start.Before(to)
	}
	return e.Start.Before(to) && e.End.After(from)
}
