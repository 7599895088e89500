// Package conflict detects overlaps between a draft and existing events and
// finds free slots inside working hours.
//
// Every function here is pure: input slices are never modified, so callers
// may share one calendar snapshot across concurrent requests.
package conflict

import (
	"fmt"
	"slices"
	"time"

	"calassist/internal/model"
)

const (
	DefaultMaxSuggestions = 5
	DefaultHorizon        = 7 * 24 * time.Hour
)

// WorkingHours bounds slot suggestions to a daily time-of-day range. Start
// and End are offsets from local midnight; End == 0 means the end of the day.
// Empty Days means every day, and a nil Location means the zone of the
// search window.
type WorkingHours struct {
	Start    time.Duration
	End      time.Duration
	Days     []time.Weekday
	Location *time.Location
}

func (h WorkingHours) validate() error {
	end := h.End
	if end == 0 {
		end = 24 * time.Hour
	}
	if h.Start < 0 || end > 24*time.Hour || h.Start >= end {
		return fmt.Errorf("%w: %v-%v", model.ErrInvalidWorkingHours, h.Start, h.End)
	}
	return nil
}

func (h WorkingHours) allows(d time.Weekday) bool {
	return len(h.Days) == 0 || slices.Contains(h.Days, d)
}

// windows returns the working intervals that touch w, in order.
func (h WorkingHours) windows(w model.Interval) []model.Interval {
	loc := h.Location
	if loc == nil {
		loc = w.Start.Location()
	}
	startH, startM := splitClock(h.Start)
	endH, endM := splitClock(h.End)

	var out []model.Interval
	first := w.Start.In(loc)
	for day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); day.Before(w.End); day = day.AddDate(0, 0, 1) {
		if !h.allows(day.Weekday()) {
			continue
		}
		iv := model.Interval{
			Start: time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc),
			End:   time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc),
		}
		if h.End == 0 {
			iv.End = day.AddDate(0, 0, 1)
		}
		if clipped, ok := iv.Intersect(w); ok {
			out = append(out, clipped)
		}
	}
	return out
}

func splitClock(d time.Duration) (int, int) {
	return int(d / time.Hour), int((d % time.Hour) / time.Minute)
}

// FindConflicts returns the events overlapping iv ordered by start time.
// Zero-length intervals conflict with nothing.
func FindConflicts(iv model.Interval, events []model.ExistingEvent) []model.ExistingEvent {
	out := []model.ExistingEvent{}
	for _, e := range events {
		if iv.Overlaps(e.Interval()) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b model.ExistingEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
	return out
}

// SuggestSlots returns the free gaps inside window and working hours that
// are at least duration long, earliest first, at most limit of them (a
// non-positive limit means DefaultMaxSuggestions).
func SuggestSlots(duration time.Duration, window model.Interval, events []model.ExistingEvent, hours WorkingHours, limit int) ([]model.Interval, error) {
	if !window.Start.Before(window.End) {
		return nil, fmt.Errorf("%w: %s to %s", model.ErrInvalidSearchWindow, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidDuration, duration)
	}
	if err := hours.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMaxSuggestions
	}

	out := []model.Interval{}
	for _, gap := range freeGaps(window, events) {
		for _, wh := range hours.windows(window) {
			slot, ok := gap.Intersect(wh)
			if !ok || slot.Duration() < duration {
				continue
			}
			out = append(out, slot)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// freeGaps sweeps window and returns the stretches not covered by any event.
func freeGaps(window model.Interval, events []model.ExistingEvent) []model.Interval {
	busy := merge(events, window)
	var gaps []model.Interval
	cursor := window.Start
	for _, b := range busy {
		if b.Start.After(cursor) {
			gaps = append(gaps, model.Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		gaps = append(gaps, model.Interval{Start: cursor, End: window.End})
	}
	return gaps
}

// merge clips events to window, sorts them and joins overlapping or
// adjacent intervals.
func merge(events []model.ExistingEvent, window model.Interval) []model.Interval {
	ivs := make([]model.Interval, 0, len(events))
	for _, e := range events {
		if iv, ok := e.Interval().Intersect(window); ok {
			ivs = append(ivs, iv)
		}
	}
	slices.SortFunc(ivs, func(a, b model.Interval) int {
		return a.Start.Compare(b.Start)
	})

	var out []model.Interval
	for _, iv := range ivs {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

type ReportOptions struct {
	Hours WorkingHours
	// Horizon is how far past the start of the draft's day suggestions are
	// searched. Zero means DefaultHorizon.
	Horizon time.Duration
	// Now keeps suggestions out of the past when set.
	Now time.Time
	Max int
}

// Report checks a draft against events. Free slots of the draft's length are
// suggested only when the draft conflicts; dateless and all-day drafts never
// get suggestions.
func Report(d model.EventDraft, events []model.ExistingEvent, opts ReportOptions) (model.ConflictReport, error) {
	rep := model.ConflictReport{
		Draft:               d,
		Overlapping:         []model.ExistingEvent{},
		FreeSlotSuggestions: []model.Interval{},
	}
	if !d.Dated() {
		return rep, nil
	}
	rep.Overlapping = FindConflicts(d.Interval(), events)
	if !rep.HasConflicts() || d.AllDay {
		return rep, nil
	}

	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	day := time.Date(d.Start.Year(), d.Start.Month(), d.Start.Day(), 0, 0, 0, 0, d.Start.Location())
	window := model.Interval{Start: day, End: day.Add(horizon)}
	if opts.Now.After(window.Start) {
		window.Start = opts.Now
	}
	if window.Empty() {
		return rep, nil
	}

	slots, err := SuggestSlots(d.Interval().Duration(), window, events, opts.Hours, opts.Max)
	if err != nil {
		return rep, err
	}
	rep.FreeSlotSuggestions = slots
	return rep, nil
}
