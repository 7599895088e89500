package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"calassist/internal/calendar"
	"calassist/internal/log"
	"calassist/internal/model"
)

const maxInstancesPerEvent = 5000

// Expand turns parsed VEVENTs into the concrete events touching [from, to),
// converted to loc. Recurring events are expanded with their RRULE minus
// EXDATEs; RECURRENCE-ID overrides replace the instance they name. All-day
// events keep their calendar date in loc.
func Expand(events []ParsedEvent, from, to time.Time, loc *time.Location) ([]model.ExistingEvent, error) {
	if to.Before(from) {
		return nil, model.ErrInvalidSearchWindow
	}
	if loc == nil {
		loc = time.Local
	}

	overridden := make(map[string][]time.Time)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overridden[ev.UID] = append(overridden[ev.UID], *ev.RecurrenceID)
		}
	}

	out := make([]model.ExistingEvent, 0)
	for _, ev := range events {
		switch {
		case ev.RecurrenceID != nil:
			out = appendInRange(out, instance(ev, ev.Start, ev.End, loc, *ev.RecurrenceID), from, to)
		case ev.RRule == "":
			out = appendInRange(out, instance(ev, ev.Start, ev.End, loc, time.Time{}), from, to)
		default:
			out = append(out, expandRecurring(ev, overridden[ev.UID], from, to, loc)...)
		}
	}
	calendar.SortEvents(out)
	return out, nil
}

func expandRecurring(ev ParsedEvent, skip []time.Time, from, to time.Time, loc *time.Location) []model.ExistingEvent {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		log.Warn("ics rrule skipped", "uid", ev.UID, "rrule", ev.RRule, "error", err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}
	for _, rid := range skip {
		set.ExDate(rid.In(ev.Start.Location()))
	}

	length := ev.End.Sub(ev.Start)
	days := calendarDays(ev.Start, ev.End)
	starts := set.Between(from.Add(-length).In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	if len(starts) > maxInstancesPerEvent {
		log.Error("ics expansion truncated", errors.New("instance cap reached"), "uid", ev.UID, "cap", maxInstancesPerEvent)
		starts = starts[:maxInstancesPerEvent]
	}

	var out []model.ExistingEvent
	for _, s := range starts {
		e := s.Add(length)
		if ev.AllDay {
			e = s.AddDate(0, 0, days)
		}
		out = appendInRange(out, instance(ev, s, e, loc, s), from, to)
	}
	return out
}

// instance builds one event. A non-zero key marks a recurrence instance and
// is appended to the UID.
func instance(ev ParsedEvent, start, end time.Time, loc *time.Location, key time.Time) model.ExistingEvent {
	e := model.ExistingEvent{
		ID:     ev.UID,
		Title:  ev.Summary,
		AllDay: ev.AllDay,
		Source: ev.SourceID,
	}
	if ev.AllDay {
		days := calendarDays(start, end)
		y, m, d := start.Date()
		e.Start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		e.End = e.Start.AddDate(0, 0, days)
	} else {
		e.Start = start.In(loc)
		e.End = end.In(loc)
	}
	if !key.IsZero() {
		e.ID = ev.UID + "@" + key.UTC().Format("20060102T150405Z")
	}
	return e
}

// calendarDays counts the whole dates an all-day span covers, at least one.
func calendarDays(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	a := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	n := int(b.Sub(a).Hours() / 24)
	if n < 1 {
		n = 1
	}
	return n
}

func appendInRange(out []model.ExistingEvent, e model.ExistingEvent, from, to time.Time) []model.ExistingEvent {
	if calendar.InRange(e, from, to) {
		out = append(out, e)
	}
	return out
}
