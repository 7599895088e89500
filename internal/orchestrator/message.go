package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"calassist/internal/model"
)

const (
	dayLayout  = "Mon Jan 2"
	timeLayout = "Mon Jan 2 3:04 PM"
)

// userMessage explains a failed turn. It never includes wrapped detail.
func userMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingTemporalExpression):
		return "When should that be? I couldn't find a date or time."
	case errors.Is(err, model.ErrUnresolvedTemporalExpression):
		return "I couldn't read that date. Could you say it another way?"
	case errors.Is(err, model.ErrInvalidSearchWindow):
		return "That time range is empty, so there is nothing to search."
	case errors.Is(err, model.ErrInvalidDuration):
		return "That duration doesn't look right."
	default:
		return "Something went wrong while checking your calendar. Please try again."
	}
}

func draftMessage(d model.EventDraft, rep *model.ConflictReport) string {
	var b strings.Builder
	switch {
	case !d.Dated():
		fmt.Fprintf(&b, "Add task %q?", d.Title)
	case d.AllDay:
		fmt.Fprintf(&b, "Add %q on %s?", d.Title, span(d.Start, d.End, true))
	default:
		fmt.Fprintf(&b, "Add %q on %s?", d.Title, span(d.Start, d.End, false))
	}
	if len(d.Participants) > 0 {
		fmt.Fprintf(&b, " With %s.", strings.Join(d.Participants, ", "))
	}
	if rep != nil && rep.HasConflicts() {
		fmt.Fprintf(&b, " It overlaps %s.", titles(rep.Overlapping))
		if len(rep.FreeSlotSuggestions) > 0 {
			fmt.Fprintf(&b, " Free instead: %s.", slotList(rep.FreeSlotSuggestions))
		}
	}
	return b.String()
}

func conflictMessage(events []model.ExistingEvent) string {
	if len(events) == 0 {
		return "You're free then."
	}
	return fmt.Sprintf("That overlaps %s.", titles(events))
}

func slotsMessage(slots []model.Interval, dur time.Duration) string {
	if len(slots) == 0 {
		return fmt.Sprintf("I couldn't find %s free in that window.", humanDuration(dur))
	}
	return fmt.Sprintf("You have %s free: %s.", humanDuration(dur), slotList(slots))
}

func scheduleMessage(events []model.ExistingEvent) string {
	if len(events) == 0 {
		return "Nothing scheduled."
	}
	parts := make([]string, 0, len(events))
	for _, e := range events {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Title, span(e.Start, e.End, e.AllDay)))
	}
	return strings.Join(parts, "; ")
}

func titles(events []model.ExistingEvent) string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, fmt.Sprintf("%q", e.Title))
	}
	return strings.Join(names, ", ")
}

func slotList(slots []model.Interval) string {
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		parts = append(parts, span(s.Start, s.End, false))
	}
	return strings.Join(parts, ", ")
}

func span(start, end time.Time, allDay bool) string {
	if allDay {
		last := end.AddDate(0, 0, -1)
		if !last.After(start) {
			return start.Format(dayLayout)
		}
		return start.Format(dayLayout) + " - " + last.Format(dayLayout)
	}
	if start.Equal(end) {
		return start.Format(timeLayout)
	}
	return start.Format(timeLayout) + " - " + end.Format("3:04 PM")
}

func humanDuration(d time.Duration) string {
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0 && h == 1:
		return "1 hour"
	case m == 0:
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%dh%02d", h, m)
	}
}
