package model

import (
	"slices"
	"time"
)

// Utterance is one unit of free-text input together with the instant and
// zone it should be interpreted against. It is never mutated.
type Utterance struct {
	Text      string
	Reference time.Time
	Location  *time.Location
}

// NewUtterance builds an Utterance with the reference instant converted to
// loc. A nil loc means UTC.
func NewUtterance(text string, ref time.Time, loc *time.Location) Utterance {
	if loc == nil {
		loc = time.UTC
	}
	return Utterance{Text: text, Reference: ref.In(loc), Location: loc}
}

// Span is a half-open byte range [Start, End) into an utterance.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) Contains(pos int) bool {
	return pos >= s.Start && pos < s.End
}

// Union returns the smallest span covering both s and o.
func (s Span) Union(o Span) Span {
	return Span{Start: min(s.Start, o.Start), End: max(s.End, o.End)}
}

// Flag marks an ambiguity or a guess taken while interpreting text.
type Flag string

const (
	FlagAmbiguousDuration     Flag = "ambiguousDuration"
	FlagAmbiguousTime         Flag = "ambiguousTime"
	FlagApproximateTime       Flag = "approximateTime"
	FlagMultipleTimesDetected Flag = "multipleTimesDetected"
	FlagLowConfidenceTitle    Flag = "lowConfidenceTitle"
	FlagUnresolvedDate        Flag = "unresolvedDate"
	FlagModelInterpreted      Flag = "modelInterpreted"
)

// Flags is a set of Flag kept sorted so that equal sets compare equal.
type Flags []Flag

// With returns a copy of f that also contains flags.
func (f Flags) With(flags ...Flag) Flags {
	out := slices.Clone(f)
	for _, fl := range flags {
		if !slices.Contains(out, fl) {
			out = append(out, fl)
		}
	}
	slices.Sort(out)
	return out
}

func (f Flags) Has(fl Flag) bool {
	return slices.Contains(f, fl)
}

// TemporalExpression is a span of text resolved to an absolute interval.
// Start <= End always holds; End is filled with the default duration when the
// text only gave a start.
type TemporalExpression struct {
	Text   string    `json:"text"`
	Span   Span      `json:"span"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
	// RRule is an RFC 5545 recurrence rule (without DTSTART) when the text
	// described a repeating event.
	RRule string `json:"rrule,omitempty"`
	Flags Flags  `json:"flags,omitempty"`
}

func (e TemporalExpression) Recurring() bool { return e.RRule != "" }

func (e TemporalExpression) Interval() Interval {
	return Interval{Start: e.Start, End: e.End}
}

type EntityKind string

const (
	EntityPerson   EntityKind = "person"
	EntityTitle    EntityKind = "title"
	EntityLocation EntityKind = "location"
)

type ExtractedEntity struct {
	Kind       EntityKind `json:"kind"`
	Text       string     `json:"text"`
	Span       Span       `json:"span"`
	Confidence float64    `json:"confidence"`
}

type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryFriends  Category = "friends"
	CategoryHealth   Category = "health"
	CategoryOther    Category = "other"
)

// CategoryPriority is the tie-break order used when several categories match
// equally often.
var CategoryPriority = []Category{CategoryWork, CategoryHealth, CategoryPersonal, CategoryFriends, CategoryOther}

type CategoryLabel struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

type DraftKind string

const (
	DraftEvent DraftKind = "event"
	DraftTask  DraftKind = "task"
)

// EventDraft is an unconfirmed event (or task) awaiting user approval. A task
// without a date has zero Start and End.
type EventDraft struct {
	Kind         DraftKind     `json:"kind"`
	Title        string        `json:"title"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	AllDay       bool          `json:"all_day"`
	RRule        string        `json:"rrule,omitempty"`
	Location     string        `json:"location,omitempty"`
	Category     CategoryLabel `json:"category"`
	Participants []string      `json:"participants"`
	Confidence   float64       `json:"confidence"`
	Flags        Flags         `json:"flags,omitempty"`
	Source       string        `json:"source"`
}

func (d EventDraft) Dated() bool { return !d.Start.IsZero() }

func (d EventDraft) Interval() Interval {
	return Interval{Start: d.Start, End: d.End}
}

// ExistingEvent is an event already on the user's calendar. It is read-only
// to every component.
type ExistingEvent struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
	Source string    `json:"source,omitempty"`
}

func (e ExistingEvent) Interval() Interval {
	return Interval{Start: e.Start, End: e.End}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Empty reports whether the interval has no positive length.
func (i Interval) Empty() bool { return !i.Start.Before(i.End) }

// Overlaps reports start1 < end2 && start2 < end1. Zero-length intervals
// never overlap anything.
func (i Interval) Overlaps(o Interval) bool {
	if i.Empty() || o.Empty() {
		return false
	}
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Intersect returns the common part of i and o, and false when they share
// no positive-length range.
func (i Interval) Intersect(o Interval) (Interval, bool) {
	out := Interval{Start: i.Start, End: i.End}
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	if out.Empty() {
		return Interval{}, false
	}
	return out, true
}

// ConflictReport is the result of checking a draft against the calendar.
type ConflictReport struct {
	Draft               EventDraft      `json:"draft"`
	Overlapping         []ExistingEvent `json:"overlapping"`
	FreeSlotSuggestions []Interval      `json:"free_slot_suggestions"`
}

func (r ConflictReport) HasConflicts() bool { return len(r.Overlapping) > 0 }
