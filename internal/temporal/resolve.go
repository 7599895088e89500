// Package temporal turns date and time phrases in free text ("tomorrow at
// 2pm", "next Friday at noon", "every Monday 9-10am") into absolute
// intervals relative to a reference instant and a time zone.
package temporal

import (
	"errors"
	"slices"
	"sort"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/teambition/rrule-go"

	"calassist/internal/model"
)

// NextWeekdayPolicy decides what "next <weekday>" means.
type NextWeekdayPolicy string

const (
	// NextWeekdayUpcoming treats "next friday" like a bare "friday": the first
	// one strictly after the reference day.
	NextWeekdayUpcoming NextWeekdayPolicy = "upcoming"
	// NextWeekdayFollowingWeek picks that weekday in the following calendar
	// week.
	NextWeekdayFollowingWeek NextWeekdayPolicy = "following_week"
)

// DateOrder decides how numeric dates such as 3/4 are read.
type DateOrder string

const (
	DateOrderMDY DateOrder = "mdy"
	DateOrderDMY DateOrder = "dmy"
)

const DefaultDuration = 60 * time.Minute

type Options struct {
	// DefaultDuration is applied when only a start time is known.
	DefaultDuration time.Duration
	NextWeekday     NextWeekdayPolicy
	DateOrder       DateOrder
	// SundayFirst starts weeks on Sunday instead of Monday.
	SundayFirst bool
}

type Resolver struct {
	opts Options
}

func New(opts Options) *Resolver {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultDuration
	}
	if opts.NextWeekday == "" {
		opts.NextWeekday = NextWeekdayUpcoming
	}
	if opts.DateOrder == "" {
		opts.DateOrder = DateOrderMDY
	}
	return &Resolver{opts: opts}
}

func (r *Resolver) newScan(ref time.Time, loc *time.Location) *scanContext {
	if loc == nil {
		loc = time.UTC
	}
	ref = ref.In(loc)
	return &scanContext{opts: r.opts, ref: ref, loc: loc, today: civilOf(ref)}
}

// Resolve returns every temporal expression in text ordered by position. If
// any date-like text cannot be mapped onto a real date the result is empty
// and the error wraps model.ErrUnresolvedTemporalExpression.
func (r *Resolver) Resolve(text string, ref time.Time, loc *time.Location) ([]model.TemporalExpression, error) {
	sc := r.newScan(ref, loc)
	marks := sc.scan(text)

	var errs []error
	for _, m := range marks {
		if m.err != nil {
			errs = append(errs, m.err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var out []model.TemporalExpression
	for _, clause := range splitClauses(text) {
		var in []marker
		for _, m := range marks {
			if clause.Contains(m.span.Start) {
				in = append(in, m)
			}
		}
		out = append(out, sc.combine(text, in)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Start != out[j].Span.Start {
			return out[i].Span.Start < out[j].Span.Start
		}
		return out[i].Start.Before(out[j].Start)
	})
	return dedupe(out), nil
}

// Markers returns the spans of all date- and time-like text, including text
// that would not resolve.
func (r *Resolver) Markers(text string) []model.Span {
	sc := r.newScan(time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	marks := sc.scan(text)
	spans := make([]model.Span, 0, len(marks))
	for _, m := range marks {
		spans = append(spans, m.span)
	}
	return spans
}

// ParseDuration returns the first explicit duration in text, such as
// "30 minute" or "for 2 hours".
func (r *Resolver) ParseDuration(text string) (time.Duration, bool) {
	sc := r.newScan(time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	for _, m := range sc.scan(text) {
		if m.kind == kindDuration {
			return m.dur, true
		}
	}
	return 0, false
}

// combine pairs the markers of one clause into expressions: each date takes
// its nearest time, and times left over take their nearest date (or an
// implicit today/tomorrow).
func (sc *scanContext) combine(text string, marks []marker) []model.TemporalExpression {
	var dates, times []marker
	var dur time.Duration
	var out []model.TemporalExpression

	for _, m := range settleMeridiem(marks) {
		switch m.kind {
		case kindDate:
			dates = append(dates, m)
		case kindTime:
			times = append(times, m)
		case kindUntil:
			for i := len(times) - 1; i >= 0; i-- {
				if times[i].end == nil {
					end := m.start
					// "from 7pm until 10" ends at 22:00.
					if m.guess > 0 && end.hour < 12 && minutes(end) <= minutes(times[i].start) {
						end.hour += 12
					}
					times[i].end = &end
					times[i].span = times[i].span.Union(m.span)
					break
				}
			}
		case kindDuration:
			if dur == 0 {
				dur = m.dur
			}
		}
	}

	for _, m := range marks {
		if m.kind == kindInstant {
			out = append(out, sc.emitInstant(text, m, dur))
		}
	}

	used := make([]bool, len(times))
	for i := range dates {
		j := nearest(dates[i], times)
		if j < 0 {
			out = append(out, sc.emit(text, &dates[i], nil, dur))
			continue
		}
		used[j] = true
		out = append(out, sc.emit(text, &dates[i], &times[j], dur))
	}
	for j := range times {
		if used[j] {
			continue
		}
		if i := nearest(times[j], dates); i >= 0 {
			out = append(out, sc.emit(text, &dates[i], &times[j], dur))
		} else {
			out = append(out, sc.emit(text, nil, &times[j], dur))
		}
	}
	return out
}

// settleMeridiem resolves guessed hours with the part of day named in the
// same clause ("tonight at 8", "at 7 in the morning"). A part of day that
// settled an hour is folded into it instead of becoming a time of its own.
func settleMeridiem(marks []marker) []marker {
	hint := ""
	guessed := false
	for _, m := range marks {
		if m.hint != "" {
			hint = m.hint
		}
		if m.guess > 0 {
			guessed = true
		}
	}
	if hint == "" || !guessed {
		return marks
	}

	var out, parts []marker
	for _, m := range marks {
		switch {
		case m.kind == kindTime && m.hint != "":
			parts = append(parts, m)
			continue
		case m.guess > 0:
			m.start.hour = to24(m.guess, hint)
			m.hint = hint
			m.flags = slices.DeleteFunc(slices.Clone(m.flags), func(f model.Flag) bool {
				return f == model.FlagAmbiguousTime
			})
		}
		out = append(out, m)
	}

	var targets []marker
	for _, m := range out {
		if m.kind == kindTime && m.guess > 0 {
			targets = append(targets, m)
		}
	}
	for _, p := range parts {
		i := nearest(p, targets)
		if i < 0 {
			out = append(out, p)
			continue
		}
		for k := range out {
			if out[k].kind == kindTime && out[k].span == targets[i].span {
				out[k].span = out[k].span.Union(p.span)
				targets[i] = out[k]
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].span.Start < out[j].span.Start })
	return out
}

func minutes(c clock) int { return c.hour*60 + c.minute }

func nearest(m marker, others []marker) int {
	best, bestDist := -1, 0
	for i, o := range others {
		d := distance(m.span, o.span)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distance(a, b model.Span) int {
	switch {
	case a.End <= b.Start:
		return b.Start - a.End
	case b.End <= a.Start:
		return a.Start - b.End
	}
	return 0
}

func (sc *scanContext) emit(text string, d, t *marker, dur time.Duration) model.TemporalExpression {
	var e model.TemporalExpression
	switch {
	case d != nil && t != nil:
		e.Span = d.span.Union(t.span)
	case d != nil:
		e.Span = d.span
	default:
		e.Span = t.span
	}
	e.Text = text[e.Span.Start:e.Span.End]

	if t == nil && d.fallback == nil {
		e.AllDay = true
		e.Start = d.date.at(clock{}, sc.loc)
		if d.recur != nil {
			e.Start, e.RRule = firstOccurrence(*d.recur, e.Start, sc.ref)
		}
		e.End = civilOf(e.Start).addDays(d.days).at(clock{}, sc.loc)
		return e
	}

	clk := clock{}
	switch {
	case t != nil:
		clk = t.start
		e.Flags = e.Flags.With(t.flags...)
	default:
		clk = *d.fallback
		e.Flags = e.Flags.With(model.FlagApproximateTime)
	}

	date := sc.today
	if d != nil {
		date = d.date
	}
	// A guessed morning hour that already passed today is read as evening.
	if t != nil && t.guess > 0 && t.hint == "" && t.end == nil && clk.hour < 12 && date == sc.today &&
		(d == nil || d.recur == nil) && !date.at(clk, sc.loc).After(sc.ref) {
		clk.hour += 12
	}
	e.Start = date.at(clk, sc.loc)
	if d == nil && !e.Start.After(sc.ref) {
		e.Start = date.addDays(1).at(clk, sc.loc)
	}
	if d != nil && d.recur != nil {
		e.Start, e.RRule = firstOccurrence(*d.recur, e.Start, sc.ref)
	}

	switch {
	case t != nil && t.end != nil:
		day := civilOf(e.Start)
		e.End = day.at(*t.end, sc.loc)
		if !e.End.After(e.Start) {
			e.End = day.addDays(1).at(*t.end, sc.loc)
		}
	case dur > 0:
		e.End = e.Start.Add(dur)
	default:
		e.End = e.Start.Add(sc.opts.DefaultDuration)
		e.Flags = e.Flags.With(model.FlagAmbiguousDuration)
	}
	return e
}

func (sc *scanContext) emitInstant(text string, m marker, dur time.Duration) model.TemporalExpression {
	e := model.TemporalExpression{
		Text:  text[m.span.Start:m.span.End],
		Span:  m.span,
		Start: m.at.In(sc.loc),
	}
	if dur > 0 {
		e.End = e.Start.Add(dur)
	} else {
		e.End = e.Start.Add(sc.opts.DefaultDuration)
		e.Flags = e.Flags.With(model.FlagAmbiguousDuration)
	}
	return e
}

// firstOccurrence anchors the rule at dtstart and returns the first
// occurrence after ref together with the rule text.
func firstOccurrence(opt rrule.ROption, dtstart, ref time.Time) (time.Time, string) {
	opt.Dtstart = dtstart
	rule := opt.RRuleString()
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return dtstart, rule
	}
	if next := rr.After(ref, false); !next.IsZero() {
		return next, rule
	}
	return dtstart, rule
}

func dedupe(in []model.TemporalExpression) []model.TemporalExpression {
	out := in[:0]
	for _, e := range in {
		dup := false
		for _, o := range out {
			if o.Start.Equal(e.Start) && o.End.Equal(e.End) && o.AllDay == e.AllDay && o.RRule == e.RRule {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

// splitClauses breaks text at sentence punctuation. A period only ends a
// clause when followed by whitespace and an upper-case letter, so "p.m."
// and "Dr." stay inside their clause.
func splitClauses(text string) []model.Span {
	var spans []model.Span
	start := 0
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		next := i + w
		boundary := false
		switch r {
		case ';', '!', '?', '\n':
			boundary = true
		case '.':
			rest := text[next:]
			if r1, w1 := utf8.DecodeRuneInString(rest); w1 > 0 && unicode.IsSpace(r1) {
				r2, _ := utf8.DecodeRuneInString(rest[w1:])
				boundary = unicode.IsUpper(r2)
			}
		}
		if boundary {
			spans = append(spans, model.Span{Start: start, End: next})
			start = next
		}
		i = next
	}
	if start < len(text) || len(spans) == 0 {
		spans = append(spans, model.Span{Start: start, End: len(text)})
	}
	return spans
}
