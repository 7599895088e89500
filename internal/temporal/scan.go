package temporal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calassist/internal/model"
)

type markerKind int

const (
	kindDate markerKind = iota
	kindTime
	kindUntil
	kindDuration
	kindInstant
)

// clock is a wall-clock time. hour 24 means midnight at the end of the day.
type clock struct {
	hour, minute int
}

// civil is a calendar date without a zone.
type civil struct {
	year  int
	month time.Month
	day   int
}

func civilOf(t time.Time) civil {
	return civil{t.Year(), t.Month(), t.Day()}
}

func (c civil) at(clk clock, loc *time.Location) time.Time {
	return time.Date(c.year, c.month, c.day, clk.hour, clk.minute, 0, 0, loc)
}

func (c civil) addDays(n int) civil {
	return civilOf(time.Date(c.year, c.month, c.day+n, 12, 0, 0, 0, time.UTC))
}

func (c civil) weekday() time.Weekday {
	return time.Date(c.year, c.month, c.day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (c civil) before(o civil) bool {
	if c.year != o.year {
		return c.year < o.year
	}
	if c.month != o.month {
		return c.month < o.month
	}
	return c.day < o.day
}

func validDate(y int, m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 {
		return false
	}
	return d <= time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// marker is one recognized piece of date or time text.
type marker struct {
	kind markerKind
	span model.Span

	// kindDate
	date     civil
	days     int
	recur    *rrule.ROption
	fallback *clock
	err      error

	// kindTime, kindUntil
	start clock
	end   *clock
	flags model.Flags
	// guess is the written hour (1-12) when its meridiem was guessed.
	guess int
	// hint is "am" or "pm" for markers that name a part of the day.
	hint string

	// kindDuration, kindInstant
	dur time.Duration
	at  time.Time
}

type scanContext struct {
	opts  Options
	ref   time.Time
	loc   *time.Location
	today civil
}

type groups struct {
	s   string
	idx []int
}

func (g groups) get(n int) string {
	if 2*n+1 >= len(g.idx) || g.idx[2*n] < 0 {
		return ""
	}
	return g.s[g.idx[2*n]:g.idx[2*n+1]]
}

type pattern struct {
	re    *regexp.Regexp
	build func(sc *scanContext, g groups) (marker, bool)
}

var patterns = []pattern{
	{regexp.MustCompile(`\b(?:every|each)\s+(day|weekday|week|month|` + weekdayAlt + `)\b`), buildEvery},
	{regexp.MustCompile(`\b(daily|weekly|monthly)\b`), buildEvery},
	{regexp.MustCompile(`\b(?:on\s+)?(day after tomorrow|today|tonight|tomorrow|tmrw)\b`), buildRelativeDay},
	{regexp.MustCompile(`\b(?:on\s+)?(?:(this|next|coming)\s+)?(` + weekdayPatternAlt + `)\b`), buildWeekday},
	{regexp.MustCompile(`\b(this|next)\s+(week|weekend)\b`), buildWeek},
	{regexp.MustCompile(`\bin\s+(` + countAlt + `)\s+(days?|weeks?)\b`), buildInDays},
	{regexp.MustCompile(`\bin\s+(` + countAlt + `)\s+(hours?|hrs?|minutes?|mins?)\b`), buildInstant},
	{regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`), buildISO},
	{regexp.MustCompile(`\b(?:on\s+)?(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`), buildMonthDay},
	{regexp.MustCompile(`\b(?:on\s+)?(?:the\s+)?(\d{1,2})(st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlt + `)(?:,?\s+(\d{4}))?\b`), buildDayMonth},
	{regexp.MustCompile(`\b(?:on\s+)?(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`), buildNumericDate},
	{regexp.MustCompile(`\b(?:on\s+)?the\s+(\d{1,2})(?:st|nd|rd|th)\b`), buildOrdinal},
	{regexp.MustCompile(`\b(?:from\s+|between\s+|at\s+)?(\d{1,2})(?::([0-5]\d))?\s*(` + meridiemAlt + `)?\s*(?:-|–|to|and|until|till)\s*(\d{1,2})(?::([0-5]\d))?\s*(` + meridiemAlt + `)`), buildRange},
	{regexp.MustCompile(`\b(?:from\s+|between\s+|at\s+)?([01]?\d|2[0-3]):([0-5]\d)\s*(?:-|–|to|and|until|till)\s*([01]?\d|2[0-3]):([0-5]\d)\b`), buildRange24},
	{regexp.MustCompile(`\b(?:from\s+|between\s+|at\s+)?(\d{1,2})(?::([0-5]\d))?\s*(` + meridiemAlt + `)?\s*(?:-|–|to|and|until|till)\s*(noon|midday|midnight)\b`), buildRangeNamed},
	{regexp.MustCompile(`(?:\bat\s+|@\s*)?\b(\d{1,2})(?::([0-5]\d))?\s*(` + meridiemAlt + `)`), buildClock12},
	{regexp.MustCompile(`(?:\bat\s+|@\s*)?\b([01]?\d|2[0-3]):([0-5]\d)\b`), buildClock24},
	{regexp.MustCompile(`\b(?:at\s+)?(noon|midday|midnight)\b`), buildNamedClock},
	{regexp.MustCompile(`\bat\s+(\d{1,2})\b`), buildBareHour},
	{regexp.MustCompile(`\b(?:in\s+the\s+|this\s+)?(morning|afternoon|evening|night)\b`), buildPartOfDay},
	{regexp.MustCompile(`\b(?:until|till|til)\s+(?:(\d{1,2})(?::([0-5]\d))?\s*(` + meridiemAlt + `)?|(noon|midday|midnight)\b)`), buildUntil},
	{regexp.MustCompile(`\bfor\s+(\d+(?:\.\d+)?|half\s+an?|` + countAlt + `)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`), buildDuration},
	{regexp.MustCompile(`\b(\d+)[-\s]?(minutes?|mins?|hours?|hrs?)\b`), buildDuration},
}

// weekdayPatternAlt leaves out "sat" and "sun", which read as ordinary words
// far more often than as dates.
const weekdayPatternAlt = `monday|tuesday|wednesday|thursday|friday|saturday|sunday|tues|thurs|thur|mon|tue|wed|thu|fri`

// scan finds all non-overlapping markers in text. Where candidates overlap the
// one starting first wins, and among equal starts the longest.
func (sc *scanContext) scan(text string) []marker {
	lower := lowerASCII(text)

	var cands []marker
	for _, p := range patterns {
		for _, idx := range p.re.FindAllStringSubmatchIndex(lower, -1) {
			m, ok := p.build(sc, groups{s: lower, idx: idx})
			if !ok {
				continue
			}
			m.span = model.Span{Start: idx[0], End: idx[1]}
			cands = append(cands, m)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].span.Start != cands[j].span.Start {
			return cands[i].span.Start < cands[j].span.Start
		}
		return cands[i].span.Len() > cands[j].span.Len()
	})

	out := make([]marker, 0, len(cands))
	lastEnd := 0
	for _, c := range cands {
		if c.span.Start < lastEnd {
			continue
		}
		out = append(out, c)
		lastEnd = c.span.End
	}
	return out
}

func unresolved(g groups) error {
	return fmt.Errorf("%w: %q", model.ErrUnresolvedTemporalExpression, strings.TrimSpace(g.get(0)))
}

func dateMarker(c civil) marker {
	return marker{kind: kindDate, date: c, days: 1}
}

func buildEvery(sc *scanContext, g groups) (marker, bool) {
	m := dateMarker(sc.today)
	opt := rrule.ROption{}
	switch w := g.get(1); w {
	case "day", "daily":
		opt.Freq = rrule.DAILY
	case "weekday":
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}
	case "week", "weekly":
		opt.Freq = rrule.WEEKLY
	case "month", "monthly":
		opt.Freq = rrule.MONTHLY
	default:
		wd, ok := weekdays[w]
		if !ok {
			return marker{}, false
		}
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = []rrule.Weekday{rruleWeekday(wd)}
	}
	m.recur = &opt
	return m, true
}

func rruleWeekday(wd time.Weekday) rrule.Weekday {
	return [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}[wd]
}

func buildRelativeDay(sc *scanContext, g groups) (marker, bool) {
	switch g.get(1) {
	case "today":
		return dateMarker(sc.today), true
	case "tonight":
		m := dateMarker(sc.today)
		m.fallback = &clock{20, 0}
		m.hint = "pm"
		return m, true
	case "tomorrow", "tmrw":
		return dateMarker(sc.today.addDays(1)), true
	case "day after tomorrow":
		return dateMarker(sc.today.addDays(2)), true
	}
	return marker{}, false
}

func buildWeekday(sc *scanContext, g groups) (marker, bool) {
	wd, ok := weekdays[g.get(2)]
	if !ok {
		return marker{}, false
	}
	ahead := (int(wd) - int(sc.today.weekday()) + 7) % 7
	switch g.get(1) {
	case "this":
		// "this friday" may be today.
	case "next":
		if sc.opts.NextWeekday == NextWeekdayFollowingWeek {
			start := sc.weekStart(sc.today).addDays(7)
			offset := (int(wd) - int(sc.firstWeekday()) + 7) % 7
			return dateMarker(start.addDays(offset)), true
		}
		fallthrough
	default:
		// Never today: a bare weekday means the next one strictly after the
		// reference day.
		if ahead == 0 {
			ahead = 7
		}
	}
	return dateMarker(sc.today.addDays(ahead)), true
}

func (sc *scanContext) firstWeekday() time.Weekday {
	if sc.opts.SundayFirst {
		return time.Sunday
	}
	return time.Monday
}

func (sc *scanContext) weekStart(c civil) civil {
	back := (int(c.weekday()) - int(sc.firstWeekday()) + 7) % 7
	return c.addDays(-back)
}

func buildWeek(sc *scanContext, g groups) (marker, bool) {
	next := g.get(1) == "next"
	if g.get(2) == "week" {
		start := sc.weekStart(sc.today)
		if next {
			start = start.addDays(7)
		}
		m := dateMarker(start)
		m.days = 7
		return m, true
	}
	// Weekend: Saturday and Sunday. On a Sunday "this weekend" is the one
	// already in progress.
	ahead := (int(time.Saturday) - int(sc.today.weekday()) + 7) % 7
	if sc.today.weekday() == time.Sunday {
		ahead = -1
	}
	sat := sc.today.addDays(ahead)
	if next {
		sat = sat.addDays(7)
	}
	m := dateMarker(sat)
	m.days = 2
	return m, true
}

func buildInDays(sc *scanContext, g groups) (marker, bool) {
	n, ok := parseCount(g.get(1))
	if !ok {
		return marker{}, false
	}
	if strings.HasPrefix(g.get(2), "week") {
		n *= 7
	}
	return dateMarker(sc.today.addDays(n)), true
}

func buildInstant(sc *scanContext, g groups) (marker, bool) {
	n, ok := parseCount(g.get(1))
	if !ok {
		return marker{}, false
	}
	unit := time.Minute
	if strings.HasPrefix(g.get(2), "h") {
		unit = time.Hour
	}
	return marker{kind: kindInstant, at: sc.ref.Add(time.Duration(n) * unit).Truncate(time.Minute)}, true
}

func buildISO(_ *scanContext, g groups) (marker, bool) {
	y, _ := strconv.Atoi(g.get(1))
	mo, _ := strconv.Atoi(g.get(2))
	d, _ := strconv.Atoi(g.get(3))
	if !validDate(y, time.Month(mo), d) {
		return marker{kind: kindDate, err: unresolved(g)}, true
	}
	return dateMarker(civil{y, time.Month(mo), d}), true
}

func buildMonthDay(sc *scanContext, g groups) (marker, bool) {
	return sc.monthDate(g, months[g.get(1)], g.get(2), g.get(3))
}

func buildDayMonth(sc *scanContext, g groups) (marker, bool) {
	// "3 may" without an ordinal or year is usually the modal verb.
	if g.get(3) == "may" && g.get(2) == "" && g.get(4) == "" {
		return marker{}, false
	}
	return sc.monthDate(g, months[g.get(3)], g.get(1), g.get(4))
}

func buildNumericDate(sc *scanContext, g groups) (marker, bool) {
	a, _ := strconv.Atoi(g.get(1))
	b, _ := strconv.Atoi(g.get(2))
	mo, d := a, b
	if sc.opts.DateOrder == DateOrderDMY {
		mo, d = b, a
	}
	if mo < 1 || mo > 12 {
		return marker{kind: kindDate, err: unresolved(g)}, true
	}
	year := g.get(3)
	if len(year) == 2 {
		year = "20" + year
	}
	return sc.monthDate(g, time.Month(mo), strconv.Itoa(d), year)
}

// monthDate resolves a day of a known month. Without a year it picks the
// next occurrence that is not in the past.
func (sc *scanContext) monthDate(g groups, mo time.Month, dayStr, yearStr string) (marker, bool) {
	d, err := strconv.Atoi(dayStr)
	if err != nil {
		return marker{}, false
	}
	if yearStr != "" {
		y, _ := strconv.Atoi(yearStr)
		if !validDate(y, mo, d) {
			return marker{kind: kindDate, err: unresolved(g)}, true
		}
		return dateMarker(civil{y, mo, d}), true
	}
	// Eight years always contains a leap year, so February 29 resolves.
	for y := sc.today.year; y <= sc.today.year+8; y++ {
		c := civil{y, mo, d}
		if validDate(y, mo, d) && !c.before(sc.today) {
			return dateMarker(c), true
		}
	}
	return marker{kind: kindDate, err: unresolved(g)}, true
}

func buildOrdinal(sc *scanContext, g groups) (marker, bool) {
	d, _ := strconv.Atoi(g.get(1))
	if d >= 1 && d <= 31 {
		for i := 0; i < 12; i++ {
			t := time.Date(sc.today.year, sc.today.month+time.Month(i), 1, 12, 0, 0, 0, time.UTC)
			c := civil{t.Year(), t.Month(), d}
			if validDate(c.year, c.month, c.day) && !c.before(sc.today) {
				return dateMarker(c), true
			}
		}
	}
	return marker{kind: kindDate, err: unresolved(g)}, true
}

func to24(h int, meridiem string) int {
	h %= 12
	if strings.HasPrefix(meridiem, "p") {
		h += 12
	}
	return h
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func buildRange(_ *scanContext, g groups) (marker, bool) {
	h1, m1, mer1 := atoiDefault(g.get(1), -1), atoiDefault(g.get(2), 0), g.get(3)
	h2, m2, mer2 := atoiDefault(g.get(4), -1), atoiDefault(g.get(5), 0), g.get(6)
	if h1 < 1 || h1 > 12 || h2 < 1 || h2 > 12 {
		return marker{}, false
	}
	end := clock{to24(h2, mer2), m2}
	startMer := mer1
	if startMer == "" {
		startMer = mer2
	}
	start := clock{to24(h1, startMer), m1}
	// "11-1pm" means 11am to 1pm.
	if mer1 == "" && start.hour*60+start.minute > end.hour*60+end.minute {
		start.hour = to24(h1, "am")
	}
	return marker{kind: kindTime, start: start, end: &end}, true
}

func buildRange24(_ *scanContext, g groups) (marker, bool) {
	start := clock{atoiDefault(g.get(1), 0), atoiDefault(g.get(2), 0)}
	end := clock{atoiDefault(g.get(3), 0), atoiDefault(g.get(4), 0)}
	return marker{kind: kindTime, start: start, end: &end}, true
}

func buildClock12(_ *scanContext, g groups) (marker, bool) {
	h := atoiDefault(g.get(1), -1)
	if h < 1 || h > 12 {
		return marker{}, false
	}
	return marker{kind: kindTime, start: clock{to24(h, g.get(3)), atoiDefault(g.get(2), 0)}}, true
}

// buildClock24 reads H:MM as a 24-hour time unless the hour is 1-11 without
// a leading zero, which gets the same meridiem guess as a bare hour.
func buildClock24(_ *scanContext, g groups) (marker, bool) {
	raw := g.get(1)
	h, mm := atoiDefault(raw, 0), atoiDefault(g.get(2), 0)
	if !guessable(raw, h) {
		return marker{kind: kindTime, start: clock{h, mm}}, true
	}
	clk, flags, _ := guessClock(h, mm)
	return marker{kind: kindTime, start: clk, flags: flags, guess: h}, true
}

func guessable(raw string, h int) bool {
	return raw != "" && raw[0] != '0' && h >= 1 && h <= 11
}

func namedClock(name string) clock {
	if name == "midnight" {
		return clock{24, 0}
	}
	return clock{12, 0}
}

func buildNamedClock(_ *scanContext, g groups) (marker, bool) {
	return marker{kind: kindTime, start: namedClock(g.get(1))}, true
}

// buildRangeNamed handles ranges ending at noon or midnight. Without a
// meridiem the start is read as morning before noon and evening before
// midnight.
func buildRangeNamed(_ *scanContext, g groups) (marker, bool) {
	h, mm, mer := atoiDefault(g.get(1), -1), atoiDefault(g.get(2), 0), g.get(3)
	end := namedClock(g.get(4))
	var start clock
	switch {
	case mer != "" && h >= 1 && h <= 12:
		start = clock{to24(h, mer), mm}
	case mer != "":
		return marker{}, false
	case h >= 1 && h <= 11 && end.hour == 12:
		start = clock{h, mm}
	case h >= 1 && h <= 11:
		start = clock{h + 12, mm}
	case h >= 12 && h <= 23:
		start = clock{h, mm}
	default:
		return marker{}, false
	}
	return marker{kind: kindTime, start: start, end: &end}, true
}

// guessClock reads an hour written without a meridiem: 1-6 are afternoon
// hours, 7-12 morning hours or noon. 13-23 are unambiguous.
func guessClock(h, mm int) (clock, model.Flags, bool) {
	switch {
	case h >= 1 && h <= 6:
		return clock{h + 12, mm}, model.Flags{model.FlagAmbiguousTime}, true
	case h >= 7 && h <= 12:
		return clock{h, mm}, model.Flags{model.FlagAmbiguousTime}, true
	case h >= 13 && h <= 23:
		return clock{h, mm}, nil, true
	}
	return clock{}, nil, false
}

func buildBareHour(_ *scanContext, g groups) (marker, bool) {
	h := atoiDefault(g.get(1), -1)
	clk, flags, ok := guessClock(h, 0)
	if !ok {
		return marker{}, false
	}
	m := marker{kind: kindTime, start: clk, flags: flags}
	if h <= 12 {
		m.guess = h
	}
	return m, true
}

var partsOfDay = map[string]struct {
	clk  clock
	hint string
}{
	"morning":   {clock{9, 0}, "am"},
	"afternoon": {clock{14, 0}, "pm"},
	"evening":   {clock{18, 0}, "pm"},
	"night":     {clock{20, 0}, "pm"},
}

func buildPartOfDay(_ *scanContext, g groups) (marker, bool) {
	p, ok := partsOfDay[g.get(1)]
	if !ok {
		return marker{}, false
	}
	return marker{kind: kindTime, start: p.clk, flags: model.Flags{model.FlagApproximateTime}, hint: p.hint}, true
}

func buildUntil(_ *scanContext, g groups) (marker, bool) {
	if name := g.get(4); name != "" {
		return marker{kind: kindUntil, start: namedClock(name)}, true
	}
	raw, mer := g.get(1), g.get(3)
	h, mm := atoiDefault(raw, -1), atoiDefault(g.get(2), 0)
	switch {
	case mer != "" && h >= 1 && h <= 12:
		return marker{kind: kindUntil, start: clock{to24(h, mer), mm}}, true
	case g.get(2) != "" && !guessable(raw, h) && h >= 0 && h <= 23:
		return marker{kind: kindUntil, start: clock{h, mm}}, true
	}
	clk, _, ok := guessClock(h, mm)
	if !ok {
		return marker{}, false
	}
	m := marker{kind: kindUntil, start: clk}
	if h <= 12 {
		m.guess = h
	}
	return m, true
}

func buildDuration(_ *scanContext, g groups) (marker, bool) {
	amount := g.get(1)
	var n float64
	switch {
	case strings.HasPrefix(amount, "half"):
		n = 0.5
	default:
		if c, ok := counts[amount]; ok {
			n = float64(c)
		} else {
			f, err := strconv.ParseFloat(amount, 64)
			if err != nil {
				return marker{}, false
			}
			n = f
		}
	}
	unit := time.Minute
	if strings.HasPrefix(g.get(2), "h") {
		unit = time.Hour
	}
	d := time.Duration(n * float64(unit))
	if d <= 0 {
		return marker{}, false
	}
	return marker{kind: kindDuration, dur: d}, true
}
