// Package extract pulls participants, a location, a title and a category
// label out of a free-text utterance.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"calassist/internal/model"
	"calassist/internal/temporal"
)

const (
	personConfidence   = 0.9
	locationConfidence = 0.7
	titleConfidence    = 0.8
	// fallbackTitleConfidence sits below the builder's 0.5 threshold so a
	// fallback title becomes a placeholder.
	fallbackTitleConfidence = 0.3
	maxNameTokens           = 3
	maxLocationTokens       = 4
)

// Lexicon maps each category to the words that vote for it.
type Lexicon map[model.Category][]string

// DefaultLexicon is the built-in keyword table.
var DefaultLexicon = Lexicon{
	model.CategoryWork: {
		"meeting", "standup", "stand-up", "sprint", "review", "retro", "retrospective",
		"sync", "deadline", "client", "project", "interview", "presentation", "demo",
		"office", "report", "onboarding", "planning", "conference", "workshop", "1:1",
	},
	model.CategoryHealth: {
		"doctor", "dentist", "gym", "workout", "run", "running", "yoga", "therapy",
		"therapist", "checkup", "check-up", "physio", "clinic", "hospital", "medication",
		"vaccine", "pilates", "swim", "swimming",
	},
	model.CategoryPersonal: {
		"groceries", "grocery", "laundry", "bank", "rent", "bills", "haircut", "errands",
		"chores", "cleaning", "shopping", "mom", "dad", "family", "pickup", "homework",
	},
	model.CategoryFriends: {
		"dinner", "party", "lunch", "coffee", "drinks", "brunch", "hangout", "bbq",
		"movie", "concert", "birthday", "beers", "catch-up", "game",
	},
}

var (
	tokenRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’:\-]*`)

	relational = map[string]bool{"with": true}
	// meetVerbs introduce a person but stay part of the title ("Call Mom").
	meetVerbs      = map[string]bool{"meet": true, "meeting": true, "see": true, "call": true, "visit": true}
	placeKeywords  = map[string]bool{"at": true, "in": true}
	notNames       = map[string]bool{"i": true, "me": true, "my": true, "the": true, "a": true, "an": true, "we": true, "us": true, "you": true, "team": true, "everyone": true, "all": true}
	edgeStopwords  = map[string]bool{"with": true, "at": true, "on": true, "in": true, "for": true, "to": true, "the": true, "a": true, "an": true, "and": true, "from": true, "by": true, "of": true, "or": true, "about": true}
	commandPhrases = [][]string{
		{"remind", "me", "to"}, {"remind", "me"}, {"i", "need", "to"}, {"i", "have", "to"},
		{"can", "you"}, {"please"}, {"schedule"}, {"add"}, {"create"}, {"book"},
		{"set", "up"}, {"put"}, {"plan"}, {"new"},
	}
)

type token struct {
	text  string
	lower string
	span  model.Span
}

// Result is the outcome of one extraction.
type Result struct {
	Entities []model.ExtractedEntity `json:"entities"`
	Category model.CategoryLabel     `json:"category"`
}

// Persons returns participant names in order of appearance.
func (r Result) Persons() []string {
	var out []string
	for _, e := range r.Entities {
		if e.Kind == model.EntityPerson {
			out = append(out, e.Text)
		}
	}
	return out
}

// Title returns the title entity, if any.
func (r Result) Title() (model.ExtractedEntity, bool) {
	return r.first(model.EntityTitle)
}

func (r Result) Location() (model.ExtractedEntity, bool) {
	return r.first(model.EntityLocation)
}

func (r Result) first(kind model.EntityKind) (model.ExtractedEntity, bool) {
	for _, e := range r.Entities {
		if e.Kind == kind {
			return e, true
		}
	}
	return model.ExtractedEntity{}, false
}

type Options struct {
	// Lexicon replaces the default word list of every category it names.
	Lexicon Lexicon
}

// Extractor is safe for concurrent use; it holds no per-call state.
type Extractor struct {
	temporal *temporal.Resolver
	words    map[string]model.Category
}

func New(opts Options) *Extractor {
	merged := Lexicon{}
	for c, ws := range DefaultLexicon {
		merged[c] = ws
	}
	for c, ws := range opts.Lexicon {
		merged[c] = ws
	}

	words := make(map[string]model.Category)
	// Iterate in priority order so a word listed twice keeps the stronger
	// category.
	for i := len(model.CategoryPriority) - 1; i >= 0; i-- {
		c := model.CategoryPriority[i]
		for _, w := range merged[c] {
			words[strings.ToLower(w)] = c
		}
	}
	return &Extractor{temporal: temporal.New(temporal.Options{}), words: words}
}

// Extract never fails: unrecognized text yields a low-confidence fallback
// title and the Other category.
func (x *Extractor) Extract(text string) Result {
	toks := tokenize(text)
	mask := make([]bool, len(text))
	for _, s := range x.temporal.Markers(text) {
		markSpan(mask, s)
	}

	var res Result
	persons := x.persons(text, toks, mask)
	res.Entities = append(res.Entities, persons...)
	if loc, kw, ok := x.location(text, toks, mask); ok {
		markSpan(mask, kw)
		markSpan(mask, loc.Span)
		res.Entities = append(res.Entities, loc)
	}
	maskCommand(toks, mask)
	res.Entities = append(res.Entities, title(text, toks, mask))

	sort.SliceStable(res.Entities, func(i, j int) bool {
		return res.Entities[i].Span.Start < res.Entities[j].Span.Start
	})
	res.Category = x.Categorize(text)
	return res
}

// Categorize scores text against the lexicon. The category with the most
// matches wins; ties follow model.CategoryPriority.
func (x *Extractor) Categorize(text string) model.CategoryLabel {
	hits := make(map[model.Category]int)
	total := 0
	for _, t := range tokenize(text) {
		c, ok := x.lookup(t.lower)
		if !ok {
			continue
		}
		hits[c]++
		total++
	}
	if total == 0 {
		return model.CategoryLabel{Category: model.CategoryOther}
	}

	best, bestHits := model.CategoryOther, 0
	for _, c := range model.CategoryPriority {
		if hits[c] > bestHits {
			best, bestHits = c, hits[c]
		}
	}
	return model.CategoryLabel{
		Category:   best,
		Confidence: float64(bestHits) / float64(total) * saturation(bestHits),
	}
}

func (x *Extractor) lookup(w string) (model.Category, bool) {
	if c, ok := x.words[w]; ok {
		return c, true
	}
	if strings.HasSuffix(w, "s") {
		c, ok := x.words[strings.TrimSuffix(w, "s")]
		return c, ok
	}
	return "", false
}

func saturation(hits int) float64 {
	switch {
	case hits >= 3:
		return 0.9
	case hits == 2:
		return 0.8
	default:
		return 0.6
	}
}

// persons finds capitalized names after "with", after a meeting verb, and in
// lists continuing such a name ("with Sarah, Tom and Ana"). Names introduced
// by a relational word are masked out of the title together with that word.
func (x *Extractor) persons(text string, toks []token, mask []bool) []model.ExtractedEntity {
	var out []model.ExtractedEntity
	seen := make(map[string]bool)

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !relational[t.lower] && !meetVerbs[t.lower] {
			continue
		}
		hide := relational[t.lower]
		j := i + 1
		if j >= len(toks) || strings.TrimSpace(text[t.span.End:toks[j].span.Start]) != "" {
			continue
		}
		for {
			end := nameEnd(text, toks, j, mask)
			if end == j {
				break
			}
			span := model.Span{Start: toks[j].span.Start, End: toks[end-1].span.End}
			name := text[span.Start:span.End]
			if key := strings.ToLower(name); !seen[key] {
				seen[key] = true
				out = append(out, model.ExtractedEntity{Kind: model.EntityPerson, Text: name, Span: span, Confidence: personConfidence})
			}
			if hide {
				markSpan(mask, t.span)
				markSpan(mask, span)
			}

			// Continue the list across "," or "and" when another name follows.
			next, ok := listContinuation(text, toks, end)
			if !ok || nameEnd(text, toks, next, mask) == next {
				j = end
				break
			}
			if hide {
				markSpan(mask, model.Span{Start: toks[end-1].span.End, End: toks[next].span.Start})
			}
			j = next
		}
		i = j - 1
	}
	return out
}

// nameEnd returns the index after the capitalized run starting at j.
func nameEnd(text string, toks []token, j int, mask []bool) int {
	end := j
	for end < len(toks) && end-j < maxNameTokens {
		t := toks[end]
		if !capitalized(t.text) || notNames[t.lower] || temporal.IsVocabulary(t.text) || masked(mask, t.span) {
			break
		}
		if end > j && strings.TrimSpace(text[toks[end-1].span.End:t.span.Start]) != "" {
			break
		}
		end++
	}
	return end
}

// listContinuation reports the index of the next name after a ",", "and" or
// ", and" separator following toks[end-1].
func listContinuation(text string, toks []token, end int) (int, bool) {
	if end >= len(toks) {
		return 0, false
	}
	gap := strings.TrimSpace(text[toks[end-1].span.End:toks[end].span.Start])
	switch {
	case gap == "," && toks[end].lower == "and":
		if end+1 < len(toks) {
			return end + 1, true
		}
	case gap == ",":
		return end, true
	case gap == "" && toks[end].lower == "and":
		if end+1 < len(toks) && strings.TrimSpace(text[toks[end].span.End:toks[end+1].span.Start]) == "" {
			return end + 1, true
		}
	}
	return 0, false
}

// location returns the capitalized words after "at" or "in" and the span of
// the keyword itself.
func (x *Extractor) location(text string, toks []token, mask []bool) (model.ExtractedEntity, model.Span, bool) {
	for i, t := range toks {
		if !placeKeywords[t.lower] || masked(mask, t.span) {
			continue
		}
		j := i + 1
		for j < len(toks) && j-i-1 < maxLocationTokens {
			n := toks[j]
			if strings.TrimSpace(text[toks[j-1].span.End:n.span.Start]) != "" || masked(mask, n.span) || temporal.IsVocabulary(n.text) {
				break
			}
			if !capitalized(n.text) && !(j > i+1 && startsWithDigit(n.text)) {
				break
			}
			j++
		}
		if j == i+1 {
			continue
		}
		span := model.Span{Start: toks[i+1].span.Start, End: toks[j-1].span.End}
		return model.ExtractedEntity{
			Kind:       model.EntityLocation,
			Text:       text[span.Start:span.End],
			Span:       span,
			Confidence: locationConfidence,
		}, t.span, true
	}
	return model.ExtractedEntity{}, model.Span{}, false
}

// maskCommand hides a leading request phrase such as "remind me to" or
// "schedule".
func maskCommand(toks []token, mask []bool) {
	i := 0
	for {
		matched := false
		for _, phrase := range commandPhrases {
			if i+len(phrase) > len(toks) {
				continue
			}
			ok := true
			for k, w := range phrase {
				if toks[i+k].lower != w {
					ok = false
					break
				}
			}
			if ok {
				for k := range phrase {
					markSpan(mask, toks[i+k].span)
				}
				i += len(phrase)
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}
}

// title picks the longest run of unmasked tokens not broken by punctuation,
// trimmed of prepositions and articles at both ends.
func title(text string, toks []token, mask []bool) model.ExtractedEntity {
	var best model.Span
	flush := func(run []token) {
		for len(run) > 0 && edgeStopwords[run[0].lower] {
			run = run[1:]
		}
		for len(run) > 0 && edgeStopwords[run[len(run)-1].lower] {
			run = run[:len(run)-1]
		}
		if len(run) == 0 {
			return
		}
		s := model.Span{Start: run[0].span.Start, End: run[len(run)-1].span.End}
		if s.Len() > best.Len() {
			best = s
		}
	}

	var run []token
	for i, t := range toks {
		if masked(mask, t.span) {
			flush(run)
			run = nil
			continue
		}
		if len(run) > 0 {
			gap := model.Span{Start: toks[i-1].span.End, End: t.span.Start}
			if masked(mask, gap) || strings.ContainsAny(text[gap.Start:gap.End], ",;.!?:()\n") {
				flush(run)
				run = nil
			}
		}
		run = append(run, t)
	}
	flush(run)

	if best.Len() == 0 {
		trimmed := strings.TrimSpace(text)
		start := strings.Index(text, trimmed)
		return model.ExtractedEntity{
			Kind:       model.EntityTitle,
			Text:       trimmed,
			Span:       model.Span{Start: start, End: start + len(trimmed)},
			Confidence: fallbackTitleConfidence,
		}
	}
	return model.ExtractedEntity{
		Kind:       model.EntityTitle,
		Text:       upperFirst(text[best.Start:best.End]),
		Span:       best,
		Confidence: titleConfidence,
	}
}

func tokenize(text string) []token {
	idx := tokenRe.FindAllStringIndex(text, -1)
	out := make([]token, 0, len(idx))
	for _, p := range idx {
		s := text[p[0]:p[1]]
		out = append(out, token{
			text:  strings.TrimRight(s, ":-'’"),
			lower: strings.ToLower(strings.TrimRight(s, ":-'’")),
			span:  model.Span{Start: p[0], End: p[1]},
		})
	}
	return out
}

func markSpan(mask []bool, s model.Span) {
	for i := max(s.Start, 0); i < s.End && i < len(mask); i++ {
		mask[i] = true
	}
}

func masked(mask []bool, s model.Span) bool {
	for i := max(s.Start, 0); i < s.End && i < len(mask); i++ {
		if mask[i] {
			return true
		}
	}
	return false
}

func capitalized(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func startsWithDigit(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsDigit(r)
}

func upperFirst(s string) string {
	r, w := utf8.DecodeRuneInString(s)
	if w == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[w:]
}
