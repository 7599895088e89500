package temporal

import (
	"strings"
	"time"
)

const (
	weekdayAlt = `monday|tuesday|wednesday|thursday|friday|saturday|sunday|tues|thurs|thur|mon|tue|wed|thu|fri|sat|sun`
	monthAlt   = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`
	countAlt   = `\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve`
	// meridiemAlt lists dotted forms first so "p.m." is consumed whole.
	meridiemAlt = `a\.m\.|p\.m\.|a\.m\b|p\.m\b|am\b|pm\b`
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tues": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thurs": time.Thursday, "thur": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var counts = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// vocabulary holds calendar words that must never be taken for names.
var vocabulary = map[string]bool{
	"today": true, "tonight": true, "tomorrow": true, "yesterday": true,
	"noon": true, "midday": true, "midnight": true, "morning": true,
	"afternoon": true, "evening": true, "night": true, "week": true,
	"weekend": true, "month": true, "year": true, "next": true, "this": true,
	"every": true, "each": true, "daily": true, "weekly": true, "monthly": true,
	"am": true, "pm": true, "day": true,
}

// IsVocabulary reports whether word (any case) is a date or time word such as
// a weekday, a month or "tomorrow".
func IsVocabulary(word string) bool {
	w := strings.ToLower(strings.Trim(word, ".,;:!?'\""))
	if vocabulary[w] {
		return true
	}
	if _, ok := weekdays[w]; ok {
		return true
	}
	_, ok := months[w]
	return ok
}

func parseCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, ok := counts[s]; ok {
		return n, true
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 10000 {
			return 0, false
		}
	}
	return n, s != ""
}

// lowerASCII lowercases ASCII letters only so byte offsets stay aligned with
// the original text.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
