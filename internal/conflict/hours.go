package conflict

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"calassist/internal/model"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWorkingHours builds WorkingHours from "HH:MM" strings and weekday
// names ("mon", "Tuesday", ...). End "24:00" or "00:00" means end of day.
func ParseWorkingHours(start, end string, days []string, loc *time.Location) (WorkingHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return WorkingHours{}, err
	}
	if e == 24*time.Hour {
		e = 0
	}

	h := WorkingHours{Start: s, End: e, Location: loc}
	for _, d := range days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return WorkingHours{}, fmt.Errorf("%w: unknown day %q", model.ErrInvalidWorkingHours, d)
		}
		h.Days = append(h.Days, wd)
	}
	return h, h.validate()
}

func parseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not HH:MM", model.ErrInvalidWorkingHours, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q is not HH:MM", model.ErrInvalidWorkingHours, s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
