package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calassist/internal/calendar"
	"calassist/internal/model"
)

// Feed reads events from subscribed ICS URLs.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

func NewFeed(fetcher *Fetcher, sources []Source, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{fetcher: fetcher, sources: sources, loc: loc}
}

// Events fetches every feed and returns the expanded events touching
// [from, to). Feeds that fail are reported in the joined error while the
// others are still returned.
func (f *Feed) Events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	results, errs := f.fetcher.FetchAll(ctx, f.sources)

	var out []model.ExistingEvent
	for _, res := range results {
		parsed, err := Parse(res.Source.ID, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", res.Source.ID, err))
			continue
		}
		evs, err := Expand(parsed, from, to, f.loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("expand %s: %w", res.Source.ID, err))
			continue
		}
		out = append(out, evs...)
	}
	calendar.SortEvents(out)
	return out, errors.Join(errs...)
}
