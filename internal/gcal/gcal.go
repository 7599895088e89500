// Package gcal reads and writes a Google Calendar through the Calendar v3
// API. Token files are read and refreshed tokens written back; the initial
// OAuth consent happens elsewhere.
package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calassist/internal/calendar"
	"calassist/internal/config"
	"calassist/internal/log"
	"calassist/internal/model"
)

const dateLayout = "2006-01-02"

// Store is a Google Calendar used as both source and committer.
type Store struct {
	svc        *gcalendar.Service
	calendarID string
	loc        *time.Location
}

// New builds a Store from the OAuth client credentials and token files in
// cfg.
func New(ctx context.Context, cfg config.GoogleConfig, loc *time.Location) (*Store, error) {
	client, err := authenticatedClient(ctx, cfg.CredentialsPath, cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	svc, err := gcalendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewWithService(svc, cfg.CalendarID, loc), nil
}

// NewWithService wraps an existing service; an empty calendarID means
// "primary".
func NewWithService(svc *gcalendar.Service, calendarID string, loc *time.Location) *Store {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{svc: svc, calendarID: calendarID, loc: loc}
}

// Events lists single (recurrence-expanded) events in [from, to). Cancelled
// instances are skipped.
func (s *Store) Events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	var out []model.ExistingEvent
	call := s.svc.Events.List(s.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *gcalendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			e, err := s.convert(item)
			if err != nil {
				log.Warn("gcal event skipped", "id", item.Id, "error", err)
				continue
			}
			if calendar.InRange(e, from, to) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	calendar.SortEvents(out)
	return out, nil
}

// Commit inserts d without notifying attendees.
func (s *Store) Commit(ctx context.Context, d model.EventDraft) (model.ExistingEvent, error) {
	if !d.Dated() {
		return model.ExistingEvent{}, calendar.ErrUndated
	}
	ev := &gcalendar.Event{
		Summary:  d.Title,
		Location: d.Location,
		Start:    s.eventTime(d.Start, d.AllDay),
		End:      s.eventTime(d.End, d.AllDay),
	}
	if len(d.Participants) > 0 {
		ev.Description = "With " + strings.Join(d.Participants, ", ")
	}
	if d.RRule != "" {
		ev.Recurrence = []string{"RRULE:" + strings.TrimPrefix(d.RRule, "RRULE:")}
	}

	created, err := s.svc.Events.Insert(s.calendarID, ev).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return model.ExistingEvent{}, fmt.Errorf("insert event: %w", err)
	}
	log.Info("event committed", "calendar", s.calendarID, "id", created.Id, "all_day", d.AllDay)
	return s.convert(created)
}

func (s *Store) eventTime(t time.Time, allDay bool) *gcalendar.EventDateTime {
	if allDay {
		return &gcalendar.EventDateTime{Date: t.In(s.loc).Format(dateLayout)}
	}
	return &gcalendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: s.loc.String()}
}

func (s *Store) convert(item *gcalendar.Event) (model.ExistingEvent, error) {
	if item.Start == nil || item.End == nil {
		return model.ExistingEvent{}, errors.New("event without start or end")
	}
	e := model.ExistingEvent{ID: item.Id, Title: item.Summary, Source: "google"}
	if item.Start.Date != "" {
		start, err := time.ParseInLocation(dateLayout, item.Start.Date, s.loc)
		if err != nil {
			return e, err
		}
		end, err := time.ParseInLocation(dateLayout, item.End.Date, s.loc)
		if err != nil {
			return e, err
		}
		e.Start, e.End, e.AllDay = start, end, true
		return e, nil
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return e, err
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return e, err
	}
	e.Start, e.End = start.In(s.loc), end.In(s.loc)
	return e, nil
}

func authenticatedClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	creds, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, gcalendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	tok, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}
	src := &savingTokenSource{
		base: oauthCfg.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read google token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode google token: %w", err)
	}
	return &tok, nil
}

// savingTokenSource writes refreshed tokens back to disk.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		data, err := json.Marshal(tok)
		if err != nil {
			return nil, err
		}
		if err := config.WriteFileAtomic(s.path, data, 0o600); err != nil {
			log.Error("google token save failed", err, "path", s.path)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
