package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"calassist/internal/calendar"
	"calassist/internal/config"
	"calassist/internal/log"
	"calassist/internal/model"
)

const productID = "-//calassist//calassist//EN"

// FileStore is a local .ics file the assistant reads and commits to.
type FileStore struct {
	path string
	loc  *time.Location
	now  func() time.Time

	mu sync.Mutex
}

func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{path: path, loc: loc, now: time.Now}
}

// Events returns the stored events touching [from, to). A missing file is an
// empty calendar.
func (s *FileStore) Events(_ context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	s.mu.Lock()
	body, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(body)) == 0) {
		return []model.ExistingEvent{}, nil
	}
	if err != nil {
		return nil, err
	}
	parsed, err := Parse("local", body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return Expand(parsed, from, to, s.loc)
}

// Commit appends d as a new VEVENT and rewrites the file atomically.
func (s *FileStore) Commit(ctx context.Context, d model.EventDraft) (model.ExistingEvent, error) {
	if !d.Dated() {
		return model.ExistingEvent{}, calendar.ErrUndated
	}
	if err := ctx.Err(); err != nil {
		return model.ExistingEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return model.ExistingEvent{}, err
	}

	uid := uuid.NewString() + "@calassist"
	now := s.now().UTC()
	ve := cal.AddEvent(uid)
	ve.SetCreatedTime(now)
	ve.SetDtStampTime(now)
	ve.SetSummary(d.Title)
	if d.AllDay {
		ve.SetAllDayStartAt(d.Start)
		ve.SetAllDayEndAt(d.End)
	} else {
		ve.SetStartAt(d.Start)
		ve.SetEndAt(d.End)
	}
	if d.Location != "" {
		ve.SetLocation(d.Location)
	}
	if d.Category.Category != "" {
		ve.AddProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(d.Category.Category)))
	}
	if len(d.Participants) > 0 {
		ve.SetDescription("With " + strings.Join(d.Participants, ", "))
	}
	if d.RRule != "" {
		ve.AddProperty(ical.ComponentPropertyRrule, strings.TrimPrefix(d.RRule, "RRULE:"))
	}

	if err := config.WriteFileAtomic(s.path, []byte(cal.Serialize()), 0o644); err != nil {
		return model.ExistingEvent{}, fmt.Errorf("write %s: %w", s.path, err)
	}
	log.Info("event committed", "uid", uid, "path", s.path, "all_day", d.AllDay)

	return model.ExistingEvent{
		ID:     uid,
		Title:  d.Title,
		Start:  d.Start,
		End:    d.End,
		AllDay: d.AllDay,
		Source: "local",
	}, nil
}

func (s *FileStore) load() (*ical.Calendar, error) {
	body, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(body)) == 0) {
		cal := ical.NewCalendar()
		cal.SetMethod(ical.MethodPublish)
		cal.SetProductId(productID)
		return cal, nil
	}
	if err != nil {
		return nil, err
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return cal, nil
}
