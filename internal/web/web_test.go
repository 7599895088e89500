package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calassist/internal/calendar"
	"calassist/internal/config"
	"calassist/internal/conflict"
	"calassist/internal/metrics"
	"calassist/internal/model"
	"calassist/internal/orchestrator"
)

var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time { return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC) }

type memCalendar struct {
	events    []model.ExistingEvent
	committed []model.EventDraft
}

func (m *memCalendar) Events(_ context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	out := []model.ExistingEvent{}
	for _, e := range m.events {
		if calendar.InRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memCalendar) Commit(_ context.Context, d model.EventDraft) (model.ExistingEvent, error) {
	if !d.Dated() {
		return model.ExistingEvent{}, calendar.ErrUndated
	}
	m.committed = append(m.committed, d)
	e := model.ExistingEvent{ID: "new", Title: d.Title, Start: d.Start, End: d.End}
	m.events = append(m.events, e)
	return e, nil
}

func newTestServer(t *testing.T, cfg *config.Config, cal *memCalendar) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Normalize()
	}
	hours, err := conflict.ParseWorkingHours("09:00", "18:00", []string{"mon", "tue", "wed", "thu", "fri"}, time.UTC)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	deps := Deps{
		Hours:          hours,
		MaxSuggestions: 5,
		Gatherer:       reg,
		Now:            func() time.Time { return now },
	}
	if cal != nil {
		deps.Calendar = cal
		deps.Committer = cal
	}
	deps.Orchestrator = orchestrator.New(orchestrator.Options{
		Calendar: deps.Calendar,
		Hours:    hours,
		Recorder: m,
	})
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthIsOpenWithBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Normalize()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	srv, _ := newTestServer(t, cfg, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.SetBasicAuth("u", "p")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatDraftsAndCountsTurn(t *testing.T) {
	srv, reg := newTestServer(t, nil, &memCalendar{})

	resp, body := post(t, srv.URL+"/api/chat", `{"text": "Lunch with Sarah next Friday at noon", "now": "2026-03-02T09:00:00Z"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "create_event", body["intent"])
	d := body["draft"].(map[string]any)
	assert.Equal(t, "2026-03-06T12:00:00Z", d["start"])
	assert.NotNil(t, body["report"])

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "calassist_turns_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestChatErrorsAreNamedNotLeaked(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	resp, body := post(t, srv.URL+"/api/chat", `{"text": "hmm"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "unclassified_intent", body["error"])
	assert.NotEmpty(t, body["message"])

	resp, _ = post(t, srv.URL+"/api/chat", `{"text": ""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/api/chat", `{"text": "hi", "timezone": "Mars/Olympus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDraftEndpointForcesKind(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	resp, body := post(t, srv.URL+"/api/draft", `{"text": "Buy groceries", "kind": "task"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "task", body["draft"].(map[string]any)["kind"])

	resp, body = post(t, srv.URL+"/api/draft", `{"text": "Buy groceries"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "missing_temporal_expression", body["error"])

	resp, _ = post(t, srv.URL+"/api/draft", `{"text": "Buy groceries", "kind": "memo"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConflictsEndpoint(t *testing.T) {
	cal := &memCalendar{events: []model.ExistingEvent{{ID: "a", Title: "Standup", Start: at(3, 10), End: at(3, 11)}}}
	srv, _ := newTestServer(t, nil, cal)

	resp, body := post(t, srv.URL+"/api/conflicts", `{"start": "2026-03-03T10:30:00Z", "end": "2026-03-03T11:30:00Z"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["overlapping"], 1)

	resp, body = post(t, srv.URL+"/api/conflicts", `{"start": "2026-03-03T11:00:00Z", "end": "2026-03-03T10:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_search_window", body["error"])
}

func TestSuggestEndpoint(t *testing.T) {
	cal := &memCalendar{events: []model.ExistingEvent{{ID: "a", Title: "Busy", Start: at(3, 9), End: at(3, 12)}}}
	srv, _ := newTestServer(t, nil, cal)

	resp, body := post(t, srv.URL+"/api/suggest", `{"duration_minutes": 60, "start": "2026-03-03T00:00:00Z", "end": "2026-03-04T00:00:00Z"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	slots := body["slots"].([]any)
	require.Len(t, slots, 1)
	assert.Equal(t, "2026-03-03T12:00:00Z", slots[0].(map[string]any)["start"])

	resp, body = post(t, srv.URL+"/api/suggest", `{"duration_minutes": 60, "start": "2026-03-03T00:00:00Z", "end": "2026-03-03T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_search_window", body["error"])

	resp, body = post(t, srv.URL+"/api/suggest", `{"duration_minutes": 0, "start": "2026-03-03T00:00:00Z", "end": "2026-03-04T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_duration", body["error"])
}

func TestEventsEndpoint(t *testing.T) {
	cal := &memCalendar{events: []model.ExistingEvent{
		{ID: "soon", Title: "Soon", Start: at(3, 10), End: at(3, 11)},
		{ID: "far", Title: "Far", Start: at(20, 10), End: at(20, 11)},
	}}
	srv, _ := newTestServer(t, nil, cal)

	resp, err := http.Get(srv.URL + "/api/events?days=3&backfill=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body eventsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "soon", body.Events[0].ID)
	assert.Equal(t, "UTC", body.DisplayTimeZone)
}

func TestCommitRequiresConfirmation(t *testing.T) {
	cal := &memCalendar{}
	srv, _ := newTestServer(t, nil, cal)

	draft := `{"kind": "event", "title": "Lunch", "start": "2026-03-06T12:00:00Z", "end": "2026-03-06T13:00:00Z", "participants": []}`
	resp, _ := post(t, srv.URL+"/api/commit", `{"draft": `+draft+`}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, cal.committed)

	resp, body := post(t, srv.URL+"/api/commit", `{"draft": `+draft+`, "confirmed": true}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "new", body["event"].(map[string]any)["id"])
	require.Len(t, cal.committed, 1)

	resp, body = post(t, srv.URL+"/api/commit", `{"draft": {"kind": "task", "title": "Buy groceries"}, "confirmed": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "undated", body["error"])
}

func TestCommitWithoutCommitter(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	resp, body := post(t, srv.URL+"/api/commit", `{"draft": {"title": "x"}, "confirmed": true}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, "no_committer", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	_, _ = post(t, srv.URL+"/api/chat", `{"text": "Buy groceries"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "invalid_search_window", errorKind(model.ErrInvalidSearchWindow))
	assert.Equal(t, "internal", errorKind(errors.New("boom")))
	assert.False(t, isUserError(errors.New("boom")))
}
