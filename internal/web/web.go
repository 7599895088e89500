package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calassist/internal/calendar"
	"calassist/internal/config"
	"calassist/internal/conflict"
	"calassist/internal/log"
	"calassist/internal/model"
	"calassist/internal/orchestrator"
)

const (
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	// Calendar is the read side, usually a *calendar.Snapshot. Nil serves an
	// empty calendar.
	Calendar calendar.Source
	// Committer receives explicitly confirmed drafts. Nil disables
	// /api/commit.
	Committer      calendar.Committer
	Hours          conflict.WorkingHours
	MaxSuggestions int
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// Server provides the assistant's HTTP API.
type Server struct {
	cfg  *config.Config
	deps Deps
	loc  *time.Location
	mux  *http.ServeMux
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		loc:  cfg.Location(),
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes wrapped in basic auth when it is configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		log.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calassist", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/draft", s.handleDraft)
	s.mux.HandleFunc("POST /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("POST /api/suggest", s.handleSuggest)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/commit", s.handleCommit)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// utteranceRequest is the body of /api/chat and /api/draft.
type utteranceRequest struct {
	Text     string          `json:"text"`
	Now      *time.Time      `json:"now,omitempty"`
	Timezone string          `json:"timezone,omitempty"`
	Kind     model.DraftKind `json:"kind,omitempty"`
}

type turnResponse struct {
	orchestrator.Response
	Error string `json:"error,omitempty"`
}

func (s *Server) utterance(w http.ResponseWriter, r *http.Request) (model.Utterance, model.DraftKind, bool) {
	var req utteranceRequest
	if !decode(w, r, &req) {
		return model.Utterance{}, "", false
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return model.Utterance{}, "", false
	}
	loc := s.loc
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone")
			return model.Utterance{}, "", false
		}
		loc = l
	}
	now := s.deps.Now()
	if req.Now != nil {
		now = *req.Now
	}
	return model.NewUtterance(req.Text, now, loc), req.Kind, true
}

// POST /api/chat {text, now?, timezone?}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	u, _, ok := s.utterance(w, r)
	if !ok {
		return
	}
	resp, err := s.deps.Orchestrator.Handle(r.Context(), u)
	s.writeTurn(w, resp, err)
}

// POST /api/draft {text, now?, timezone?, kind?} skips classification.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	u, kind, ok := s.utterance(w, r)
	if !ok {
		return
	}
	if kind == "" {
		kind = model.DraftEvent
	}
	if kind != model.DraftEvent && kind != model.DraftTask {
		writeError(w, http.StatusBadRequest, "kind must be event or task")
		return
	}
	resp, err := s.deps.Orchestrator.Draft(r.Context(), u, kind)
	s.writeTurn(w, resp, err)
}

func (s *Server) writeTurn(w http.ResponseWriter, resp orchestrator.Response, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, turnResponse{Response: resp})
		return
	}
	status := http.StatusUnprocessableEntity
	if !isUserError(err) {
		status = http.StatusBadGateway
		log.Error("turn failed", err, "intent", resp.Intent)
	}
	writeJSON(w, status, turnResponse{Response: resp, Error: errorKind(err)})
}

type rangeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// POST /api/conflicts {start, end}
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.End.Before(req.Start) {
		writeJSON(w, http.StatusBadRequest, errorBody(model.ErrInvalidSearchWindow))
		return
	}
	iv := model.Interval{Start: req.Start, End: req.End}
	events, err := s.events(r.Context(), iv.Start, iv.End)
	if err != nil {
		writeError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overlapping": conflict.FindConflicts(iv, events)})
}

type suggestRequest struct {
	DurationMinutes int       `json:"duration_minutes"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
}

// POST /api/suggest {duration_minutes, start, end}
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !decode(w, r, &req) {
		return
	}
	window := model.Interval{Start: req.Start, End: req.End}
	if window.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody(model.ErrInvalidSearchWindow))
		return
	}
	events, err := s.events(r.Context(), window.Start, window.End)
	if err != nil {
		writeError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}
	dur := time.Duration(req.DurationMinutes) * time.Minute
	slots, err := conflict.SuggestSlots(dur, window, events, s.deps.Hours, s.deps.MaxSuggestions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events          []model.ExistingEvent `json:"events"`
	RangeStart      time.Time             `json:"range_start"`
	RangeEnd        time.Time             `json:"range_end"`
	DisplayTimeZone string                `json:"display_timezone"`
	WeekStart       string                `json:"week_start"`
	RefreshedAt     *time.Time            `json:"refreshed_at,omitempty"`
}

// handleEvents lists calendar events around now.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	now := s.deps.Now().In(s.loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)
	log.Debug("api events request", "days", days, "backfill", backfill)

	events, err := s.events(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		writeError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}
	resp := eventsResponse{
		Events:          events,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
		WeekStart:       s.cfg.WeekStart,
	}
	if snap, ok := s.deps.Calendar.(*calendar.Snapshot); ok {
		if at, _ := snap.RefreshedAt(); !at.IsZero() {
			resp.RefreshedAt = &at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type commitRequest struct {
	Draft     *model.EventDraft `json:"draft"`
	Confirmed bool              `json:"confirmed"`
}

// POST /api/commit {draft, confirmed: true} writes a draft the user has
// approved.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Committer == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody(calendar.ErrNoCommitter))
		return
	}
	var req commitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Draft == nil || !req.Confirmed {
		writeError(w, http.StatusBadRequest, "a confirmed draft is required")
		return
	}
	if req.Draft.End.Before(req.Draft.Start) {
		writeError(w, http.StatusBadRequest, "draft ends before it starts")
		return
	}

	ev, err := s.deps.Committer.Commit(r.Context(), *req.Draft)
	switch {
	case errors.Is(err, calendar.ErrUndated):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	case err != nil:
		log.Error("commit failed", err)
		writeError(w, http.StatusBadGateway, "could not write to the calendar")
		return
	}

	if snap, ok := s.deps.Calendar.(*calendar.Snapshot); ok {
		if err := snap.Refresh(r.Context()); err != nil {
			log.Warn("refresh after commit failed", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": ev})
}

func (s *Server) events(ctx context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	if s.deps.Calendar == nil {
		return []model.ExistingEvent{}, nil
	}
	events, err := s.deps.Calendar.Events(ctx, from, to)
	if err != nil {
		if len(events) == 0 {
			log.Error("calendar read failed", err)
			return nil, err
		}
		log.Warn("calendar read partial", "error", err)
	}
	if events == nil {
		events = []model.ExistingEvent{}
	}
	return events, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func isUserError(err error) bool {
	return errors.Is(err, model.ErrMissingTemporalExpression) ||
		errors.Is(err, model.ErrUnresolvedTemporalExpression) ||
		errors.Is(err, model.ErrInvalidSearchWindow) ||
		errors.Is(err, model.ErrInvalidDuration) ||
		errors.Is(err, model.ErrUnclassifiedIntent)
}

// errorKind names an error for API clients without exposing its detail.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingTemporalExpression):
		return "missing_temporal_expression"
	case errors.Is(err, model.ErrUnresolvedTemporalExpression):
		return "unresolved_temporal_expression"
	case errors.Is(err, model.ErrInvalidSearchWindow):
		return "invalid_search_window"
	case errors.Is(err, model.ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, model.ErrInvalidWorkingHours):
		return "invalid_working_hours"
	case errors.Is(err, model.ErrUnclassifiedIntent):
		return "unclassified_intent"
	case errors.Is(err, model.ErrExternalModel):
		return "external_model_error"
	case errors.Is(err, calendar.ErrNoCommitter):
		return "no_committer"
	case errors.Is(err, calendar.ErrUndated):
		return "undated"
	default:
		return "internal"
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": errorKind(err)}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
