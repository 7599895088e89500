// Package orchestrator runs one conversational turn: it classifies the
// utterance, then drafts an event or answers a calendar question.
//
// Each turn walks Idle -> Classifying -> {Drafting | Querying} -> Responding
// -> Idle. Nothing is kept between turns, and drafts are only ever returned
// for confirmation; committing is a separate, explicit step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calassist/internal/calendar"
	"calassist/internal/conflict"
	"calassist/internal/draft"
	"calassist/internal/extract"
	"calassist/internal/llm"
	"calassist/internal/log"
	"calassist/internal/model"
	"calassist/internal/temporal"
)

type State string

const (
	StateIdle        State = "idle"
	StateClassifying State = "classifying"
	StateDrafting    State = "drafting"
	StateQuerying    State = "querying"
	StateResponding  State = "responding"
)

const (
	DefaultTimeout = 20 * time.Second
	minTimeout     = 10 * time.Second
	maxTimeout     = 30 * time.Second

	fallbackMessage = "Sorry, I couldn't tell what you'd like to do. Try something like \"Lunch with Sarah next Friday at noon\" or \"What's on my calendar tomorrow?\""
)

// TurnRecorder counts finished turns.
type TurnRecorder interface {
	IncTurn(intent, outcome string)
}

type Options struct {
	Resolver  *temporal.Resolver
	Extractor *extract.Extractor
	// Backend interprets utterances the fixed templates do not match. Nil
	// disables the fallback.
	Backend    llm.Backend
	Completion llm.CompletionConfig
	// Timeout bounds each model call; it is clamped to 10-30s.
	Timeout time.Duration
	// Calendar supplies existing events. Nil means no calendar data is
	// loaded: drafts get no conflict report and queries see an empty
	// calendar.
	Calendar        calendar.Source
	Hours           conflict.WorkingHours
	Horizon         time.Duration
	MaxSuggestions  int
	DefaultDuration time.Duration
	Recorder        TurnRecorder
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	opts      Options
	resolver  *temporal.Resolver
	extractor *extract.Extractor
	builder   *draft.Builder
	backend   llm.Backend
}

func New(opts Options) *Orchestrator {
	if opts.Resolver == nil {
		opts.Resolver = temporal.New(temporal.Options{DefaultDuration: opts.DefaultDuration})
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.Options{})
	}
	switch {
	case opts.Timeout <= 0:
		opts.Timeout = DefaultTimeout
	case opts.Timeout < minTimeout:
		opts.Timeout = minTimeout
	case opts.Timeout > maxTimeout:
		opts.Timeout = maxTimeout
	}
	if opts.Horizon <= 0 {
		opts.Horizon = conflict.DefaultHorizon
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = conflict.DefaultMaxSuggestions
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = temporal.DefaultDuration
	}
	return &Orchestrator{
		opts:      opts,
		resolver:  opts.Resolver,
		extractor: opts.Extractor,
		builder:   draft.New(),
		backend:   opts.Backend,
	}
}

// Response is the structured result of one turn.
type Response struct {
	Intent  Intent                `json:"intent,omitempty"`
	Trace   []State               `json:"trace"`
	Draft   *model.EventDraft     `json:"draft,omitempty"`
	Report  *model.ConflictReport `json:"report,omitempty"`
	Events  []model.ExistingEvent `json:"events,omitempty"`
	Slots   []model.Interval      `json:"slots,omitempty"`
	Window  *model.Interval       `json:"window,omitempty"`
	Flags   model.Flags           `json:"flags,omitempty"`
	Message string                `json:"message"`
}

type turn struct {
	u    model.Utterance
	resp Response
}

func (t *turn) enter(s State) { t.resp.Trace = append(t.resp.Trace, s) }

// Handle runs one turn. The returned Response is always usable for display:
// on error its Message explains the problem without transport detail.
func (o *Orchestrator) Handle(ctx context.Context, u model.Utterance) (Response, error) {
	return o.run(ctx, u, "")
}

// Draft runs a turn with the intent fixed to drafting, skipping
// classification. kind selects an event or a task.
func (o *Orchestrator) Draft(ctx context.Context, u model.Utterance, kind model.DraftKind) (Response, error) {
	intent := IntentCreateEvent
	if kind == model.DraftTask {
		intent = IntentCreateTask
	}
	return o.run(ctx, u, intent)
}

func (o *Orchestrator) run(ctx context.Context, u model.Utterance, forced Intent) (Response, error) {
	if u.Location == nil {
		u = model.NewUtterance(u.Text, u.Reference, nil)
	}
	t := &turn{u: u}
	t.enter(StateIdle)

	exprs, resolveErr := o.resolver.Resolve(u.Text, u.Reference, u.Location)
	if resolveErr != nil {
		t.resp.Flags = t.resp.Flags.With(model.FlagUnresolvedDate)
	}

	intent := forced
	if intent == "" {
		t.enter(StateClassifying)
		var err error
		intent, err = o.classify(ctx, t, len(exprs) > 0 || resolveErr != nil)
		if err != nil {
			return o.finish(t, err)
		}
	}
	t.resp.Intent = intent

	var err error
	if intent.Query() {
		t.enter(StateQuerying)
		err = o.query(ctx, t, intent, exprs, resolveErr)
	} else {
		t.enter(StateDrafting)
		err = o.draft(ctx, t, intent, exprs, resolveErr)
	}
	return o.finish(t, err)
}

func (o *Orchestrator) classify(ctx context.Context, t *turn, hasTime bool) (Intent, error) {
	if intent, ok := o.classifyLocal(t.u.Text, hasTime); ok {
		log.Debug("intent classified", "intent", intent, "by", "template")
		return intent, nil
	}
	intent, err := o.classifyRemote(ctx, t.u.Text)
	if err != nil {
		return "", err
	}
	log.Debug("intent classified", "intent", intent, "by", "model")
	t.resp.Flags = t.resp.Flags.With(model.FlagModelInterpreted)
	return intent, nil
}

func (o *Orchestrator) finish(t *turn, err error) (Response, error) {
	t.enter(StateResponding)
	outcome := "ok"
	switch {
	case errors.Is(err, model.ErrUnclassifiedIntent):
		outcome = "unclassified"
		t.resp.Message = fallbackMessage
	case err != nil:
		outcome = "error"
		t.resp.Message = userMessage(err)
	}
	t.enter(StateIdle)
	if o.opts.Recorder != nil {
		intent := string(t.resp.Intent)
		if intent == "" {
			intent = "unknown"
		}
		o.opts.Recorder.IncTurn(intent, outcome)
	}
	if err != nil {
		log.Debug("turn failed", "intent", t.resp.Intent, "error", err)
	}
	return t.resp, err
}

func (o *Orchestrator) draft(ctx context.Context, t *turn, intent Intent, exprs []model.TemporalExpression, resolveErr error) error {
	kind := model.DraftEvent
	if intent == IntentCreateTask {
		kind = model.DraftTask
	}
	if resolveErr != nil {
		if kind == model.DraftEvent {
			return resolveErr
		}
		// A task keeps going without the date it could not read.
		exprs = nil
	}

	ex := o.extractor.Extract(t.u.Text)
	d, err := o.builder.Build(draft.Input{
		Utterance:   t.u,
		Expressions: exprs,
		Entities:    ex.Entities,
		Category:    ex.Category,
		Kind:        kind,
	})
	if err != nil {
		return err
	}
	d.Flags = d.Flags.With(t.resp.Flags...)
	t.resp.Flags = d.Flags
	t.resp.Draft = &d

	if o.opts.Calendar != nil && d.Dated() {
		rep, err := o.report(ctx, t.u, d)
		if err != nil {
			log.Warn("conflict check skipped", "error", err)
		} else {
			t.resp.Report = &rep
		}
	}
	t.resp.Message = draftMessage(d, t.resp.Report)
	return nil
}

func (o *Orchestrator) report(ctx context.Context, u model.Utterance, d model.EventDraft) (model.ConflictReport, error) {
	y, m, day := d.Start.In(u.Location).Date()
	from := time.Date(y, m, day, 0, 0, 0, 0, u.Location)
	to := from.Add(o.opts.Horizon)
	if d.End.After(to) {
		to = d.End
	}
	events, err := o.opts.Calendar.Events(ctx, from, to)
	if err != nil && len(events) == 0 {
		return model.ConflictReport{}, err
	}
	return conflict.Report(d, events, conflict.ReportOptions{
		Hours:   o.opts.Hours,
		Horizon: o.opts.Horizon,
		Now:     u.Reference,
		Max:     o.opts.MaxSuggestions,
	})
}

func (o *Orchestrator) query(ctx context.Context, t *turn, intent Intent, exprs []model.TemporalExpression, resolveErr error) error {
	if resolveErr != nil {
		return resolveErr
	}
	switch intent {
	case IntentQueryConflicts:
		if len(exprs) == 0 {
			return fmt.Errorf("conflict query: %w", model.ErrMissingTemporalExpression)
		}
		iv := exprs[0].Interval()
		events, err := o.events(ctx, iv)
		if err != nil {
			return err
		}
		t.resp.Window = &iv
		t.resp.Events = conflict.FindConflicts(iv, events)
		t.resp.Message = conflictMessage(t.resp.Events)

	case IntentQuerySuggest:
		dur, ok := o.resolver.ParseDuration(t.u.Text)
		if !ok {
			dur = o.opts.DefaultDuration
		}
		window := o.searchWindow(t.u, exprs)
		events, err := o.events(ctx, window)
		if err != nil {
			return err
		}
		slots, err := conflict.SuggestSlots(dur, window, events, o.opts.Hours, o.opts.MaxSuggestions)
		if err != nil {
			return err
		}
		t.resp.Window = &window
		t.resp.Slots = slots
		t.resp.Message = slotsMessage(slots, dur)

	case IntentQuerySchedule:
		window := dayWindow(t.u)
		if len(exprs) > 0 {
			window = expand(exprs[0])
		}
		events, err := o.events(ctx, window)
		if err != nil {
			return err
		}
		t.resp.Window = &window
		t.resp.Events = events
		t.resp.Message = scheduleMessage(events)
	}
	return nil
}

// events reads from the calendar; a partial read is served with a warning.
func (o *Orchestrator) events(ctx context.Context, iv model.Interval) ([]model.ExistingEvent, error) {
	if o.opts.Calendar == nil {
		return []model.ExistingEvent{}, nil
	}
	events, err := o.opts.Calendar.Events(ctx, iv.Start, iv.End)
	if err != nil {
		if len(events) == 0 {
			return nil, fmt.Errorf("read calendar: %w", err)
		}
		log.Warn("calendar read partial", "error", err)
	}
	if events == nil {
		events = []model.ExistingEvent{}
	}
	return events, nil
}

// searchWindow is the day(s) named in the utterance, or now to the horizon.
// It never starts in the past.
func (o *Orchestrator) searchWindow(u model.Utterance, exprs []model.TemporalExpression) model.Interval {
	w := model.Interval{Start: u.Reference, End: u.Reference.Add(o.opts.Horizon)}
	if len(exprs) > 0 {
		w = expand(exprs[0])
	}
	if u.Reference.After(w.Start) {
		w.Start = u.Reference
	}
	return w
}

// expand widens a timed expression to its whole day.
func expand(e model.TemporalExpression) model.Interval {
	if e.AllDay {
		return e.Interval()
	}
	y, m, d := e.Start.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.Start.Location())
	end := start.AddDate(0, 0, 1)
	if e.End.After(end) {
		end = e.End
	}
	return model.Interval{Start: start, End: end}
}

func dayWindow(u model.Utterance) model.Interval {
	y, m, d := u.Reference.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, u.Location)
	return model.Interval{Start: start, End: start.AddDate(0, 0, 1)}
}
