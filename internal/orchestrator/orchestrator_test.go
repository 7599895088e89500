package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calassist/internal/calendar"
	"calassist/internal/conflict"
	"calassist/internal/llm"
	"calassist/internal/model"
)

type fakeCalendar struct {
	events []model.ExistingEvent
	err    error
}

func (f fakeCalendar) Events(_ context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []model.ExistingEvent{}
	for _, e := range f.events {
		if calendar.InRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

type backendFunc func(ctx context.Context, prompt string) (string, error)

func (f backendFunc) Complete(ctx context.Context, prompt string, _ llm.CompletionConfig) (string, error) {
	return f(ctx, prompt)
}

type turnCounter struct {
	mu    sync.Mutex
	turns map[string]int
}

func (c *turnCounter) IncTurn(intent, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turns == nil {
		c.turns = map[string]int{}
	}
	c.turns[intent+"/"+outcome]++
}

var ny = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// monday is the reference instant for every turn: Mon Mar 2 2026, 09:00.
var monday = time.Date(2026, time.March, 2, 9, 0, 0, 0, ny)

func at(day, hour, min int) time.Time { return time.Date(2026, time.March, day, hour, min, 0, 0, ny) }

func utter(text string) model.Utterance { return model.NewUtterance(text, monday, ny) }

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	hours, err := conflict.ParseWorkingHours("09:00", "18:00", []string{"mon", "tue", "wed", "thu", "fri"}, ny)
	require.NoError(t, err)
	opts.Hours = hours
	return New(opts)
}

var fullTrace = func(middle State) []State {
	return []State{StateIdle, StateClassifying, middle, StateResponding, StateIdle}
}

func TestHandleDraftsEvent(t *testing.T) {
	o := newOrchestrator(t, Options{})
	resp, err := o.Handle(context.Background(), utter("Lunch with Sarah next Friday at noon"))
	require.NoError(t, err)

	assert.Equal(t, IntentCreateEvent, resp.Intent)
	assert.Equal(t, fullTrace(StateDrafting), resp.Trace)
	require.NotNil(t, resp.Draft)
	assert.Contains(t, resp.Draft.Title, "Lunch")
	assert.Equal(t, []string{"Sarah"}, resp.Draft.Participants)
	assert.Equal(t, at(6, 12, 0), resp.Draft.Start)
	assert.Equal(t, at(6, 13, 0), resp.Draft.End)
	assert.Nil(t, resp.Report, "no calendar loaded")
	assert.Contains(t, resp.Message, "Lunch")
}

func TestHandleDraftReportsConflicts(t *testing.T) {
	cal := fakeCalendar{events: []model.ExistingEvent{
		{ID: "sync", Title: "Team sync", Start: at(6, 12, 30), End: at(6, 13, 30)},
	}}
	o := newOrchestrator(t, Options{Calendar: cal})

	resp, err := o.Handle(context.Background(), utter("Lunch with Sarah next Friday at noon"))
	require.NoError(t, err)
	require.NotNil(t, resp.Report)
	require.Len(t, resp.Report.Overlapping, 1)
	assert.Equal(t, "sync", resp.Report.Overlapping[0].ID)
	require.NotEmpty(t, resp.Report.FreeSlotSuggestions)
	assert.Equal(t, model.Interval{Start: at(6, 9, 0), End: at(6, 12, 30)}, resp.Report.FreeSlotSuggestions[0])
	assert.Contains(t, resp.Message, "Team sync")
}

func TestHandleDraftSurvivesCalendarFailure(t *testing.T) {
	o := newOrchestrator(t, Options{Calendar: fakeCalendar{err: errors.New("offline")}})
	resp, err := o.Handle(context.Background(), utter("Lunch with Sarah next Friday at noon"))
	require.NoError(t, err)
	assert.NotNil(t, resp.Draft)
	assert.Nil(t, resp.Report)
}

func TestHandleDatelessTask(t *testing.T) {
	o := newOrchestrator(t, Options{})
	resp, err := o.Handle(context.Background(), utter("Buy groceries"))
	require.NoError(t, err)

	assert.Equal(t, IntentCreateTask, resp.Intent)
	require.NotNil(t, resp.Draft)
	assert.Equal(t, model.DraftTask, resp.Draft.Kind)
	assert.False(t, resp.Draft.Dated())
	assert.Equal(t, "Buy groceries", resp.Draft.Title)
}

func TestHandleTonightReadsBareHourAsEvening(t *testing.T) {
	o := newOrchestrator(t, Options{})
	resp, err := o.Handle(context.Background(), utter("Dinner tonight at 8"))
	require.NoError(t, err)

	assert.Equal(t, IntentCreateEvent, resp.Intent)
	require.NotNil(t, resp.Draft)
	assert.Equal(t, at(2, 20, 0), resp.Draft.Start)
	assert.True(t, resp.Draft.Start.After(monday))
	assert.False(t, resp.Flags.Has(model.FlagAmbiguousTime))
	assert.Contains(t, resp.Message, "8:00 PM")
}

func TestHandleUnresolvedDateIsFlagged(t *testing.T) {
	o := newOrchestrator(t, Options{})

	resp, err := o.Handle(context.Background(), utter("Lunch with Sarah on the 35th at noon"))
	assert.ErrorIs(t, err, model.ErrUnresolvedTemporalExpression)
	assert.Equal(t, IntentCreateEvent, resp.Intent)
	assert.Nil(t, resp.Draft)
	assert.True(t, resp.Flags.Has(model.FlagUnresolvedDate))

	resp, err = o.Handle(context.Background(), utter("Any conflicts on February 30?"))
	assert.ErrorIs(t, err, model.ErrUnresolvedTemporalExpression)
	assert.Equal(t, IntentQueryConflicts, resp.Intent)
	assert.True(t, resp.Flags.Has(model.FlagUnresolvedDate))

	resp, err = o.Handle(context.Background(), utter("Remind me to call the bank on the 35th"))
	require.NoError(t, err)
	require.NotNil(t, resp.Draft)
	assert.False(t, resp.Draft.Dated())
	assert.True(t, resp.Draft.Flags.Has(model.FlagUnresolvedDate))
}

func TestClassifyLocalNeedsQuestionForLooseQueryPhrases(t *testing.T) {
	o := newOrchestrator(t, Options{})
	tests := []struct {
		text    string
		hasTime bool
		want    Intent
	}{
		{"Have a good time at the party Friday at 8pm", true, IntentCreateEvent},
		{"When is a good time to meet Friday?", true, IntentQuerySuggest},
		{"Add lunch to my calendar Friday at noon", true, IntentCreateEvent},
		{"What's on my calendar tomorrow?", true, IntentQuerySchedule},
		{"Anything on my calendar tomorrow", true, IntentQuerySchedule},
		{"Any conflicts on Friday at 10:30am?", true, IntentQueryConflicts},
		{"Buy groceries", false, IntentCreateTask},
		{"Buyers meeting Friday at 3pm", true, IntentCreateEvent},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := o.classifyLocal(tt.text, tt.hasTime)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDraftForcedEventNeedsTime(t *testing.T) {
	o := newOrchestrator(t, Options{})
	resp, err := o.Draft(context.Background(), utter("Buy groceries"), model.DraftEvent)
	assert.ErrorIs(t, err, model.ErrMissingTemporalExpression)
	assert.Equal(t, []State{StateIdle, StateDrafting, StateResponding, StateIdle}, resp.Trace)
	assert.Nil(t, resp.Draft)
	assert.NotEmpty(t, resp.Message)
}

func TestHandleConflictQuery(t *testing.T) {
	cal := fakeCalendar{events: []model.ExistingEvent{
		{ID: "standup", Title: "Standup", Start: at(6, 10, 0), End: at(6, 11, 0)},
		{ID: "later", Title: "Review", Start: at(6, 15, 0), End: at(6, 16, 0)},
	}}
	o := newOrchestrator(t, Options{Calendar: cal})

	resp, err := o.Handle(context.Background(), utter("Any conflicts on Friday at 10:30am?"))
	require.NoError(t, err)
	assert.Equal(t, IntentQueryConflicts, resp.Intent)
	assert.Equal(t, fullTrace(StateQuerying), resp.Trace)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "standup", resp.Events[0].ID)
}

func TestHandleConflictQueryNeedsTime(t *testing.T) {
	o := newOrchestrator(t, Options{})
	_, err := o.Handle(context.Background(), utter("Do I have any conflicts?"))
	assert.ErrorIs(t, err, model.ErrMissingTemporalExpression)
}

func TestHandleSuggestQuery(t *testing.T) {
	cal := fakeCalendar{events: []model.ExistingEvent{
		{ID: "morning", Title: "Workshop", Start: at(3, 9, 0), End: at(3, 12, 0)},
	}}
	o := newOrchestrator(t, Options{Calendar: cal})

	resp, err := o.Handle(context.Background(), utter("Suggest a 30 minute slot tomorrow"))
	require.NoError(t, err)
	assert.Equal(t, IntentQuerySuggest, resp.Intent)
	require.NotEmpty(t, resp.Slots)
	assert.Equal(t, at(3, 12, 0), resp.Slots[0].Start)
	for _, s := range resp.Slots {
		assert.GreaterOrEqual(t, s.Duration(), 30*time.Minute)
		assert.False(t, s.Overlaps(cal.events[0].Interval()))
	}
}

func TestHandleScheduleQuery(t *testing.T) {
	cal := fakeCalendar{events: []model.ExistingEvent{
		{ID: "a", Title: "Dentist", Start: at(3, 8, 0), End: at(3, 9, 0)},
		{ID: "b", Title: "Standup", Start: at(2, 10, 0), End: at(2, 10, 15)},
	}}
	o := newOrchestrator(t, Options{Calendar: cal})

	resp, err := o.Handle(context.Background(), utter("What's on my calendar tomorrow?"))
	require.NoError(t, err)
	assert.Equal(t, IntentQuerySchedule, resp.Intent)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Dentist", resp.Events[0].Title)
	assert.Contains(t, resp.Message, "Dentist")

	resp, err = o.Handle(context.Background(), utter("What's on my calendar?"))
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Standup", resp.Events[0].Title)
}

func TestHandleUnclassifiedWithoutBackend(t *testing.T) {
	rec := &turnCounter{}
	o := newOrchestrator(t, Options{Recorder: rec})
	resp, err := o.Handle(context.Background(), utter("hmm"))
	assert.ErrorIs(t, err, model.ErrUnclassifiedIntent)
	assert.Equal(t, fallbackMessage, resp.Message)
	assert.Equal(t, []State{StateIdle, StateClassifying, StateResponding, StateIdle}, resp.Trace)
	assert.Equal(t, 1, rec.turns["unknown/unclassified"])
}

func TestHandleModelFallbackRepairsJSON(t *testing.T) {
	var prompt string
	backend := backendFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `Sure! {"intent": "create_event", "text": "Sarah and me, Friday at noon"`, nil
	})
	o := newOrchestrator(t, Options{Backend: backend})

	resp, err := o.Handle(context.Background(), utter("Sarah and me, Friday at noon"))
	require.NoError(t, err)
	assert.Contains(t, prompt, llm.UtterancePrefix+" Sarah and me, Friday at noon")
	assert.Equal(t, IntentCreateEvent, resp.Intent)
	require.NotNil(t, resp.Draft)
	assert.True(t, resp.Draft.Flags.Has(model.FlagModelInterpreted))
	assert.Equal(t, at(6, 12, 0), resp.Draft.Start)
}

func TestHandleModelErrorDegrades(t *testing.T) {
	backend := backendFunc(func(context.Context, string) (string, error) {
		return "", &llm.ModelError{Provider: llm.ProviderOpenRouter, StatusCode: 502, Detail: "upstream stack trace"}
	})
	rec := &turnCounter{}
	o := newOrchestrator(t, Options{Backend: backend, Recorder: rec})

	resp, err := o.Handle(context.Background(), utter("hmm, thoughts?"))
	require.ErrorIs(t, err, model.ErrUnclassifiedIntent)
	assert.NotContains(t, err.Error(), "upstream")
	assert.NotContains(t, resp.Message, "upstream")
	assert.Equal(t, fallbackMessage, resp.Message)
	assert.Equal(t, 1, rec.turns["unknown/unclassified"])
}

func TestHandleModelUnknownIntent(t *testing.T) {
	o := newOrchestrator(t, Options{Backend: llm.NewLocal()})
	_, err := o.Handle(context.Background(), utter("hmm"))
	assert.ErrorIs(t, err, model.ErrUnclassifiedIntent)
}

func TestHandleModelTimeout(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := newOrchestrator(t, Options{Backend: backend})
	o.opts.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := o.Handle(context.Background(), utter("hmm"))
	assert.ErrorIs(t, err, model.ErrUnclassifiedIntent)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutIsClamped(t *testing.T) {
	assert.Equal(t, DefaultTimeout, New(Options{}).opts.Timeout)
	assert.Equal(t, minTimeout, New(Options{Timeout: time.Second}).opts.Timeout)
	assert.Equal(t, maxTimeout, New(Options{Timeout: time.Hour}).opts.Timeout)
}

func TestParseModelIntent(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
		ok   bool
	}{
		{"plain", `{"intent":"query_schedule","text":"x"}`, "query_schedule", true},
		{"fenced", "```json\n{\"intent\": \"create_task\"}\n```", "create_task", true},
		{"single quotes", `{'intent': 'query_suggest'}`, "query_suggest", true},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mi, err := parseModelIntent(tt.out)
			if !tt.ok {
				assert.ErrorIs(t, err, model.ErrExternalModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mi.Intent)
		})
	}
}

func TestHandleConcurrentTurnsAreIndependent(t *testing.T) {
	o := newOrchestrator(t, Options{})
	want, err := o.Handle(context.Background(), utter("Lunch with Sarah next Friday at noon"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := o.Handle(context.Background(), utter("Lunch with Sarah next Friday at noon"))
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}
