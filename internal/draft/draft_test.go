package draft

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calassist/internal/extract"
	"calassist/internal/model"
	"calassist/internal/temporal"
)

func pipeline(t *testing.T, text string, kind model.DraftKind) (model.EventDraft, error) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	u := model.NewUtterance(text, time.Date(2026, time.March, 2, 9, 0, 0, 0, loc), loc)

	exprs, err := temporal.New(temporal.Options{}).Resolve(u.Text, u.Reference, u.Location)
	require.NoError(t, err)
	res := extract.New(extract.Options{}).Extract(u.Text)
	return New().Build(Input{
		Utterance:   u,
		Expressions: exprs,
		Entities:    res.Entities,
		Category:    res.Category,
		Kind:        kind,
	})
}

func TestBuildLunchWithSarah(t *testing.T) {
	d, err := pipeline(t, "Lunch with Sarah next Friday at noon", model.DraftEvent)
	require.NoError(t, err)

	loc := d.Start.Location()
	assert.Contains(t, d.Title, "Lunch")
	assert.Equal(t, []string{"Sarah"}, d.Participants)
	assert.Equal(t, time.Date(2026, time.March, 6, 12, 0, 0, 0, loc), d.Start)
	assert.Equal(t, time.Date(2026, time.March, 6, 13, 0, 0, 0, loc), d.End)
	assert.Contains(t, []model.Category{model.CategoryFriends, model.CategoryPersonal}, d.Category.Category)
	assert.True(t, d.Flags.Has(model.FlagAmbiguousDuration))
	assert.Equal(t, model.DraftEvent, d.Kind)
	// 0.4*0.5 + 0.3*0.6 + 0.3*0.8
	assert.InDelta(t, 0.62, d.Confidence, 1e-9)
}

func TestBuildIsIdempotent(t *testing.T) {
	a, err := pipeline(t, "Dinner with Sarah and Tom at Luigi's on Friday at 7pm", model.DraftEvent)
	require.NoError(t, err)
	b, err := pipeline(t, "Dinner with Sarah and Tom at Luigi's on Friday at 7pm", model.DraftEvent)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "Luigi's", a.Location)
}

func TestBuildMissingTemporalExpression(t *testing.T) {
	_, err := pipeline(t, "Buy groceries", model.DraftEvent)
	assert.ErrorIs(t, err, model.ErrMissingTemporalExpression)
}

func TestBuildDatelessTask(t *testing.T) {
	d, err := pipeline(t, "Buy groceries", model.DraftTask)
	require.NoError(t, err)
	assert.Equal(t, model.DraftTask, d.Kind)
	assert.False(t, d.Dated())
	assert.Equal(t, "Buy groceries", d.Title)
	assert.Equal(t, model.CategoryPersonal, d.Category.Category)
	assert.Empty(t, d.Flags)
	assert.Equal(t, []string{}, d.Participants)
}

func TestBuildMultipleTimesPicksFirst(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 6, h, 0, 0, 0, time.UTC) }
	in := Input{
		Utterance: model.NewUtterance("Coffee at 4pm or 2pm", at(0), time.UTC),
		Expressions: []model.TemporalExpression{
			{Span: model.Span{Start: 14, End: 17}, Start: at(14), End: at(15)},
			{Span: model.Span{Start: 7, End: 13}, Start: at(16), End: at(17)},
		},
		Entities: []model.ExtractedEntity{{Kind: model.EntityTitle, Text: "Coffee", Confidence: 0.8}},
		Category: model.CategoryLabel{Category: model.CategoryFriends, Confidence: 0.6},
	}
	d, err := New().Build(in)
	require.NoError(t, err)
	assert.Equal(t, at(16), d.Start)
	assert.Equal(t, model.Flags{model.FlagMultipleTimesDetected}, d.Flags)
	assert.InDelta(t, 0.4+0.18+0.24, d.Confidence, 1e-9)
}

func TestBuildLowConfidenceTitle(t *testing.T) {
	d, err := pipeline(t, "tomorrow at 3pm", model.DraftEvent)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, d.Title)
	assert.True(t, d.Flags.Has(model.FlagLowConfidenceTitle))
	// 0.4*0.5 + 0 + 0
	assert.InDelta(t, 0.2, d.Confidence, 1e-9)
}

func TestBuildCopiesRecurrence(t *testing.T) {
	d, err := pipeline(t, "Team sync every Monday at 9am", model.DraftEvent)
	require.NoError(t, err)
	assert.Contains(t, d.RRule, "FREQ=WEEKLY")
	assert.Equal(t, time.Monday, d.Start.Weekday())
}
