// Package draft composes resolved times, extracted entities and a category
// into an EventDraft awaiting user confirmation.
package draft

import (
	"fmt"

	"calassist/internal/model"
)

const (
	// PlaceholderTitle replaces titles extracted with low confidence.
	PlaceholderTitle = "Untitled event"

	minTitleConfidence = 0.5

	weightTemporal = 0.4
	weightCategory = 0.3
	weightTitle    = 0.3
)

// Input is everything the builder needs for one utterance.
type Input struct {
	Utterance   model.Utterance
	Expressions []model.TemporalExpression
	Entities    []model.ExtractedEntity
	Category    model.CategoryLabel
	// Kind defaults to model.DraftEvent.
	Kind model.DraftKind
}

// Builder holds no state between calls, so identical input always yields an
// identical draft.
type Builder struct{}

func New() *Builder { return &Builder{} }

// Build returns model.ErrMissingTemporalExpression when an event has no
// temporal expression. A task without one becomes a dateless task.
func (b *Builder) Build(in Input) (model.EventDraft, error) {
	kind := in.Kind
	if kind == "" {
		kind = model.DraftEvent
	}

	d := model.EventDraft{
		Kind:         kind,
		Category:     in.Category,
		Participants: participants(in.Entities),
		Source:       in.Utterance.Text,
	}

	temporalCertainty := 1.0
	switch n := len(in.Expressions); {
	case n == 0 && kind == model.DraftEvent:
		return model.EventDraft{}, fmt.Errorf("build draft from %q: %w", in.Utterance.Text, model.ErrMissingTemporalExpression)
	case n == 0:
		// Dateless task.
	default:
		e := first(in.Expressions)
		d.Start, d.End, d.AllDay, d.RRule = e.Start, e.End, e.AllDay, e.RRule
		d.Flags = d.Flags.With(e.Flags...)
		if n > 1 {
			d.Flags = d.Flags.With(model.FlagMultipleTimesDetected)
		}
		if e.Flags.Has(model.FlagAmbiguousDuration) {
			temporalCertainty = 0.5
		}
	}

	titleConfidence := 0.0
	if t, ok := find(in.Entities, model.EntityTitle); ok && t.Confidence >= minTitleConfidence {
		d.Title = t.Text
		titleConfidence = t.Confidence
	} else {
		d.Title = PlaceholderTitle
		d.Flags = d.Flags.With(model.FlagLowConfidenceTitle)
	}
	if l, ok := find(in.Entities, model.EntityLocation); ok {
		d.Location = l.Text
	}

	d.Confidence = weightTemporal*temporalCertainty +
		weightCategory*in.Category.Confidence +
		weightTitle*titleConfidence
	return d, nil
}

// first returns the expression that appears earliest in the text.
func first(exprs []model.TemporalExpression) model.TemporalExpression {
	best := exprs[0]
	for _, e := range exprs[1:] {
		if e.Span.Start < best.Span.Start {
			best = e
		}
	}
	return best
}

func find(entities []model.ExtractedEntity, kind model.EntityKind) (model.ExtractedEntity, bool) {
	for _, e := range entities {
		if e.Kind == kind {
			return e, true
		}
	}
	return model.ExtractedEntity{}, false
}

func participants(entities []model.ExtractedEntity) []string {
	out := []string{}
	for _, e := range entities {
		if e.Kind == model.EntityPerson {
			out = append(out, e.Text)
		}
	}
	return out
}
