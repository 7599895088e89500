package model

import "errors"

var (
	// ErrUnresolvedTemporalExpression means date-like text was found but could
	// not be mapped onto a calendar date (e.g. "the 35th").
	ErrUnresolvedTemporalExpression = errors.New("unresolved temporal expression")
	// ErrMissingTemporalExpression means an event draft needs a time and the
	// utterance had none.
	ErrMissingTemporalExpression = errors.New("missing temporal expression")
	ErrInvalidSearchWindow       = errors.New("invalid search window")
	ErrInvalidDuration           = errors.New("invalid duration")
	ErrInvalidWorkingHours       = errors.New("invalid working hours")
	// ErrExternalModel covers transport failures, non-2xx responses and
	// malformed output from the language-model backend.
	ErrExternalModel      = errors.New("external model error")
	ErrUnclassifiedIntent = errors.New("unclassified intent")
)
