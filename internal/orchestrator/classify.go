package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"calassist/internal/llm"
	"calassist/internal/log"
	"calassist/internal/model"
)

type Intent string

const (
	IntentCreateEvent    Intent = "create_event"
	IntentCreateTask     Intent = "create_task"
	IntentQueryConflicts Intent = "query_conflicts"
	IntentQuerySuggest   Intent = "query_suggest"
	IntentQuerySchedule  Intent = "query_schedule"
)

// Valid reports whether i is one of the intents the orchestrator handles.
func (i Intent) Valid() bool {
	switch i {
	case IntentCreateEvent, IntentCreateTask, IntentQueryConflicts, IntentQuerySuggest, IntentQuerySchedule:
		return true
	}
	return false
}

func (i Intent) Query() bool {
	return i == IntentQueryConflicts || i == IntentQuerySuggest || i == IntentQuerySchedule
}

var (
	conflictPhrases = []string{"conflict", "conflicts", "conflicting", "clash", "clashes", "overlap", "overlaps", "double-booked", "double booked", "am i free", "am i busy"}
	suggestPhrases  = []string{"suggest", "find time", "find a time", "find me a time", "find a slot", "when am i free", "when can i", "when could i"}
	schedulePhrases = []string{"what's", "what is", "whats", "what do i have", "do i have", "show me", "show my", "list my", "agenda"}
	taskPhrases     = []string{"remind me", "todo", "to-do", "to do list", "task", "buy", "pick up", "don't forget", "dont forget", "need to"}

	// Only counted when the utterance asks a question.
	suggestQuestions  = []string{"free slot", "free slots", "free time", "good time", "available"}
	scheduleQuestions = []string{"my schedule", "my calendar"}
	questionWords     = []string{"when", "what", "what's", "whats", "is", "are", "am", "do", "does", "can", "could", "any", "anything", "which", "how", "where", "will", "should"}
	actionVerbs     = []string{"schedule", "add", "book", "set up", "setup", "create", "plan", "put", "arrange", "organize", "organise", "meet", "meeting", "call", "visit", "see", "have", "go to", "attend"}
)

// classifyLocal maps the utterance onto an intent using fixed templates.
// Queries are checked first so "do I have a meeting tomorrow" is not drafted.
func (o *Orchestrator) classifyLocal(text string, hasTime bool) (Intent, bool) {
	lower := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	question := isQuestion(lower)
	switch {
	case containsWord(lower, suggestPhrases), question && containsWord(lower, suggestQuestions):
		return IntentQuerySuggest, true
	case containsWord(lower, conflictPhrases):
		return IntentQueryConflicts, true
	case containsWord(lower, schedulePhrases), question && containsWord(lower, scheduleQuestions):
		return IntentQuerySchedule, true
	case containsWord(lower, taskPhrases):
		return IntentCreateTask, true
	case hasTime && (containsWord(lower, actionVerbs) || o.extractor.Categorize(text).Confidence > 0):
		return IntentCreateEvent, true
	}
	return "", false
}

const classifyPrompt = `You classify requests sent to a calendar assistant.
Reply with a single JSON object and nothing else:
{"intent": "<create_event|create_task|query_conflicts|query_suggest|query_schedule|unknown>", "text": "<the request>"}
`

type modelIntent struct {
	Intent string `json:"intent"`
	Text   string `json:"text"`
}

// classifyRemote asks the language model for an intent. Every failure,
// including a timeout, becomes model.ErrUnclassifiedIntent; transport detail
// is only logged.
func (o *Orchestrator) classifyRemote(ctx context.Context, text string) (Intent, error) {
	if o.backend == nil {
		return "", model.ErrUnclassifiedIntent
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	prompt := classifyPrompt + llm.UtterancePrefix + " " + strings.ReplaceAll(text, "\n", " ")
	out, err := o.backend.Complete(ctx, prompt, o.opts.Completion)
	if err != nil {
		log.Warn("intent model call failed", "error", err, "timeout", errors.Is(ctx.Err(), context.DeadlineExceeded))
		return "", fmt.Errorf("%w: model unavailable", model.ErrUnclassifiedIntent)
	}

	mi, err := parseModelIntent(out)
	if err != nil {
		log.Warn("intent model output unusable", "error", err)
		return "", fmt.Errorf("%w: unreadable model output", model.ErrUnclassifiedIntent)
	}
	intent := Intent(strings.ToLower(strings.TrimSpace(mi.Intent)))
	if !intent.Valid() {
		log.Debug("intent model returned no usable intent", "intent", mi.Intent)
		return "", model.ErrUnclassifiedIntent
	}
	return intent, nil
}

// parseModelIntent extracts the JSON object from a completion, repairing it
// when the model returned almost-JSON.
func parseModelIntent(out string) (modelIntent, error) {
	var mi modelIntent
	raw := strings.TrimSpace(out)
	if i := strings.Index(raw, "{"); i >= 0 {
		raw = raw[i:]
	}
	if j := strings.LastIndex(raw, "}"); j >= 0 {
		raw = raw[:j+1]
	}
	if raw == "" {
		return mi, fmt.Errorf("%w: empty completion", model.ErrExternalModel)
	}
	if err := json.Unmarshal([]byte(raw), &mi); err == nil {
		return mi, nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return mi, fmt.Errorf("%w: repair: %v", model.ErrExternalModel, err)
	}
	if err := json.Unmarshal([]byte(fixed), &mi); err != nil {
		return mi, fmt.Errorf("%w: decode: %v", model.ErrExternalModel, err)
	}
	return mi, nil
}

func isQuestion(lower string) bool {
	s := strings.TrimSpace(lower)
	if strings.HasSuffix(s, "?") {
		return true
	}
	first, _, _ := strings.Cut(s, " ")
	return slices.Contains(questionWords, strings.Trim(first, ",.!"))
}

// containsWord matches whole words only; s is padded with spaces.
func containsWord(s string, words []string) bool {
	r := strings.NewReplacer(",", " ", ".", " ", "!", " ", "?", " ", ";", " ", ":", " ")
	s = r.Replace(s)
	for _, w := range words {
		if strings.Contains(s, " "+w+" ") {
			return true
		}
	}
	return false
}
