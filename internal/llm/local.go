package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// UtterancePrefix marks the line of a prompt that holds the user's text. The
// local backend classifies only that line when it is present.
const UtterancePrefix = "Utterance:"

var localIntents = []struct {
	intent   string
	keywords []string
}{
	{"query_conflicts", []string{"conflict", "clash", "overlap", "double-booked", "double booked"}},
	{"query_suggest", []string{"free slot", "free time", "available", "find time", "find a time", "when can", "good time", "suggest"}},
	{"query_schedule", []string{"agenda", "my schedule", "my calendar", "what's on", "whats on", "what is on", "plans"}},
	{"create_task", []string{"remind me", "todo", "to-do", "to do", "task", "buy ", "pick up", "don't forget", "dont forget"}},
	{"create_event", []string{"meet", "lunch", "dinner", "coffee", "call", "appointment", "party", "schedule", "book", "add"}},
}

// Local is an offline keyword classifier. It answers every prompt with the
// JSON intent object the orchestrator asks remote models for, so it can stand
// in for them without network access.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (Local) Complete(ctx context.Context, prompt string, _ CompletionConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ModelError{Provider: ProviderLocal, Detail: err.Error()}
	}
	text := prompt
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), UtterancePrefix); ok {
			text = strings.TrimSpace(rest)
		}
	}

	intent := "unknown"
	lower := strings.ToLower(text) + " "
	for _, c := range localIntents {
		if containsAny(lower, c.keywords) {
			intent = c.intent
			break
		}
	}

	out, err := json.Marshal(map[string]string{"intent": intent, "text": text})
	if err != nil {
		return "", &ModelError{Provider: ProviderLocal, Detail: err.Error()}
	}
	return string(out), nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
