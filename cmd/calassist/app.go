package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"calassist/internal/calendar"
	"calassist/internal/config"
	"calassist/internal/conflict"
	"calassist/internal/extract"
	"calassist/internal/gcal"
	"calassist/internal/ics"
	"calassist/internal/llm"
	appLog "calassist/internal/log"
	"calassist/internal/metrics"
	"calassist/internal/model"
	"calassist/internal/orchestrator"
	"calassist/internal/temporal"
)

const (
	refreshTimeout = time.Minute
	backfill       = 24 * time.Hour
)

// app holds the wired components for one process.
type app struct {
	conf      *config.Config
	loc       *time.Location
	hours     conflict.WorkingHours
	source    calendar.Source
	committer calendar.Committer
	snapshot  *calendar.Snapshot
	orch      *orchestrator.Orchestrator
}

func newApp(ctx context.Context, conf *config.Config, configPath string, m *metrics.Metrics) (*app, error) {
	loc := conf.Location()
	wh := conf.Assistant.WorkingHours
	hours, err := conflict.ParseWorkingHours(wh.Start, wh.End, wh.Days, loc)
	if err != nil {
		return nil, fmt.Errorf("working hours: %w", err)
	}

	source, committer, err := newCalendar(ctx, conf, configPath, loc)
	if err != nil {
		return nil, err
	}
	snap := calendar.NewSnapshot(source, calendar.SnapshotOptions{
		Backfill: backfill,
		Horizon:  conf.Horizon(),
		Recorder: m,
	})

	backend := newBackend(conf, m)
	orch := orchestrator.New(orchestrator.Options{
		Resolver: temporal.New(temporal.Options{
			DefaultDuration: conf.DefaultDuration(),
			NextWeekday:     temporal.NextWeekdayPolicy(conf.Assistant.NextWeekday),
			DateOrder:       temporal.DateOrder(conf.Assistant.DateOrder),
			SundayFirst:     conf.WeekStart == "sunday",
		}),
		Extractor:       extract.New(extract.Options{Lexicon: lexicon(conf.Assistant.Categories)}),
		Backend:         backend,
		Completion:      llm.CompletionConfig{Provider: llm.Provider(conf.LLM.Provider), Tier: llm.Tier(conf.LLM.Tier)},
		Timeout:         conf.LLMTimeout(),
		Calendar:        snap,
		Hours:           hours,
		Horizon:         conf.Horizon(),
		MaxSuggestions:  conf.Assistant.MaxSuggestions,
		DefaultDuration: conf.DefaultDuration(),
		Recorder:        m,
	})

	return &app{
		conf:      conf,
		loc:       loc,
		hours:     hours,
		source:    source,
		committer: committer,
		snapshot:  snap,
		orch:      orch,
	}, nil
}

// newCalendar merges the subscribed feeds, the local store and Google
// Calendar. Confirmed drafts go to Google when it is enabled, otherwise to
// the local store.
func newCalendar(ctx context.Context, conf *config.Config, configPath string, loc *time.Location) (calendar.Source, calendar.Committer, error) {
	var sources calendar.Multi

	if len(conf.ICS) > 0 {
		feeds := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			id := c.ID
			if id == "" {
				id = c.Name
			}
			if id == "" {
				id = c.URL
			}
			feeds = append(feeds, ics.Source{ID: id, Name: c.Name, URL: c.URL})
		}
		cacheDir := filepath.Join(filepath.Dir(configPath), "ics-cache")
		sources = append(sources, ics.NewFeed(ics.NewFetcher(cacheDir, nil), feeds, loc))
	}

	store := ics.NewFileStore(conf.Store.Path, loc)
	sources = append(sources, store)
	var committer calendar.Committer = store

	if conf.Google.Enabled() {
		g, err := gcal.New(ctx, conf.Google, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("google calendar: %w", err)
		}
		sources = append(sources, g)
		committer = g
	}
	return sources, committer, nil
}

// newBackend registers every provider that has credentials. The local
// backend is always present so a misconfigured remote degrades to the
// templates alone.
func newBackend(conf *config.Config, rec llm.Recorder) llm.Backend {
	backends := map[llm.Provider]llm.Backend{
		llm.ProviderLocal: llm.NewLocal(),
	}
	if or := conf.LLM.OpenRouter; or.APIKey != "" {
		backends[llm.ProviderOpenRouter] = llm.NewOpenRouter(llm.OpenRouterConfig{
			BaseURL: or.BaseURL,
			APIKey:  or.APIKey,
			Models:  models(or.Models),
			Headers: map[string]string{"X-Title": "calassist"},
		})
	}
	if hf := conf.LLM.HuggingFace; hf.APIKey != "" {
		backends[llm.ProviderHuggingFace] = llm.NewHuggingFace(llm.HuggingFaceConfig{
			BaseURL: hf.BaseURL,
			Token:   hf.APIKey,
			Models:  models(hf.Models),
		})
	}

	def := llm.Provider(conf.LLM.Provider)
	if _, ok := backends[def]; !ok {
		appLog.Warn("llm provider has no credentials, using local", "provider", def)
		def = llm.ProviderLocal
		conf.LLM.Provider = string(def)
	}
	return llm.NewCached(llm.NewRouter(def, backends, rec), conf.LLM.CacheSize)
}

func models(in map[string]string) llm.Models {
	if len(in) == 0 {
		return nil
	}
	out := make(llm.Models, len(in))
	for tier, id := range in {
		out[llm.Tier(strings.ToLower(tier))] = id
	}
	return out
}

func lexicon(in map[string][]string) extract.Lexicon {
	if len(in) == 0 {
		return nil
	}
	out := make(extract.Lexicon, len(in))
	for c, words := range in {
		out[model.Category(strings.ToLower(c))] = words
	}
	return out
}
