// Package config holds the assistant's YAML settings: timezone, working
// hours, calendar sources and the language-model provider. API keys may come
// from the environment instead of the file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
	EnvHuggingFace   = "HF_TOKEN"

	minLLMTimeout = 10
	maxLLMTimeout = 30
)

// ICSConfig is a read-only calendar feed whose events count as busy time.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID is reported as the Source of the feed's events; it defaults to Name,
	// then URL.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// WorkingHoursConfig is the daily range used for free-slot suggestions.
type WorkingHoursConfig struct {
	Start string   `yaml:"start" json:"start"`
	End   string   `yaml:"end" json:"end"`
	Days  []string `yaml:"days" json:"days"`
}

// AssistantConfig tunes how utterances are interpreted.
type AssistantConfig struct {
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	MaxSuggestions         int `yaml:"max_suggestions" json:"max_suggestions"`

	// NextWeekday decides what "next friday" means:
	//   - "upcoming" (default): the first friday after today
	//   - "following_week": the friday of next calendar week
	NextWeekday string `yaml:"next_weekday" json:"next_weekday"`

	// DateOrder is "mdy" (default) or "dmy" for numeric dates like 3/4.
	DateOrder string `yaml:"date_order" json:"date_order"`

	WorkingHours WorkingHoursConfig `yaml:"working_hours" json:"working_hours"`

	// Categories replaces the keyword list of each category it names
	// (work, personal, friends, health).
	Categories map[string][]string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// StoreConfig is the local calendar file confirmed drafts are written to.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// GoogleConfig enables the Google Calendar store when CalendarID is set.
type GoogleConfig struct {
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	TokenPath       string `yaml:"token_path" json:"token_path"`
	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
}

func (g GoogleConfig) Enabled() bool { return g.CalendarID != "" }

// ProviderConfig configures one remote language-model provider.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"-"`
	// Models maps tier (fast, balanced, premium) to a model identifier.
	Models map[string]string `yaml:"models,omitempty" json:"models,omitempty"`
}

// LLMConfig selects the language-model backend used for utterances that
// cannot be classified locally.
type LLMConfig struct {
	// Provider is "local" (default), "openrouter" or "huggingface".
	Provider       string         `yaml:"provider" json:"provider"`
	Tier           string         `yaml:"tier" json:"tier"`
	TimeoutSeconds int            `yaml:"timeout_seconds" json:"timeout_seconds"`
	CacheSize      int            `yaml:"cache_size" json:"cache_size"`
	OpenRouter     ProviderConfig `yaml:"openrouter" json:"openrouter"`
	HuggingFace    ProviderConfig `yaml:"huggingface" json:"huggingface"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone utterances are interpreted in
	// (e.g. "America/New_York").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday" and decides where
	// "this week" and "next week" begin.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the five-field schedule of the calendar snapshot
	// refresh, evaluated in Timezone.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how many future days the calendar snapshot covers and
	// how far slot suggestions search.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`

	// ICS is the list of subscribed (read-only) ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Store  StoreConfig  `yaml:"store" json:"store"`
	Google GoogleConfig `yaml:"google" json:"google"`
	LLM    LLMConfig    `yaml:"llm" json:"llm"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		WeekStart:   "monday",
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		HorizonDays: 7,
		ICS:         []ICSConfig{},
		Store:       StoreConfig{Path: "calendar.ics"},
		LLM:         LLMConfig{Provider: "local"},
		BasicAuth:   nil,
	}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults, resets unknown enum values
// (week start, next_weekday, date order, provider, tier) and clamps the model
// timeout to 10-30s.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		c.WeekStart = "monday"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}

	a := &c.Assistant
	if a.DefaultDurationMinutes <= 0 {
		a.DefaultDurationMinutes = 60
	}
	if a.MaxSuggestions <= 0 {
		a.MaxSuggestions = 5
	}
	switch a.NextWeekday {
	case "upcoming", "following_week":
	default:
		a.NextWeekday = "upcoming"
	}
	switch a.DateOrder {
	case "mdy", "dmy":
	default:
		a.DateOrder = "mdy"
	}
	if a.WorkingHours.Start == "" {
		a.WorkingHours.Start = "09:00"
	}
	if a.WorkingHours.End == "" {
		a.WorkingHours.End = "18:00"
	}
	if a.WorkingHours.Days == nil {
		a.WorkingHours.Days = []string{"mon", "tue", "wed", "thu", "fri"}
	}

	l := &c.LLM
	switch l.Provider {
	case "local", "openrouter", "huggingface":
	default:
		l.Provider = "local"
	}
	switch l.Tier {
	case "fast", "balanced", "premium":
	default:
		l.Tier = "balanced"
	}
	switch {
	case l.TimeoutSeconds <= 0:
		l.TimeoutSeconds = 20
	case l.TimeoutSeconds < minLLMTimeout:
		l.TimeoutSeconds = minLLMTimeout
	case l.TimeoutSeconds > maxLLMTimeout:
		l.TimeoutSeconds = maxLLMTimeout
	}
	if l.CacheSize <= 0 {
		l.CacheSize = 256
	}
}

// ApplyEnv overrides API secrets from the environment when set, so keys do
// not have to be stored in the config file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvOpenRouterKey)); v != "" {
		c.LLM.OpenRouter.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvHuggingFace)); v != "" {
		c.LLM.HuggingFace.APIKey = v
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.Assistant.DefaultDurationMinutes) * time.Minute
}

func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// Load reads the YAML file at path and normalizes it. A missing file is
// created with the defaults (mode 0600) so a first run leaves an editable
// config behind.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it atomically with mode 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, creating the directory (0700) if needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
