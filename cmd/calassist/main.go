package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"calassist/internal/calendar"
	"calassist/internal/config"
	appLog "calassist/internal/log"
	"calassist/internal/metrics"
	"calassist/internal/model"
	"calassist/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       string
	now        string
}

func main() {
	appLog.Info("calassist starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh_cron", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"ics_count", len(conf.ICS),
		"google", conf.Google.Enabled(),
		"llm_provider", conf.LLM.Provider,
		"llm_tier", conf.LLM.Tier,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	m := metrics.MustNew(prometheus.DefaultRegisterer)
	a, err := newApp(ctx, conf, flags.configPath, m)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}

	if flags.once != "" {
		ref := time.Now()
		if flags.now != "" {
			ref, err = time.Parse(time.RFC3339, flags.now)
			if err != nil {
				appLog.Error("invalid -now", err, "value", flags.now)
				os.Exit(2)
			}
		}
		if err := a.runOnce(ctx, os.Stdout, flags.once, ref); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := a.serve(ctx); err != nil {
		appLog.Error("server stopped", err)
		os.Exit(1)
	}
	appLog.Info("calassist exiting")
}

// runOnce handles a single utterance and writes the response as JSON.
func (a *app) runOnce(ctx context.Context, w io.Writer, text string, ref time.Time) error {
	if err := a.snapshot.Refresh(ctx); err != nil {
		appLog.Warn("calendar refresh failed", "error", err)
	}
	resp, turnErr := a.orch.Handle(ctx, model.NewUtterance(text, ref, a.loc))

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return turnErr
}

// serve keeps the calendar snapshot fresh and runs the HTTP API until ctx
// is cancelled.
func (a *app) serve(ctx context.Context) error {
	if err := a.snapshot.Refresh(ctx); err != nil {
		appLog.Warn("initial calendar refresh failed", "error", err)
	}
	sched, err := calendar.StartRefresh(ctx, a.snapshot, a.conf.RefreshCron, a.loc, refreshTimeout)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	srv := web.NewServer(a.conf, web.Deps{
		Orchestrator:   a.orch,
		Calendar:       a.snapshot,
		Committer:      a.committer,
		Hours:          a.hours,
		MaxSuggestions: a.conf.Assistant.MaxSuggestions,
		Gatherer:       prometheus.DefaultGatherer,
	})
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calassist/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.once, "once", "", "Handle one utterance, print the response as JSON and exit")
	flag.StringVar(&cfg.now, "now", "", "Reference time for -once (RFC3339, default: current time)")

	flag.Parse()

	return cfg
}
