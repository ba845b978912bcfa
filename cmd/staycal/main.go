package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"staycal/internal/availability"
	"staycal/internal/config"
	"staycal/internal/ics"
	appLog "staycal/internal/log"
	"staycal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	// Feed URLs are deployment secrets; a local .env is the development
	// channel for them. Missing file is fine.
	_ = godotenv.Load()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("staycal starting",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"static_feeds", len(conf.Feeds),
	)

	fetcher := ics.NewFetcher(ics.DefaultCacheTTL)
	agg, err := availability.New(fetcher, availability.Options{
		HorizonDays:          conf.HorizonDays,
		FallbackBlockedDates: conf.FallbackBlockedDates,
	})
	if err != nil {
		appLog.Error("failed to initialize aggregator", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runOnce(conf, agg); err != nil {
			appLog.Error("aggregation failed", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Background warm-up keeps the fetch cache hot so client requests on
	// the hourly polling cadence never wait on cold feeds.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		warmUp(ctx, conf, agg)
	}); err != nil {
		appLog.Error("invalid refresh cron spec", err, "spec", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	go warmUp(ctx, conf, agg)

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, agg, fetcher).Handler(),
	}

	go func() {
		appLog.Info("http server listening", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("http server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", err)
	}
	appLog.Info("staycal exiting")
}

// runOnce performs a single aggregation and prints the result as JSON.
func runOnce(conf *config.Config, agg *availability.Aggregator) error {
	sources, err := resolveSources(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := agg.Aggregate(ctx, sources)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// warmUp runs a full aggregation purely for its cache side effect.
func warmUp(ctx context.Context, conf *config.Config, agg *availability.Aggregator) {
	sources, err := resolveSources(conf)
	if err != nil {
		appLog.Warn("warm-up skipped", "reason", err)
		return
	}

	warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	result, err := agg.Aggregate(warmCtx, sources)
	if err != nil {
		appLog.Error("warm-up aggregation failed", err)
		return
	}
	appLog.Info("warm-up complete",
		"blocked_dates", len(result.BlockedDates),
		"events", result.TotalEventCount,
		"feeds", len(sources),
		"stale", result.Stale,
	)
}

func resolveSources(conf *config.Config) ([]ics.Source, error) {
	static := make([]ics.Source, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		static = append(static, ics.Source{ID: f.ID, URL: f.URL})
	}
	return ics.ResolveSources(static)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/staycal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one aggregation, print JSON to stdout and exit")

	flag.Parse()

	return cfg
}
