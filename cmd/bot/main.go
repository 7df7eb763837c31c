package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/predictbot/config"
	"github.com/alejandrodnm/predictbot/internal/adapters/grok"
	"github.com/alejandrodnm/predictbot/internal/adapters/notify"
	"github.com/alejandrodnm/predictbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/predictbot/internal/adapters/signals"
	"github.com/alejandrodnm/predictbot/internal/adapters/storage"
	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/engine"
	"github.com/alejandrodnm/predictbot/internal/learning"
	"github.com/alejandrodnm/predictbot/internal/ports"
	"github.com/alejandrodnm/predictbot/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one tier 1 scan and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("predictbot starting",
		"config", *configPath,
		"environment", cfg.Environment,
		"model", cfg.Model,
		"once", *once,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Portfolio inicial si es el primer arranque.
	portfolio, err := store.LoadPortfolio(ctx)
	if err != nil {
		slog.Error("failed to load portfolio", "err", err)
		os.Exit(1)
	}
	if portfolio.TotalEquity == 0 {
		if err := store.SavePortfolio(ctx, domain.NewPortfolio(cfg.InitialBankroll)); err != nil {
			slog.Error("failed to seed portfolio", "err", err)
			os.Exit(1)
		}
		slog.Info("portfolio inicial creado", "bankroll", cfg.InitialBankroll)
	}

	markets := polymarket.NewClient(
		cfg.API.GammaBase, cfg.API.CLOBBase, cfg.Environment,
		cfg.Tier1.FeeRate, cfg.Tier2.FeeRate,
	)
	estimator := grok.NewClient(cfg.API.XAIBase, cfg.API.XAIKey, cfg.Model, store)
	rss := signals.NewRSSProvider(cfg.API.RSSFeeds)

	notifier, err := notify.NewTelegram(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
	if err != nil {
		slog.Error("failed to init telegram", "err", err)
		os.Exit(1)
	}

	orch := learning.NewOrchestrator(
		learning.NewCalibrationManager(cfg.Learning.RecencyDecay),
		learning.NewMarketTypeManager(cfg.Learning.DampenKeepScores),
		learning.NewSignalTrackerManager(),
		store,
	)
	if err := orch.LoadAll(ctx); err != nil {
		slog.Error("failed to load learning state", "err", err)
		os.Exit(1)
	}

	// Todo TradeRecord referencia el run activo; lo creamos si no existe.
	if _, err := orch.EnsureActiveRun(ctx, cfg.Model, map[string]string{
		"environment":      cfg.Environment,
		"model":            cfg.Model,
		"initial_bankroll": fmt.Sprintf("%.2f", cfg.InitialBankroll),
	}); err != nil {
		slog.Error("failed to ensure experiment run", "err", err)
		os.Exit(1)
	}

	var orders ports.OrderPlacer
	if cfg.Environment == "live" {
		orders = markets
	}
	executor := engine.NewExecutor(store, orders, cfg.Environment)
	resolver := engine.NewResolver(store, markets, orch)

	sched := scheduler.New(cfg, store, markets, rss, estimator, notifier, orch, executor, resolver)

	if *once {
		if err := sched.Scan(ctx, 1); err != nil {
			slog.Error("scan failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("predictbot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
