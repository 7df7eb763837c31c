// Command manage ejecuta las operaciones administrativas del bot que no
// corren dentro del scheduler: cambio de modelo, anulación de trades,
// recálculo del aprendizaje, experiment runs manuales y el status general.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/predictbot/config"
	"github.com/alejandrodnm/predictbot/internal/adapters/storage"
	"github.com/alejandrodnm/predictbot/internal/learning"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

const usage = `usage: manage [-config path] <command> [args]

commands:
  status                              portfolio, categorías y calibración
  model-swap   -old M -new M [-reason R]   protocolo de cambio de modelo
  void-trade   -id ID [-reason R]          anula un trade y recalcula
  recalculate                              reconstruye las tres capas desde los trades
  start-experiment -id ID [-model M] [-desc D] [-config k=v,k=v]
  end-experiment   -id ID                  cierra un run con sus agregados
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

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

	if err := run(ctx, args, store, orch); err != nil {
		slog.Error("command failed", "command", args[0], "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, store ports.Storage, orch *learning.Orchestrator) error {
	switch args[0] {
	case "status":
		return printStatus(ctx, store)

	case "model-swap":
		fs := flag.NewFlagSet("model-swap", flag.ExitOnError)
		oldModel := fs.String("old", "", "model being replaced")
		newModel := fs.String("new", "", "model being deployed")
		reason := fs.String("reason", "manual swap", "why the model changes")
		fs.Parse(args[1:])
		if *oldModel == "" || *newModel == "" {
			return fmt.Errorf("model-swap: -old y -new son obligatorios")
		}
		runID, err := orch.HandleModelSwap(ctx, *oldModel, *newModel, *reason)
		if err != nil {
			return err
		}
		fmt.Printf("model swap %s -> %s, run %s iniciado\n", *oldModel, *newModel, runID)
		return nil

	case "void-trade":
		fs := flag.NewFlagSet("void-trade", flag.ExitOnError)
		id := fs.String("id", "", "trade id")
		reason := fs.String("reason", "manual void", "why the trade is voided")
		fs.Parse(args[1:])
		if *id == "" {
			return fmt.Errorf("void-trade: -id es obligatorio")
		}
		if err := orch.VoidTrade(ctx, *id, *reason); err != nil {
			return err
		}
		fmt.Printf("trade %s anulado, aprendizaje recalculado\n", *id)
		return nil

	case "recalculate":
		if err := orch.Recalculate(ctx); err != nil {
			return err
		}
		fmt.Println("capas de aprendizaje reconstruidas desde los trades resueltos")
		return nil

	case "start-experiment":
		fs := flag.NewFlagSet("start-experiment", flag.ExitOnError)
		id := fs.String("id", "", "run id")
		model := fs.String("model", "", "model used by the run")
		desc := fs.String("desc", "", "description")
		configPairs := fs.String("config", "", "comma-separated k=v overrides to snapshot")
		fs.Parse(args[1:])
		if *id == "" {
			return fmt.Errorf("start-experiment: -id es obligatorio")
		}
		if err := orch.StartExperiment(ctx, *id, *desc, *model, parsePairs(*configPairs)); err != nil {
			return err
		}
		fmt.Printf("experiment run %s iniciado\n", *id)
		return nil

	case "end-experiment":
		fs := flag.NewFlagSet("end-experiment", flag.ExitOnError)
		id := fs.String("id", "", "run id")
		fs.Parse(args[1:])
		if *id == "" {
			return fmt.Errorf("end-experiment: -id es obligatorio")
		}
		if err := orch.EndExperiment(ctx, *id); err != nil {
			return err
		}
		fmt.Printf("experiment run %s cerrado\n", *id)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("comando desconocido: %s", args[0])
	}
}

// parsePairs convierte "k=v,k2=v2" en el snapshot de config del run.
func parsePairs(s string) map[string]string {
	if s == "" {
		return nil
	}
	pairs := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return pairs
}

func printStatus(ctx context.Context, store ports.Storage) error {
	portfolio, err := store.LoadPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("cargando portfolio: %w", err)
	}
	spend, err := store.TodayAPISpend(ctx)
	if err != nil {
		return fmt.Errorf("cargando gasto API: %w", err)
	}

	fmt.Printf("equity $%.2f | cash $%.2f | pnl $%+.2f | drawdown %.1f%% | api hoy $%.2f\n",
		portfolio.TotalEquity, portfolio.CashBalance, portfolio.TotalPnL,
		portfolio.MaxDrawdown*100, spend)

	if exp, err := store.CurrentExperiment(ctx); err == nil && exp != nil {
		fmt.Printf("experimento activo: %s (modelo %s, desde %s)\n",
			exp.ID, exp.ModelUsed, exp.StartedAt.Format(time.RFC3339))
	}

	if len(portfolio.OpenPositions) > 0 {
		fmt.Println("\nPosiciones abiertas:")
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Market", "Side", "Entry", "Size", "Value", "Cluster")
		for _, pos := range portfolio.OpenPositions {
			table.Append(
				pos.MarketID,
				pos.Side,
				fmt.Sprintf("%.4f", pos.EntryPrice),
				fmt.Sprintf("$%.2f", pos.SizeUSD),
				fmt.Sprintf("$%.2f", pos.CurrentValue),
				pos.ClusterID,
			)
		}
		table.Render()
	}

	perfs, err := store.LoadMarketTypes(ctx)
	if err != nil {
		return fmt.Errorf("cargando market types: %w", err)
	}
	if len(perfs) > 0 {
		fmt.Println("\nRendimiento por categoría:")
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Category", "Trades", "PnL", "Brier", "Observed", "CF PnL", "Status")
		for _, perf := range perfs {
			status := "active"
			if perf.ShouldDisable() {
				status = "DISABLED"
			}
			table.Append(
				perf.MarketType,
				fmt.Sprintf("%d", perf.TotalTrades),
				fmt.Sprintf("$%+.2f", perf.TotalPnL),
				fmt.Sprintf("%.3f", perf.AvgBrier()),
				fmt.Sprintf("%d", perf.TotalObserved),
				fmt.Sprintf("$%+.2f", perf.CounterfactualPnL),
				status,
			)
		}
		table.Render()
	}

	buckets, err := store.LoadCalibration(ctx)
	if err != nil {
		return fmt.Errorf("cargando calibración: %w", err)
	}
	if len(buckets) > 0 {
		fmt.Println("\nCalibración:")
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Range", "Accuracy", "Samples")
		for _, b := range buckets {
			table.Append(
				fmt.Sprintf("%.2f-%.2f", b.Lo, b.Hi),
				fmt.Sprintf("%.3f", b.ExpectedAccuracy()),
				fmt.Sprintf("%.0f", b.SampleCount()),
			)
		}
		table.Render()
	}

	return nil
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
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
