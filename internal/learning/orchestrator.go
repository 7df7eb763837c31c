package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// Orchestrator coordina las tres capas de aprendizaje con la persistencia:
// actualización al resolver trades, protocolo de model swap, anulación de
// trades y recálculo desde cero.
type Orchestrator struct {
	Calibration *CalibrationManager
	MarketTypes *MarketTypeManager
	Signals     *SignalTrackerManager

	store ports.Storage
}

// NewOrchestrator crea el coordinador sobre los managers dados.
func NewOrchestrator(cal *CalibrationManager, mt *MarketTypeManager, st *SignalTrackerManager, store ports.Storage) *Orchestrator {
	return &Orchestrator{
		Calibration: cal,
		MarketTypes: mt,
		Signals:     st,
		store:       store,
	}
}

// LoadAll carga el estado de las tres capas desde la persistencia.
func (o *Orchestrator) LoadAll(ctx context.Context) error {
	if err := o.Calibration.Load(ctx, o.store); err != nil {
		return fmt.Errorf("learning.LoadAll: calibración: %w", err)
	}
	if err := o.MarketTypes.Load(ctx, o.store); err != nil {
		return fmt.Errorf("learning.LoadAll: market types: %w", err)
	}
	if err := o.Signals.Load(ctx, o.store); err != nil {
		return fmt.Errorf("learning.LoadAll: signal trackers: %w", err)
	}
	return nil
}

// saveAll persiste las tres capas.
func (o *Orchestrator) saveAll(ctx context.Context) error {
	if err := o.Calibration.Save(ctx, o.store); err != nil {
		return fmt.Errorf("learning.saveAll: calibración: %w", err)
	}
	if err := o.MarketTypes.Save(ctx, o.store); err != nil {
		return fmt.Errorf("learning.saveAll: market types: %w", err)
	}
	if err := o.Signals.Save(ctx, o.store); err != nil {
		return fmt.Errorf("learning.saveAll: signal trackers: %w", err)
	}
	return nil
}

// OnTradeResolved actualiza las tres capas con un trade recién resuelto y
// persiste el estado. El counterfactualPnL solo aplica a skips; para trades
// ejecutados se pasa 0. Trades anulados o sin resolver se ignoran.
func (o *Orchestrator) OnTradeResolved(ctx context.Context, r domain.TradeRecord, counterfactualPnL float64) error {
	if !r.IsResolved() || r.Voided {
		return nil
	}

	// Capa 1 usa valores CRUDOS, capa 2 el Brier ajustado, capa 3 la
	// probabilidad ajustada.
	o.Calibration.UpdateFromTrade(r, time.Now().UTC())
	o.MarketTypes.UpdateFromTrade(r, counterfactualPnL)
	o.Signals.UpdateFromTrade(r)

	if err := o.saveAll(ctx); err != nil {
		return fmt.Errorf("learning.OnTradeResolved: %w", err)
	}

	slog.Info("learning updated from resolved trade",
		"trade_id", r.ID,
		"market_type", r.MarketType,
		"action", r.Action,
	)
	return nil
}

// HandleModelSwap ejecuta el protocolo de cambio de modelo:
//  1. guarda el ModelSwapEvent
//  2. arranca un experiment run nuevo
//  3. resetea la calibración a priors (conocimiento específico del modelo)
//  4. amortigua el market-type (conocimiento mixto)
//  5. preserva los signal trackers (propiedad del mundo, no del modelo)
//
// Devuelve el ID del run arrancado.
func (o *Orchestrator) HandleModelSwap(ctx context.Context, oldModel, newModel, reason string) (string, error) {
	now := time.Now().UTC()
	runID := fmt.Sprintf("exp_%s_%s", newModel, now.Format("20060102_150405"))

	event := domain.ModelSwapEvent{
		Timestamp:     now,
		OldModel:      oldModel,
		NewModel:      newModel,
		Reason:        reason,
		ExperimentRun: runID,
	}
	if err := o.store.SaveModelSwap(ctx, event); err != nil {
		return "", fmt.Errorf("learning.HandleModelSwap: guardando evento: %w", err)
	}

	run := domain.ExperimentRun{
		ID:                runID,
		StartedAt:         now,
		ConfigSnapshot:    map[string]string{"old_model": oldModel, "new_model": newModel},
		Description:       fmt.Sprintf("Model swap: %s -> %s. Reason: %s", oldModel, newModel, reason),
		ModelUsed:         newModel,
		IncludeInLearning: true,
	}
	if err := o.store.SaveExperiment(ctx, run); err != nil {
		return "", fmt.Errorf("learning.HandleModelSwap: arrancando run: %w", err)
	}

	o.Calibration.ResetToPriors()
	o.MarketTypes.DampenOnSwap()
	// Signal trackers: sin acción, se preservan tal cual.

	if err := o.saveAll(ctx); err != nil {
		return "", fmt.Errorf("learning.HandleModelSwap: %w", err)
	}

	slog.Info("model swap completed",
		"old_model", oldModel,
		"new_model", newModel,
		"reason", reason,
		"experiment_run", runID,
	)
	return runID, nil
}

// VoidTrade marca un trade como anulado (mercado cancelado, datos malos...)
// y recalcula las tres capas desde cero para excluirlo.
func (o *Orchestrator) VoidTrade(ctx context.Context, tradeID, reason string) error {
	record, err := o.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("learning.VoidTrade: cargando trade %s: %w", tradeID, err)
	}
	if record == nil {
		return fmt.Errorf("learning.VoidTrade: trade %s no encontrado", tradeID)
	}

	record.Voided = true
	record.VoidReason = reason
	if err := o.store.UpdateTrade(ctx, *record); err != nil {
		return fmt.Errorf("learning.VoidTrade: actualizando trade %s: %w", tradeID, err)
	}

	if err := o.Recalculate(ctx); err != nil {
		return fmt.Errorf("learning.VoidTrade: %w", err)
	}

	slog.Info("trade voided", "trade_id", tradeID, "reason", reason)
	return nil
}

// Recalculate reconstruye las tres capas desde cero reprocesando todos los
// trades resueltos no anulados en orden de timestamp, y persiste el
// resultado. Es idempotente: dos ejecuciones seguidas dan el mismo estado.
func (o *Orchestrator) Recalculate(ctx context.Context) error {
	o.Calibration.ResetToPriors()
	o.MarketTypes.Reset()
	o.Signals.Reset()

	trades, err := o.store.ResolvedTrades(ctx, false)
	if err != nil {
		return fmt.Errorf("learning.Recalculate: cargando trades: %w", err)
	}

	now := time.Now().UTC()
	for _, trade := range trades {
		if !trade.IsResolved() {
			continue
		}
		o.Calibration.UpdateFromTrade(trade, now)
		o.MarketTypes.UpdateFromTrade(trade, 0)
		o.Signals.UpdateFromTrade(trade)
	}

	if err := o.saveAll(ctx); err != nil {
		return fmt.Errorf("learning.Recalculate: %w", err)
	}

	slog.Info("learning recalculated from scratch", "trades_processed", len(trades))
	return nil
}

// EnsureActiveRun garantiza que exista un run activo al arrancar: cada
// TradeRecord referencia el run vigente, así que sin run no hay agregación
// posible. Si ya hay uno devuelve su ID; si no, arranca uno nuevo.
func (o *Orchestrator) EnsureActiveRun(ctx context.Context, model string, config map[string]string) (string, error) {
	exp, err := o.store.CurrentExperiment(ctx)
	if err != nil {
		return "", fmt.Errorf("learning.EnsureActiveRun: %w", err)
	}
	if exp != nil {
		slog.Info("experiment run activo", "run_id", exp.ID)
		return exp.ID, nil
	}

	runID := fmt.Sprintf("run_%s", time.Now().UTC().Format("20060102_150405"))
	if err := o.StartExperiment(ctx, runID, "Auto-created on startup", model, config); err != nil {
		return "", fmt.Errorf("learning.EnsureActiveRun: %w", err)
	}
	slog.Info("experiment run creado", "run_id", runID)
	return runID, nil
}

// StartExperiment arranca un run manual (sin cambio de modelo).
func (o *Orchestrator) StartExperiment(ctx context.Context, runID, description, model string, config map[string]string) error {
	run := domain.ExperimentRun{
		ID:                runID,
		StartedAt:         time.Now().UTC(),
		ConfigSnapshot:    config,
		Description:       description,
		ModelUsed:         model,
		IncludeInLearning: true,
	}
	if err := o.store.SaveExperiment(ctx, run); err != nil {
		return fmt.Errorf("learning.StartExperiment: %w", err)
	}
	return nil
}

// EndExperiment cierra un run calculando sus agregados finales a partir de
// los trades resueltos que referencian el run.
func (o *Orchestrator) EndExperiment(ctx context.Context, runID string) error {
	trades, err := o.store.ResolvedTrades(ctx, false)
	if err != nil {
		return fmt.Errorf("learning.EndExperiment: cargando trades: %w", err)
	}

	stats := experimentStats(runID, trades)
	if err := o.store.EndExperiment(ctx, runID, time.Now().UTC(), stats); err != nil {
		return fmt.Errorf("learning.EndExperiment: %w", err)
	}
	return nil
}

// experimentStats agrega los trades ejecutados de un run: total, PnL, Brier
// medio y un Sharpe simple sobre los PnL por trade.
func experimentStats(runID string, trades []domain.TradeRecord) domain.ExperimentRun {
	var (
		stats  domain.ExperimentRun
		pnls   []float64
		briers float64
	)
	for _, t := range trades {
		if t.ExperimentRun != runID || !t.Executed() {
			continue
		}
		stats.TotalTrades++
		if t.PnL != nil {
			stats.TotalPnL += *t.PnL
			pnls = append(pnls, *t.PnL)
		}
		if t.BrierAdjusted != nil {
			briers += *t.BrierAdjusted
		}
	}
	if stats.TotalTrades > 0 {
		stats.AvgBrier = briers / float64(stats.TotalTrades)
	}
	stats.SharpeRatio = sharpe(pnls)
	return stats
}

func sharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var mean float64
	for _, p := range pnls {
		mean += p
	}
	mean /= float64(len(pnls))
	var variance float64
	for _, p := range pnls {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(pnls) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
