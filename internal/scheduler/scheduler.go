// Package scheduler orquesta los ciclos periódicos del bot: escaneo
// tier 1, escaneo tier 2 bajo demanda, resolución automática, revisión
// de adverse moves, resumen diario y watchdog de escaneos colgados.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/predictbot/config"
	"github.com/alejandrodnm/predictbot/internal/adapters/notify"
	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/engine"
	"github.com/alejandrodnm/predictbot/internal/learning"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

const (
	resolveInterval    = 5 * time.Minute
	adverseInterval    = 10 * time.Minute
	staleCheckInterval = 15 * time.Minute
	// staleThreshold es cuánto puede pasar sin completar un escaneo
	// tier 1 antes de alertar.
	staleThreshold = 30 * time.Minute
	// tier2Silence desactiva el tier 2 tras este tiempo sin señales
	// crypto frescas.
	tier2Silence = 30 * time.Minute

	defaultExperimentRun = "default"
)

// cryptoTerms activan el escaneo rápido cuando aparecen en señales.
var cryptoTerms = []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol"}

// Scheduler coordina los jobs periódicos. Cada job corre como máximo
// en una instancia: los tickers disparan sobre goroutines dedicadas y
// un ciclo largo simplemente absorbe los ticks que se pierda.
type Scheduler struct {
	cfg       *config.Config
	store     ports.Storage
	markets   ports.MarketProvider
	signals   ports.SignalProvider
	estimator ports.Estimator
	notifier  ports.Notifier
	learning  *learning.Orchestrator
	adjuster  *learning.Adjuster
	executor  *engine.Executor
	resolver  *engine.Resolver

	now func() time.Time

	mu                sync.Mutex
	lastScanCompleted time.Time
	tier2Active       bool
	tier2LastSignal   time.Time
	observeAlertDate  string
}

// New crea el Scheduler con todas las dependencias inyectadas.
func New(
	cfg *config.Config,
	store ports.Storage,
	markets ports.MarketProvider,
	signals ports.SignalProvider,
	estimator ports.Estimator,
	notifier ports.Notifier,
	orch *learning.Orchestrator,
	executor *engine.Executor,
	resolver *engine.Resolver,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		markets:   markets,
		signals:   signals,
		estimator: estimator,
		notifier:  notifier,
		learning:  orch,
		adjuster:  learning.NewAdjuster(orch.Calibration, orch.MarketTypes, orch.Signals),
		executor:  executor,
		resolver:  resolver,
		now:       time.Now,
	}
}

// Run arranca todos los jobs y bloquea hasta que el contexto se cancele.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler arrancando",
		"tier1_interval", s.cfg.Tier1Interval(),
		"tier2_interval", s.cfg.Tier2Interval(),
		"environment", s.cfg.Environment,
	)

	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"tier1_scan", s.cfg.Tier1Interval(), s.runTier1},
		{"tier2_scan", s.cfg.Tier2Interval(), s.runTier2},
		{"auto_resolve", resolveInterval, s.runResolve},
		{"adverse_moves", adverseInterval, s.runAdverse},
		{"stale_check", staleCheckInterval, s.runStaleCheck},
	}
	for _, job := range jobs {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					run(ctx)
				}
			}
		}(job.name, job.interval, job.run)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runDailySummaryLoop(ctx)
	}()

	// Primer escaneo inmediato para no esperar un intervalo completo.
	s.runTier1(ctx)

	<-ctx.Done()
	wg.Wait()
	slog.Info("scheduler parado")
	return nil
}

func (s *Scheduler) runTier1(ctx context.Context) {
	if err := s.Scan(ctx, 1); err != nil {
		slog.Error("escaneo tier 1 falló", "err", err)
		s.alert(ctx, notify.FormatErrorAlert(fmt.Sprintf("Tier 1 scan failed: %v", err)))
	}
}

func (s *Scheduler) runTier2(ctx context.Context) {
	s.mu.Lock()
	active := s.tier2Active
	lastSignal := s.tier2LastSignal
	s.mu.Unlock()
	if !active {
		return
	}

	if err := s.Scan(ctx, 2); err != nil {
		slog.Error("escaneo tier 2 falló", "err", err)
		s.alert(ctx, notify.FormatErrorAlert(fmt.Sprintf("Tier 2 scan failed: %v", err)))
	}

	if !lastSignal.IsZero() && s.now().Sub(lastSignal) > tier2Silence {
		s.deactivateTier2(ctx)
	}
}

func (s *Scheduler) runResolve(ctx context.Context) {
	if n, err := s.resolver.AutoResolve(ctx); err != nil {
		slog.Error("auto-resolve falló", "err", err)
		s.alert(ctx, notify.FormatErrorAlert(fmt.Sprintf("Auto-resolve failed: %v", err)))
	} else if n > 0 {
		slog.Info("trades resueltos", "count", n)
	}
	if err := s.resolver.ResolveSkips(ctx); err != nil {
		slog.Error("resolución de skips falló", "err", err)
	}
}

func (s *Scheduler) runAdverse(ctx context.Context) {
	flagged, err := s.resolver.UpdateAdverseMoves(ctx)
	if err != nil {
		slog.Error("revisión de adverse moves falló", "err", err)
		s.alert(ctx, notify.FormatErrorAlert(fmt.Sprintf("Adverse move update failed: %v", err)))
		return
	}
	if len(flagged) > 0 {
		slog.Warn("posiciones con movimiento adverso", "count", len(flagged))
	}
}

func (s *Scheduler) runStaleCheck(ctx context.Context) {
	s.mu.Lock()
	last := s.lastScanCompleted
	s.mu.Unlock()
	if last.IsZero() {
		return // todavía inicializando
	}
	since := s.now().Sub(last)
	if since > staleThreshold {
		s.alert(ctx, notify.FormatStaleScanAlert(since.Minutes()))
	}
}

// runDailySummaryLoop duerme hasta la próxima hora de resumen y lo envía.
func (s *Scheduler) runDailySummaryLoop(ctx context.Context) {
	for {
		next := s.nextSummaryTime(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sendDailySummary(ctx)
		}
	}
}

func (s *Scheduler) nextSummaryTime(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.Alerts.DailySummaryHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func (s *Scheduler) sendDailySummary(ctx context.Context) {
	trades, err := s.store.TodayTrades(ctx)
	if err != nil {
		slog.Error("resumen diario: trades", "err", err)
		return
	}
	portfolio, err := s.store.LoadPortfolio(ctx)
	if err != nil {
		slog.Error("resumen diario: portfolio", "err", err)
		return
	}
	s.alert(ctx, notify.FormatDailySummary(trades, portfolio))
	slog.Info("resumen diario enviado", "trades", len(trades))
}

// Scan ejecuta un ciclo de escaneo completo del tier dado: mercados,
// señales, estimación, ajuste, ranking, gate de riesgo y ejecución.
func (s *Scheduler) Scan(ctx context.Context, tier int) error {
	slog.Info("escaneo iniciado", "tier", tier)

	todayTrades, err := s.store.TodayTrades(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: today trades: %w", err)
	}
	weekTrades, err := s.store.WeekTrades(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: week trades: %w", err)
	}
	apiSpend, err := s.store.TodayAPISpend(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: api spend: %w", err)
	}
	portfolio, err := s.store.LoadPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: portfolio: %w", err)
	}

	scanMode := engine.ModeActive
	if tier == 1 {
		scanMode = engine.ScanMode(s.cfg, todayTrades)
		if scanMode == engine.ModeObserveOnly {
			s.maybeAlertObserveOnly(ctx, todayTrades)
		}
	}

	experimentRun := defaultExperimentRun
	exp, err := s.store.CurrentExperiment(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: experimento activo: %w", err)
	}
	if exp != nil {
		experimentRun = exp.ID
	}

	markets, err := s.markets.ActiveMarkets(ctx, tier)
	if err != nil {
		return fmt.Errorf("scheduler.Scan: mercados tier %d: %w", tier, err)
	}
	if len(markets) == 0 {
		slog.Info("sin mercados que escanear", "tier", tier)
		s.markScanCompleted(tier)
		return nil
	}

	rssSignals, err := s.signals.BreakingNews(ctx)
	if err != nil {
		slog.Warn("señales RSS no disponibles", "err", err)
	}

	if tier == 1 && s.shouldActivateTier2(rssSignals) {
		s.activateTier2(ctx)
	}

	var candidates []domain.TradeCandidate
	for _, market := range markets {
		candidate, err := s.processMarket(ctx, market, rssSignals, scanMode, tier, experimentRun, portfolio.TotalEquity)
		if err != nil {
			slog.Error("procesado de mercado falló", "market_id", market.ID, "err", err)
			continue
		}
		if candidate != nil {
			candidates = append(candidates, *candidate)
		}
	}

	if len(candidates) > 0 {
		s.rankAndExecute(ctx, tier, candidates, &portfolio, todayTrades, weekTrades, apiSpend, experimentRun)
	}

	s.markScanCompleted(tier)
	slog.Info("escaneo completo", "tier", tier, "markets", len(markets), "candidates", len(candidates))
	return nil
}

// processMarket evalúa un mercado y devuelve un candidato a trade, o
// nil si la decisión fue SKIP (el skip queda registrado en storage).
func (s *Scheduler) processMarket(
	ctx context.Context,
	market domain.Market,
	rssSignals []domain.Signal,
	scanMode string,
	tier int,
	experimentRun string,
	equity float64,
) (*domain.TradeCandidate, error) {
	if s.learning.MarketTypes.ShouldDisable(market.MarketType) {
		slog.Info("categoría deshabilitada por aprendizaje", "market_type", market.MarketType)
		return nil, s.saveSkip(ctx, market, tier, experimentRun, "market_type_disabled", nil)
	}

	keywords := domain.SearchKeywords(market.Question, market.MarketType)
	relevant := relevantSignals(rssSignals, keywords)

	if tier == 2 && len(relevant) > 0 {
		s.mu.Lock()
		s.tier2LastSignal = s.now()
		s.mu.Unlock()
	}

	if scanMode == engine.ModeObserveOnly {
		return nil, s.saveSkip(ctx, market, tier, experimentRun, "observe_only", nil)
	}

	book, err := s.markets.Orderbook(ctx, market.ClobTokenYes, market.ID)
	if err != nil {
		slog.Warn("orderbook no disponible, profundidad cero", "market_id", market.ID, "err", err)
	}

	prompt := engine.BuildPrompt(market, relevant, book, s.now())
	est, err := s.estimator.Estimate(ctx, market.ID, prompt)
	if err != nil {
		slog.Warn("estimación falló", "market_id", market.ID, "err", err)
		return nil, s.saveSkip(ctx, market, tier, experimentRun, "estimator_failed", nil)
	}

	adj := s.adjuster.AdjustDetailed(learning.AdjustInput{
		RawProbability: est.Probability,
		RawConfidence:  est.Confidence,
		MarketType:     market.MarketType,
		Tags:           est.Tags,
		Now:            s.now(),
	})
	adjProb, adjConf := adj.Probability, adj.Confidence

	tierCfg := s.cfg.TierFor(tier)
	edge := domain.CalculateEdge(adjProb, market.YesPrice, tierCfg.FeeRate) - adj.ExtraEdge
	side := domain.DetermineSide(adjProb, market.YesPrice)

	if side == domain.ActionSkip || edge < tierCfg.MinEdge {
		reason := "no_direction"
		if side != domain.ActionSkip {
			reason = fmt.Sprintf("low_edge_%.4f", edge)
		}
		return nil, s.saveSkip(ctx, market, tier, experimentRun, reason, est)
	}

	size := domain.KellySize(adjProb, market.YesPrice, side, equity, s.cfg.Monk.KellyFraction, s.cfg.Monk.MaxPositionPct)
	if size < s.cfg.Monk.MinPositionUSD {
		reason := fmt.Sprintf("position_too_small_%.2f", size)
		return nil, s.saveSkip(ctx, market, tier, experimentRun, reason, est)
	}

	headlineOnly := len(relevant) > 0
	for _, sig := range relevant {
		if !sig.HeadlineOnly {
			headlineOnly = false
			break
		}
	}

	return &domain.TradeCandidate{
		Market:              market,
		AdjustedProbability: adjProb,
		AdjustedConfidence:  adjConf,
		CalculatedEdge:      edge,
		PositionSize:        size,
		Side:                side,
		ResolutionHours:     market.HoursToResolution(s.now()),
		FeeRate:             tierCfg.FeeRate,
		MarketPrice:         market.YesPrice,
		KellyFraction:       s.cfg.Monk.KellyFraction,
		OrderbookDepth:      book.Depth(),
		Tier:                tier,
		RawProbability:      est.Probability,
		RawConfidence:       est.Confidence,
		Reasoning:           est.Reasoning,
		SignalTags:          est.Tags,
		HeadlineOnly:        headlineOnly,
		CalibrationAdjustment:  adj.CalibrationDelta,
		SignalWeightAdjustment: adj.SignalWeightDelta,
		MarketTypeAdjustment:   adj.ExtraEdge,
	}, nil
}

// rankAndExecute ordena los candidatos, aplica el gate de riesgo a cada
// ejecución y registra como SKIP todo lo que no se ejecute.
func (s *Scheduler) rankAndExecute(
	ctx context.Context,
	tier int,
	candidates []domain.TradeCandidate,
	portfolio *domain.Portfolio,
	todayTrades, weekTrades []domain.TradeRecord,
	apiSpend float64,
	experimentRun string,
) {
	tierCap := s.cfg.TierFor(tier).DailyTradeCap
	executed := 0
	for _, t := range todayTrades {
		if t.Tier == tier && t.Executed() {
			executed++
		}
	}
	remaining := tierCap - executed
	if remaining < 0 {
		remaining = 0
	}

	toExecute, toSkip := engine.SelectBestTrades(
		candidates, remaining, portfolio.OpenPositions, portfolio.TotalEquity, s.cfg.Monk.MaxClusterExposurePct,
	)

	alerted := make(map[string]bool)
	for _, candidate := range toExecute {
		allowed, reason := engine.CheckMonkMode(s.cfg, candidate, *portfolio, todayTrades, weekTrades, apiSpend)
		if !allowed {
			candidate.SkipReason = reason
			toSkip = append(toSkip, candidate)
			if !alerted[reason] {
				alerted[reason] = true
				s.alert(ctx, notify.FormatMonkModeAlert(reason, candidate.Market.Question))
			}
			continue
		}

		record, err := s.executor.ExecuteTrade(ctx, candidate, portfolio, experimentRun, s.cfg.Model)
		if err != nil {
			slog.Error("ejecución falló", "market_id", candidate.Market.ID, "err", err)
			continue
		}
		if record == nil {
			// Orden maker sin fill: no cuenta contra el cap.
			continue
		}
		todayTrades = append(todayTrades, *record)
		s.alert(ctx, notify.FormatTradeAlert(*record))
	}

	for _, skip := range toSkip {
		if err := s.saveCandidateSkip(ctx, skip, experimentRun); err != nil {
			slog.Error("registro de skip falló", "market_id", skip.Market.ID, "err", err)
		}
	}
}

// shouldActivateTier2 decide si el escaneo rápido debe activarse:
// dos o más señales crypto, con al menos una de fuente de autoridad
// (S1/S2 o cuenta con 100k seguidores).
func (s *Scheduler) shouldActivateTier2(signals []domain.Signal) bool {
	var crypto []domain.Signal
	for _, sig := range signals {
		content := strings.ToLower(sig.Content)
		for _, term := range cryptoTerms {
			if strings.Contains(content, term) {
				crypto = append(crypto, sig)
				break
			}
		}
	}
	if len(crypto) < 2 {
		return false
	}
	for _, sig := range crypto {
		if sig.SourceTier == "S1" || sig.SourceTier == "S2" || sig.Followers >= 100_000 {
			return true
		}
	}
	return false
}

func (s *Scheduler) activateTier2(ctx context.Context) {
	s.mu.Lock()
	if s.tier2Active {
		s.mu.Unlock()
		return
	}
	s.tier2Active = true
	s.tier2LastSignal = s.now()
	s.mu.Unlock()

	slog.Info("tier 2 activado")
	s.alert(ctx, notify.FormatTier2Alert(true, "Crypto signals with authority source detected."))
}

func (s *Scheduler) deactivateTier2(ctx context.Context) {
	s.mu.Lock()
	if !s.tier2Active {
		s.mu.Unlock()
		return
	}
	s.tier2Active = false
	s.mu.Unlock()

	slog.Info("tier 2 desactivado")
	s.alert(ctx, notify.FormatTier2Alert(false, "No fresh crypto signals for 30 minutes."))
}

// maybeAlertObserveOnly envía la alerta de modo observación una vez al día.
func (s *Scheduler) maybeAlertObserveOnly(ctx context.Context, todayTrades []domain.TradeRecord) {
	today := s.now().UTC().Format("2006-01-02")
	s.mu.Lock()
	already := s.observeAlertDate == today
	s.observeAlertDate = today
	s.mu.Unlock()
	if already {
		return
	}

	executed := 0
	for _, t := range todayTrades {
		if t.Tier == 1 && t.Executed() {
			executed++
		}
	}
	s.alert(ctx, notify.FormatObserveOnlyAlert(executed, s.cfg.Tier1.DailyTradeCap))
}

func (s *Scheduler) markScanCompleted(tier int) {
	if tier != 1 {
		return
	}
	s.mu.Lock()
	s.lastScanCompleted = s.now()
	s.mu.Unlock()
}

// relevantSignals filtra las señales que mencionan alguna de las cinco
// primeras keywords del mercado.
func relevantSignals(signals []domain.Signal, keywords []string) []domain.Signal {
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	var out []domain.Signal
	for _, sig := range signals {
		content := strings.ToLower(sig.Content)
		for _, kw := range keywords {
			if strings.Contains(content, strings.ToLower(kw)) {
				out = append(out, sig)
				break
			}
		}
	}
	return out
}

// saveSkip registra una decisión SKIP tomada antes del ranking. est
// puede ser nil cuando el skip ocurre antes de estimar.
func (s *Scheduler) saveSkip(
	ctx context.Context,
	market domain.Market,
	tier int,
	experimentRun, reason string,
	est *domain.Estimate,
) error {
	record := domain.TradeRecord{
		ID:               uuid.NewString(),
		ExperimentRun:    experimentRun,
		Timestamp:        s.now().UTC(),
		ModelUsed:        s.cfg.Model,
		MarketID:         market.ID,
		MarketQuestion:   market.Question,
		MarketType:       market.MarketType,
		ResolutionWindow: market.HoursToResolution(s.now()),
		Tier:             tier,
		PriceAtDecision:  market.YesPrice,
		FeeRate:          market.FeeRate,
		Action:           domain.ActionSkip,
		SkipReason:       reason,
	}
	if est != nil {
		record.RawProbability = est.Probability
		record.RawConfidence = est.Confidence
		record.Reasoning = est.Reasoning
		record.SignalTags = est.Tags

		adj := s.adjuster.AdjustDetailed(learning.AdjustInput{
			RawProbability: est.Probability,
			RawConfidence:  est.Confidence,
			MarketType:     market.MarketType,
			Tags:           est.Tags,
			Now:            s.now(),
		})
		record.AdjustedProbability = adj.Probability
		record.AdjustedConfidence = adj.Confidence
		record.CalibrationAdjustment = adj.CalibrationDelta
		record.SignalWeightAdjustment = adj.SignalWeightDelta
		record.MarketTypeAdjustment = adj.ExtraEdge
	}
	if err := s.store.SaveTrade(ctx, record); err != nil {
		return fmt.Errorf("scheduler.saveSkip: %w", err)
	}
	return nil
}

// saveCandidateSkip registra un candidato descartado en el ranking o
// bloqueado por el gate de riesgo.
func (s *Scheduler) saveCandidateSkip(ctx context.Context, c domain.TradeCandidate, experimentRun string) error {
	reason := c.SkipReason
	if reason == "" {
		reason = "ranked_out"
	}
	record := domain.TradeRecord{
		ID:               uuid.NewString(),
		ExperimentRun:    experimentRun,
		Timestamp:        s.now().UTC(),
		ModelUsed:        s.cfg.Model,
		MarketID:         c.Market.ID,
		MarketQuestion:   c.Market.Question,
		MarketType:       c.Market.MarketType,
		ResolutionWindow: c.ResolutionHours,
		Tier:             c.Tier,
		RawProbability:   c.RawProbability,
		RawConfidence:    c.RawConfidence,
		Reasoning:        c.Reasoning,
		SignalTags:       c.SignalTags,
		HeadlineOnly:     c.HeadlineOnly,

		CalibrationAdjustment:  c.CalibrationAdjustment,
		MarketTypeAdjustment:   c.MarketTypeAdjustment,
		SignalWeightAdjustment: c.SignalWeightAdjustment,
		AdjustedProbability:    c.AdjustedProbability,
		AdjustedConfidence:     c.AdjustedConfidence,

		PriceAtDecision: c.MarketPrice,
		OrderbookDepth:  c.OrderbookDepth,
		FeeRate:         c.FeeRate,
		CalculatedEdge:  c.CalculatedEdge,
		TradeScore:      c.Score,

		Action:          domain.ActionSkip,
		SkipReason:      reason,
		PositionSizeUSD: c.PositionSize,
		KellyFraction:   c.KellyFraction,
		ClusterID:       c.ClusterID,
	}
	if err := s.store.SaveTrade(ctx, record); err != nil {
		return fmt.Errorf("scheduler.saveCandidateSkip: %w", err)
	}
	return nil
}

// alert envía una notificación sin propagar errores.
func (s *Scheduler) alert(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, message); err != nil {
		slog.Warn("notificación falló", "err", err)
	}
}
