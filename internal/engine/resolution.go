package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/learning"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// CalculatePnL devuelve el PnL realizado de un trade dado el resultado del
// mercado (true = YES). Un acierto paga la distancia hasta 1 (YES) o hasta 0
// (NO) menos la comisión; un fallo pierde la posición entera.
func CalculatePnL(r domain.TradeRecord, outcome bool) float64 {
	switch r.Action {
	case domain.ActionBuyYes:
		if outcome {
			return r.PositionSizeUSD*(1.0-r.PriceAtDecision) - r.PositionSizeUSD*r.FeeRate
		}
		return -r.PositionSizeUSD
	case domain.ActionBuyNo:
		if !outcome {
			return r.PositionSizeUSD*r.PriceAtDecision - r.PositionSizeUSD*r.FeeRate
		}
		return -r.PositionSizeUSD
	}
	return 0
}

// CounterfactualPnL devuelve el PnL que un skip habría realizado de haberse
// ejecutado con el lado que implicaba la estimación ajustada. Se alimenta al
// tracker por categoría para medir el coste de oportunidad de los skips.
// 0 si el trade no es skip, no está resuelto o no tiene tamaño registrado.
func CounterfactualPnL(r domain.TradeRecord) float64 {
	if r.Action != domain.ActionSkip || !r.IsResolved() || r.PositionSizeUSD <= 0 {
		return 0
	}
	hypothetical := r
	hypothetical.Action = domain.DetermineSide(r.AdjustedProbability, r.PriceAtDecision)
	return CalculatePnL(hypothetical, *r.ActualOutcome)
}

// Resolver cierra trades abiertos contra el estado real de los mercados y
// propaga cada resolución al sistema de aprendizaje y al portfolio.
type Resolver struct {
	store    ports.Storage
	markets  ports.MarketProvider
	learning *learning.Orchestrator
	now      func() time.Time
}

// NewResolver crea el resolver.
func NewResolver(store ports.Storage, markets ports.MarketProvider, orch *learning.Orchestrator) *Resolver {
	return &Resolver{
		store:    store,
		markets:  markets,
		learning: orch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AutoResolve recorre los trades abiertos y resuelve los que ya tienen
// resultado. Los errores por trade se loguean y el ciclo continúa: un
// mercado inaccesible no debe bloquear la resolución del resto.
//
// Para crypto_15m aplica el fallback de deadline: pasada la ventana de
// resolución sin que el feed marque el mercado como resuelto, el resultado
// se infiere del precio actual (yes > 0.5). Los mercados de 15 minutos
// tardan a veces horas en marcarse resueltos y bloquearían el aprendizaje.
func (rv *Resolver) AutoResolve(ctx context.Context) (int, error) {
	open, err := rv.store.OpenTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine.AutoResolve: cargando trades abiertos: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	portfolio, err := rv.store.LoadPortfolio(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine.AutoResolve: cargando portfolio: %w", err)
	}

	resolved := 0
	for _, trade := range open {
		market, err := rv.markets.Market(ctx, trade.MarketID)
		if err != nil {
			slog.Error("resolution check failed", "market_id", trade.MarketID, "error", err)
			continue
		}
		if market == nil {
			continue
		}

		var outcome bool
		switch {
		case market.Resolved:
			outcome = market.Resolution == "YES"
		case trade.MarketType == domain.TypeCrypto15m:
			deadline := trade.Timestamp.Add(time.Duration(trade.ResolutionWindow * float64(time.Hour)))
			if rv.now().Before(deadline) {
				continue
			}
			outcome = market.YesPrice > 0.5
		default:
			continue
		}

		if err := rv.resolveOne(ctx, trade, outcome, &portfolio); err != nil {
			slog.Error("trade resolution failed", "market_id", trade.MarketID, "error", err)
			continue
		}
		resolved++
	}

	if resolved > 0 {
		slog.Info("resolution cycle complete", "resolved", resolved)
	}
	return resolved, nil
}

// resolveOne cierra un trade: rellena la resolución, actualiza el portfolio
// (cash, equity, peak, drawdown) y propaga al aprendizaje.
func (rv *Resolver) resolveOne(ctx context.Context, trade domain.TradeRecord, outcome bool, portfolio *domain.Portfolio) error {
	pnl := CalculatePnL(trade, outcome)
	trade.Resolve(outcome, pnl, rv.now())

	if err := rv.store.UpdateTrade(ctx, trade); err != nil {
		return fmt.Errorf("actualizando trade %s: %w", trade.ID, err)
	}

	portfolio.TotalPnL += pnl
	portfolio.CashBalance += trade.PositionSizeUSD + pnl
	portfolio.RemovePosition(trade.MarketID)
	var positionsValue float64
	for _, p := range portfolio.OpenPositions {
		positionsValue += p.CurrentValue
	}
	portfolio.TotalEquity = portfolio.CashBalance + positionsValue
	if portfolio.TotalEquity > portfolio.PeakEquity {
		portfolio.PeakEquity = portfolio.TotalEquity
	}
	if portfolio.PeakEquity > 0 {
		drawdown := (portfolio.PeakEquity - portfolio.TotalEquity) / portfolio.PeakEquity
		if drawdown > portfolio.MaxDrawdown {
			portfolio.MaxDrawdown = drawdown
		}
	}
	if err := rv.store.SavePortfolio(ctx, *portfolio); err != nil {
		return fmt.Errorf("guardando portfolio: %w", err)
	}

	if err := rv.learning.OnTradeResolved(ctx, trade, CounterfactualPnL(trade)); err != nil {
		return err
	}

	outcomeStr := "NO"
	if outcome {
		outcomeStr = "YES"
	}
	slog.Info("trade resolved",
		"market_id", trade.MarketID,
		"outcome", outcomeStr,
		"pnl", pnl,
		"brier_raw", *trade.BrierRaw,
		"brier_adjusted", *trade.BrierAdjusted,
	)
	return nil
}

// ResolveSkips cierra los skips pendientes cuyos mercados ya resolvieron.
// No tocan el portfolio: solo alimentan el aprendizaje (incluido el PnL
// contrafactual por categoría).
func (rv *Resolver) ResolveSkips(ctx context.Context) error {
	today, err := rv.store.TodayTrades(ctx)
	if err != nil {
		return fmt.Errorf("engine.ResolveSkips: %w", err)
	}

	for _, trade := range today {
		if trade.Executed() || trade.IsResolved() || trade.Voided {
			continue
		}
		market, err := rv.markets.Market(ctx, trade.MarketID)
		if err != nil || market == nil || !market.Resolved {
			continue
		}
		outcome := market.Resolution == "YES"
		trade.Resolve(outcome, 0, rv.now())
		if err := rv.store.UpdateTrade(ctx, trade); err != nil {
			slog.Error("skip resolution failed", "market_id", trade.MarketID, "error", err)
			continue
		}
		if err := rv.learning.OnTradeResolved(ctx, trade, CounterfactualPnL(trade)); err != nil {
			slog.Error("skip learning update failed", "market_id", trade.MarketID, "error", err)
		}
	}
	return nil
}

// UpdateAdverseMoves revisa las posiciones abiertas y marca en el trade los
// movimientos adversos no realizados >10%, que cuentan para el cooldown de
// Monk Mode. Devuelve los trades marcados en esta pasada.
func (rv *Resolver) UpdateAdverseMoves(ctx context.Context) ([]domain.TradeRecord, error) {
	open, err := rv.store.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.UpdateAdverseMoves: %w", err)
	}

	var flagged []domain.TradeRecord
	for _, trade := range open {
		market, err := rv.markets.Market(ctx, trade.MarketID)
		if err != nil || market == nil {
			continue
		}

		var adverse float64
		switch trade.Action {
		case domain.ActionBuyYes:
			adverse = trade.PriceAtDecision - market.YesPrice
		case domain.ActionBuyNo:
			adverse = market.YesPrice - trade.PriceAtDecision
		default:
			continue
		}
		if adverse <= adverseMoveThreshold {
			continue
		}

		trade.UnrealizedAdverseMove = &adverse
		if err := rv.store.UpdateTrade(ctx, trade); err != nil {
			slog.Error("adverse move update failed", "market_id", trade.MarketID, "error", err)
			continue
		}
		slog.Warn("adverse move detected", "market_id", trade.MarketID, "adverse_move", adverse)
		flagged = append(flagged, trade)
	}
	return flagged, nil
}
