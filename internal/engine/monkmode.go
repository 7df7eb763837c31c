// Package engine contiene la lógica de decisión y ejecución de trades:
// circuit breakers de riesgo (Monk Mode), ranking con clusters, simulación
// de ejecución y resolución de posiciones.
package engine

import (
	"fmt"
	"sort"

	"github.com/alejandrodnm/predictbot/config"
	"github.com/alejandrodnm/predictbot/internal/domain"
)

// Modos de escaneo devueltos por ScanMode.
const (
	ModeActive      = "active"
	ModeObserveOnly = "observe_only"
)

// adverseMoveThreshold: movimiento adverso no realizado que cuenta como
// pérdida a efectos del cooldown.
const adverseMoveThreshold = 0.10

// CheckMonkMode evalúa los seis circuit breakers en orden de prioridad y
// devuelve (permitido, razón del bloqueo). El orden importa: se reporta la
// primera razón que bloquea, de la más barata a la más cara de comprobar.
func CheckMonkMode(
	cfg *config.Config,
	candidate domain.TradeCandidate,
	portfolio domain.Portfolio,
	todayTrades []domain.TradeRecord,
	weekTrades []domain.TradeRecord,
	apiSpend float64,
) (bool, string) {
	monk := cfg.Monk

	// 1. Cap diario del tier.
	tierCap := cfg.Tier1.DailyTradeCap
	if candidate.Tier == 2 {
		tierCap = cfg.Tier2.DailyTradeCap
	}
	tierExecuted := 0
	for _, t := range todayTrades {
		if t.Tier == candidate.Tier && t.Executed() {
			tierExecuted++
		}
	}
	if tierExecuted >= tierCap {
		return false, fmt.Sprintf("tier%d_daily_cap_reached", candidate.Tier)
	}

	// 2. Límite de pérdida diaria.
	if portfolio.TotalEquity > 0 && sumPnL(todayTrades)/portfolio.TotalEquity < -monk.DailyLossLimitPct {
		return false, "daily_loss_limit"
	}

	// 3. Límite de pérdida semanal.
	if portfolio.TotalEquity > 0 && sumPnL(weekTrades)/portfolio.TotalEquity < -monk.WeeklyLossLimitPct {
		return false, "weekly_loss_limit"
	}

	// 4. Racha adversa: cuenta desde el trade ejecutado más reciente hacia
	// atrás y se corta en el primero no adverso. Un movimiento adverso no
	// realizado >10% cuenta igual que una pérdida realizada.
	if n := consecutiveAdverse(todayTrades, monk.ConsecutiveLossCooldown+2); n >= monk.ConsecutiveLossCooldown {
		return false, fmt.Sprintf("consecutive_adverse_%d", n)
	}

	// 5. Exposición total incluyendo el candidato.
	if portfolio.TotalEquity > 0 &&
		(portfolio.TotalExposure()+candidate.PositionSize)/portfolio.TotalEquity > monk.MaxTotalExposurePct {
		return false, "max_total_exposure"
	}

	// 6. Presupuesto diario de API.
	if apiSpend >= monk.DailyAPIBudgetUSD {
		return false, "api_budget_exceeded"
	}

	return true, ""
}

// ScanMode devuelve observe_only cuando el cap diario del tier 1 ya está
// agotado: el bot sigue escaneando y registrando skips (datos de
// aprendizaje) pero no ejecuta.
func ScanMode(cfg *config.Config, todayTrades []domain.TradeRecord) string {
	executed := 0
	for _, t := range todayTrades {
		if t.Tier == 1 && t.Executed() {
			executed++
		}
	}
	if executed >= cfg.Tier1.DailyTradeCap {
		return ModeObserveOnly
	}
	return ModeActive
}

func sumPnL(trades []domain.TradeRecord) float64 {
	var total float64
	for _, t := range trades {
		if t.PnL != nil {
			total += *t.PnL
		}
	}
	return total
}

// consecutiveAdverse cuenta la racha adversa sobre los últimos maxScan
// trades ejecutados de hoy, del más reciente hacia atrás.
func consecutiveAdverse(todayTrades []domain.TradeRecord, maxScan int) int {
	executed := make([]domain.TradeRecord, 0, len(todayTrades))
	for _, t := range todayTrades {
		if t.Executed() {
			executed = append(executed, t)
		}
	}
	sort.Slice(executed, func(i, j int) bool {
		return executed[i].Timestamp.After(executed[j].Timestamp)
	})
	if len(executed) > maxScan {
		executed = executed[:maxScan]
	}

	count := 0
	for _, t := range executed {
		adverse := (t.PnL != nil && *t.PnL < 0) ||
			(t.UnrealizedAdverseMove != nil && *t.UnrealizedAdverseMove > adverseMoveThreshold)
		if !adverse {
			break
		}
		count++
	}
	return count
}
