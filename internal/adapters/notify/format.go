package notify

import (
	"fmt"
	"strings"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// FormatTradeAlert formatea la alerta de una decisión de trading.
func FormatTradeAlert(r domain.TradeRecord) string {
	header := "BUY"
	if r.Action == domain.ActionSkip {
		header = "SKIP"
	}
	question := r.MarketQuestion
	if len(question) > 80 {
		question = question[:80]
	}
	return fmt.Sprintf(
		"<b>%s: %s</b>\n"+
			"Side: %s | Edge: %.3f\n"+
			"Size: $%.2f | Price: %.4f\n"+
			"Prob: %.3f (raw: %.3f)\n"+
			"Conf: %.3f | Score: %.4f\n"+
			"Tier: %d | Type: %s",
		header, question,
		r.Action, r.CalculatedEdge,
		r.PositionSizeUSD, r.PriceAtDecision,
		r.AdjustedProbability, r.RawProbability,
		r.AdjustedConfidence, r.TradeScore,
		r.Tier, r.MarketType,
	)
}

// FormatDailySummary formatea el resumen diario de actividad.
func FormatDailySummary(trades []domain.TradeRecord, portfolio domain.Portfolio) string {
	var executed, skipped, resolved int
	var dayPnL float64
	for _, t := range trades {
		if t.Action == domain.ActionSkip {
			skipped++
		} else {
			executed++
		}
		if t.IsResolved() {
			resolved++
			if t.PnL != nil {
				dayPnL += *t.PnL
			}
		}
	}
	return fmt.Sprintf(
		"<b>Daily Summary</b>\n"+
			"Executed: %d | Skipped: %d | Resolved: %d\n"+
			"Day PnL: $%+.2f\n"+
			"Portfolio: $%.2f (cash: $%.2f)\n"+
			"Drawdown: %.1f%% | Open: %d",
		executed, skipped, resolved,
		dayPnL,
		portfolio.TotalEquity, portfolio.CashBalance,
		portfolio.MaxDrawdown*100, len(portfolio.OpenPositions),
	)
}

// FormatMonkModeAlert formatea un bloqueo del gate de riesgo.
func FormatMonkModeAlert(reason, question string) string {
	if len(question) > 80 {
		question = question[:80]
	}
	return fmt.Sprintf("<b>MONK MODE</b>\nBlocked: %s\nMarket: %s", reason, question)
}

// FormatObserveOnlyAlert avisa de que el día entró en modo observación.
func FormatObserveOnlyAlert(executed, cap int) string {
	return fmt.Sprintf(
		"<b>OBSERVE ONLY</b>\nTier 1 cap reached (%d/%d). Decisions will be recorded without executing until tomorrow.",
		executed, cap,
	)
}

// FormatTier2Alert avisa de la activación o desactivación del escaneo rápido.
func FormatTier2Alert(active bool, reason string) string {
	state := "activated"
	if !active {
		state = "deactivated"
	}
	return fmt.Sprintf("<b>TIER 2 %s</b>\n%s", strings.ToUpper(state), reason)
}

// FormatStaleScanAlert avisa de que el scheduler lleva demasiado sin escanear.
func FormatStaleScanAlert(minutes float64) string {
	return fmt.Sprintf("<b>STALE SCAN</b>\nLast tier 1 scan was %.0f minutes ago.", minutes)
}

// FormatErrorAlert formatea un error del pipeline.
func FormatErrorAlert(err string) string {
	if len(err) > 500 {
		err = err[:500]
	}
	return "<b>ERROR</b>\n" + err
}
