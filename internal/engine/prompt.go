package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// maxPromptSignals limita cuántas señales entran en el prompt: las de
// mayor credibilidad primero.
const maxPromptSignals = 7

// maxSignalContent trunca el contenido de cada señal en el prompt.
const maxSignalContent = 200

// BuildPrompt construye el contexto de análisis que se le envía al
// estimador: pregunta, precios, profundidad del libro y las señales
// más creíbles, seguido de las instrucciones de clasificación y el
// formato JSON esperado.
func BuildPrompt(market domain.Market, signals []domain.Signal, book domain.OrderBook, now time.Time) string {
	top := make([]domain.Signal, len(signals))
	copy(top, signals)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Credibility > top[j].Credibility
	})
	if len(top) > maxPromptSignals {
		top = top[:maxPromptSignals]
	}

	var totalBids, totalAsks float64
	for _, b := range book.Bids {
		totalBids += b
	}
	for _, a := range book.Asks {
		totalAsks += a
	}
	depth := totalBids + totalAsks
	skew := 0.0
	if depth > 0 {
		skew = (totalBids - totalAsks) / depth
	}

	var sb strings.Builder
	sb.WriteString("MARKET ANALYSIS REQUEST\n\n")
	fmt.Fprintf(&sb, "Market Question: %s\n", market.Question)
	fmt.Fprintf(&sb, "Current YES price: %.4f\n", market.YesPrice)
	fmt.Fprintf(&sb, "Current NO price: %.4f\n", market.NoPrice)
	fmt.Fprintf(&sb, "Resolution: %.1f hours\n", market.HoursToResolution(now))
	fmt.Fprintf(&sb, "Volume (24h): $%.0f\n", market.Volume24h)
	fmt.Fprintf(&sb, "Liquidity: $%.0f\n", market.Liquidity)
	fmt.Fprintf(&sb, "Orderbook depth: $%.0f (skew: %+.2f)\n\n", depth, skew)

	sb.WriteString("SIGNALS:\n")
	if len(top) == 0 {
		sb.WriteString("  No signals available.\n")
	}
	for i, s := range top {
		content := s.Content
		if len(content) > maxSignalContent {
			content = content[:maxSignalContent]
		}
		headlineTag := ""
		if s.HeadlineOnly {
			headlineTag = " [HEADLINE-ONLY]"
		}
		fmt.Fprintf(&sb, "  %d. [%s|%s] @%s (cred=%.2f): %s%s\n",
			i+1, s.SourceTier, s.Source, s.Author, s.Credibility, content, headlineTag)
	}

	sb.WriteString(`
INSTRUCTIONS:
1. Analyze the signals and market context
2. Classify each signal's information type:
   - I1: Verified fact (official announcement, confirmed event)
   - I2: Authoritative analysis (expert opinion, institutional report)
   - I3: Statistical/data-driven (polls, economic indicators)
   - I4: Market intelligence (order flow, whale movements)
   - I5: Rumor/speculation (unconfirmed reports, social media buzz)
3. Estimate the probability of YES outcome
4. Rate your confidence in the estimate

Respond with ONLY this JSON (no markdown, no extra text):
{"estimated_probability": 0.XX, "confidence": 0.XX, "reasoning": "...", "signal_info_types": [{"source_tier": "SX", "info_type": "IX", "content_summary": "..."}]}`)

	return sb.String()
}
