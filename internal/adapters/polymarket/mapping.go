package polymarket

import (
	"strings"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// marketTypeKeywords clasifica mercados por palabras clave en la pregunta.
// El orden de evaluación es fijo para que la clasificación sea determinista
// cuando una pregunta matchea varias categorías.
var marketTypeOrder = []string{
	domain.TypePolitical,
	domain.TypeEconomic,
	domain.TypeCrypto15m,
	domain.TypeSports,
	domain.TypeCultural,
	domain.TypeRegulatory,
}

var marketTypeKeywords = map[string][]string{
	domain.TypePolitical:  {"president", "election", "congress", "senate", "vote", "political", "trump", "biden", "governor", "democrat", "republican"},
	domain.TypeEconomic:   {"gdp", "inflation", "fed", "interest rate", "unemployment", "economy", "recession", "jobs", "cpi", "fomc"},
	domain.TypeCrypto15m:  {"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol"},
	domain.TypeSports:     {"nba", "nfl", "mlb", "nhl", "soccer", "football", "basketball", "baseball", "championship", "super bowl"},
	domain.TypeCultural:   {"oscar", "grammy", "emmy", "movie", "album", "show", "celebrity", "entertainment"},
	domain.TypeRegulatory: {"sec", "regulation", "law", "ban", "approve", "fda", "ruling", "court"},
}

// classifyMarketType asigna una categoría según la pregunta del mercado.
// Sin match devuelve political, la categoría más común en Polymarket.
func classifyMarketType(question string) string {
	q := strings.ToLower(question)
	for _, mtype := range marketTypeOrder {
		for _, kw := range marketTypeKeywords[mtype] {
			if strings.Contains(q, kw) {
				return mtype
			}
		}
	}
	return domain.TypePolitical
}

// questionKeywords son las palabras significativas de la pregunta en
// minúsculas. Se usan para detectar solapamiento entre mercados, no
// para buscar señales.
func questionKeywords(question string) []string {
	var out []string
	for _, w := range strings.Fields(question) {
		if len(w) > 3 {
			out = append(out, strings.ToLower(w))
		}
		if len(out) == 10 {
			break
		}
	}
	return out
}

// mapGammaMarket convierte un DTO de Gamma a domain.Market.
// feeRate lo fija el caller según el tier que pidió los mercados.
func mapGammaMarket(gm gammaMarket, feeRate float64) domain.Market {
	yesPrice, noPrice := 0.5, 0.5
	if len(gm.OutcomePrices) > 0 {
		yesPrice = gm.OutcomePrices[0]
		noPrice = 1 - yesPrice
	}
	if len(gm.OutcomePrices) > 1 {
		noPrice = gm.OutcomePrices[1]
	}

	var resolutionTime time.Time
	endDate := gm.EndDate
	if endDate == "" {
		endDate = gm.EndDateISO
	}
	if endDate != "" {
		if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			resolutionTime = t.UTC()
		}
	}

	id := gm.ID
	if id == "" {
		id = gm.ConditionID
	}

	marketType := classifyMarketType(gm.Question)

	resolved := gm.Closed || gm.Resolved
	resolution := ""
	if resolved && len(gm.ResolutionPrices) > 0 {
		if float64(gm.ResolutionPrices["0"]) > 0.5 {
			resolution = "YES"
		} else {
			resolution = "NO"
		}
	}

	clobTokenYes := ""
	if len(gm.ClobTokenIDs) > 0 {
		clobTokenYes = gm.ClobTokenIDs[0]
	}

	return domain.Market{
		ID:             id,
		Question:       gm.Question,
		YesPrice:       yesPrice,
		NoPrice:        noPrice,
		ResolutionTime: resolutionTime,
		Volume24h:      float64(gm.Volume24h),
		Liquidity:      float64(gm.Liquidity),
		MarketType:     marketType,
		FeeRate:        feeRate,
		Keywords:       questionKeywords(gm.Question),
		ClobTokenYes:   clobTokenYes,
		Resolved:       resolved,
		Resolution:     resolution,
	}
}
