package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

func TestBuildPromptIncluyeMercadoYLibro(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	market := domain.Market{
		Question:       "Will the Fed cut rates in September?",
		YesPrice:       0.62,
		NoPrice:        0.38,
		ResolutionTime: now.Add(48 * time.Hour),
		Volume24h:      125000,
		Liquidity:      40000,
	}
	book := domain.OrderBook{Bids: []float64{300, 200}, Asks: []float64{100}}

	prompt := BuildPrompt(market, nil, book, now)

	assert.Contains(t, prompt, "Will the Fed cut rates in September?")
	assert.Contains(t, prompt, "Current YES price: 0.6200")
	assert.Contains(t, prompt, "Resolution: 48.0 hours")
	assert.Contains(t, prompt, "Orderbook depth: $600 (skew: +0.67)")
	assert.Contains(t, prompt, "No signals available.")
	assert.Contains(t, prompt, `"estimated_probability"`)
}

func TestBuildPromptOrdenaPorCredibilidadYLimita(t *testing.T) {
	now := time.Now()
	var signals []domain.Signal
	for i := 0; i < 9; i++ {
		signals = append(signals, domain.Signal{
			Source:      "rss",
			SourceTier:  "S6",
			Author:      "blog",
			Credibility: 0.30,
			Content:     "low credibility item",
		})
	}
	signals = append(signals, domain.Signal{
		Source:       "rss",
		SourceTier:   "S2",
		Author:       "reuters.com",
		Credibility:  0.90,
		Content:      "Fed announces emergency meeting",
		HeadlineOnly: true,
	})

	prompt := BuildPrompt(domain.Market{Question: "Q"}, signals, domain.OrderBook{}, now)

	// La señal más creíble encabeza la lista y lleva su etiqueta.
	assert.Contains(t, prompt, "1. [S2|rss] @reuters.com (cred=0.90): Fed announces emergency meeting [HEADLINE-ONLY]")
	// Solo entran 7 señales.
	assert.Contains(t, prompt, "7. ")
	assert.NotContains(t, prompt, "8. ")
}

func TestBuildPromptTruncaContenidoLargo(t *testing.T) {
	long := strings.Repeat("x", 300)
	signals := []domain.Signal{{Source: "rss", SourceTier: "S3", Author: "bbc", Credibility: 0.80, Content: long}}

	prompt := BuildPrompt(domain.Market{Question: "Q"}, signals, domain.OrderBook{}, time.Now())

	assert.Contains(t, prompt, strings.Repeat("x", 200))
	assert.NotContains(t, prompt, strings.Repeat("x", 201))
}
