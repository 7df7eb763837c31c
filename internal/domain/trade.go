package domain

import "time"

// Acciones posibles sobre un mercado escaneado.
const (
	ActionBuyYes = "BUY_YES"
	ActionBuyNo  = "BUY_NO"
	ActionSkip   = "SKIP"
)

// TradeRecord es una fila por decisión sobre un mercado (ejecutada o skip).
// Inmutable tras su creación salvo los campos de resolución, que se rellenan
// exactamente una vez cuando el mercado resuelve (o al anular el trade).
//
// Invariante: los campos de resolución (ActualOutcome, PnL, BrierRaw,
// BrierAdjusted, ResolvedAt) son todos nil o todos no-nil.
type TradeRecord struct {
	ID            string
	ExperimentRun string
	Timestamp     time.Time
	ModelUsed     string

	MarketID         string
	MarketQuestion   string
	MarketType       string
	ResolutionWindow float64 // horas hasta resolución al decidir
	Tier             int

	// Salida cruda del estimador, nunca tocada por el pipeline de ajuste.
	RawProbability float64
	RawConfidence  float64
	Reasoning      string
	SignalTags     []SignalTag
	HeadlineOnly   bool

	// Ajustes aplicados y estimación final post-pipeline.
	CalibrationAdjustment  float64
	MarketTypeAdjustment   float64
	SignalWeightAdjustment float64
	AdjustedProbability    float64
	AdjustedConfidence     float64

	// Contexto de decisión.
	PriceAtDecision float64
	OrderbookDepth  float64
	FeeRate         float64
	CalculatedEdge  float64
	TradeScore      float64

	Action          string
	SkipReason      string
	PositionSizeUSD float64
	KellyFraction   float64
	ClusterID       string

	// Resolución: todos nil hasta que el mercado resuelve.
	ActualOutcome *bool
	PnL           *float64
	BrierRaw      *float64
	BrierAdjusted *float64
	ResolvedAt    *time.Time

	// Movimiento adverso no realizado (>10% dispara el cooldown de Monk Mode).
	UnrealizedAdverseMove *float64

	Voided     bool
	VoidReason string
}

// IsResolved devuelve true si el trade ya tiene resultado.
func (r TradeRecord) IsResolved() bool {
	return r.ActualOutcome != nil
}

// Executed devuelve true si el trade fue ejecutado (no SKIP).
func (r TradeRecord) Executed() bool {
	return r.Action != ActionSkip
}

// Resolve rellena los campos de resolución de una vez, manteniendo el
// invariante todos-nil / todos-set.
func (r *TradeRecord) Resolve(outcome bool, pnl float64, at time.Time) {
	actual := 0.0
	if outcome {
		actual = 1.0
	}
	brierRaw := (r.RawProbability - actual) * (r.RawProbability - actual)
	brierAdj := (r.AdjustedProbability - actual) * (r.AdjustedProbability - actual)

	r.ActualOutcome = &outcome
	r.PnL = &pnl
	r.BrierRaw = &brierRaw
	r.BrierAdjusted = &brierAdj
	r.ResolvedAt = &at
}

// TradeCandidate es un mercado que sobrevivió al pipeline de ajuste y espera
// el ranking y los circuit breakers antes de ejecutarse.
type TradeCandidate struct {
	Market              Market
	AdjustedProbability float64
	AdjustedConfidence  float64
	CalculatedEdge      float64
	Score               float64
	PositionSize        float64
	Side                string
	SkipReason          string
	ClusterID           string
	ResolutionHours     float64
	FeeRate             float64
	MarketPrice         float64
	KellyFraction       float64
	OrderbookDepth      float64
	Tier                int

	// Salida cruda del estimador, preservada para el TradeRecord.
	RawProbability float64
	RawConfidence  float64
	Reasoning      string
	SignalTags     []SignalTag
	HeadlineOnly   bool

	CalibrationAdjustment  float64
	MarketTypeAdjustment   float64
	SignalWeightAdjustment float64
}

// ExecutionResult es el resultado de ejecutar (o simular) una orden.
type ExecutionResult struct {
	ExecutedPrice   float64
	Slippage        float64
	FillProbability float64
	Filled          bool
}

// Position es una posición abierta del portfolio.
type Position struct {
	MarketID     string
	Side         string // BUY_YES | BUY_NO
	EntryPrice   float64
	SizeUSD      float64
	CurrentValue float64
	ClusterID    string
}

// Portfolio es el estado singleton de capital del bot.
type Portfolio struct {
	CashBalance   float64
	TotalEquity   float64
	TotalPnL      float64
	PeakEquity    float64
	MaxDrawdown   float64
	OpenPositions []Position
}

// NewPortfolio crea un portfolio con el bankroll inicial dado.
func NewPortfolio(bankroll float64) Portfolio {
	return Portfolio{
		CashBalance: bankroll,
		TotalEquity: bankroll,
		PeakEquity:  bankroll,
	}
}

// TotalExposure devuelve la suma de las posiciones abiertas en USD.
func (p Portfolio) TotalExposure() float64 {
	var total float64
	for _, pos := range p.OpenPositions {
		total += pos.SizeUSD
	}
	return total
}

// RemovePosition elimina la posición del mercado dado, si existe.
func (p *Portfolio) RemovePosition(marketID string) {
	kept := p.OpenPositions[:0]
	for _, pos := range p.OpenPositions {
		if pos.MarketID != marketID {
			kept = append(kept, pos)
		}
	}
	p.OpenPositions = kept
}
