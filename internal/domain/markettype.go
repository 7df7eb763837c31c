package domain

import "math"

const (
	// brierDecay pondera los Brier scores por posición desde el más reciente.
	brierDecay = 0.95
	// minTradesForEdgeAdj / minTradesForDisable son los gates de muestras.
	minTradesForEdgeAdj = 15
	minTradesForDisable = 30
	// disableLossPerTrade: pérdida media por trade que desactiva la categoría.
	disableLossPerTrade = 0.15
)

// MarketTypePerformance acumula el rendimiento por categoría de mercado.
// Los Brier scores se guardan en orden de llegada y se ponderan por recencia
// al leer, no al escribir: así el dampening post-swap es un simple truncado.
type MarketTypePerformance struct {
	MarketType        string
	TotalTrades       int
	TotalPnL          float64
	BrierScores       []float64
	TotalObserved     int // skips observados
	CounterfactualPnL float64
}

// AvgBrier devuelve el Brier score medio ponderado exponencialmente por
// recencia (el más nuevo pesa 1, el anterior 0.95, etc.).
// Sin datos devuelve 0.25, el Brier de una moneda al aire.
func (p MarketTypePerformance) AvgBrier() float64 {
	if len(p.BrierScores) == 0 {
		return 0.25
	}
	var sum, weightSum float64
	n := len(p.BrierScores)
	for i, score := range p.BrierScores {
		w := math.Pow(brierDecay, float64(n-1-i))
		sum += score * w
		weightSum += w
	}
	return sum / weightSum
}

// EdgeAdjustment devuelve el edge extra exigido a esta categoría: una función
// escalón del AvgBrier. Las categorías mal calibradas necesitan más edge para
// compensar. 0 con menos de 15 trades.
func (p MarketTypePerformance) EdgeAdjustment() float64 {
	if p.TotalTrades < minTradesForEdgeAdj {
		return 0
	}
	avg := p.AvgBrier()
	switch {
	case avg > 0.30:
		return 0.05
	case avg > 0.25:
		return 0.03
	case avg > 0.20:
		return 0.01
	}
	return 0
}

// ShouldDisable devuelve true cuando la categoría acumula pérdidas
// persistentes: 30+ trades y pérdida media peor que $0.15 por trade.
// Upstream se usa para saltar la categoría antes de gastar presupuesto de API.
func (p MarketTypePerformance) ShouldDisable() bool {
	return p.TotalTrades >= minTradesForDisable &&
		p.TotalPnL < -disableLossPerTrade*float64(p.TotalTrades)
}
