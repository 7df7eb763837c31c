package domain

import "math"

// CalculateEdge calcula el edge neto: |prob ajustada − precio| − fee.
func CalculateEdge(adjustedProb, marketPrice, feeRate float64) float64 {
	return math.Abs(adjustedProb-marketPrice) - feeRate
}

// DetermineSide decide el lado del trade según probabilidad vs precio.
func DetermineSide(adjustedProb, marketPrice float64) string {
	switch {
	case adjustedProb > marketPrice:
		return ActionBuyYes
	case adjustedProb < marketPrice:
		return ActionBuyNo
	}
	return ActionSkip
}

// KellySize calcula el tamaño de posición por criterio de Kelly fraccional
// para mercados binarios, con cap duro por porcentaje del bankroll.
//
//	BUY_YES: f* = (prob − price) / (1 − price)
//	BUY_NO:  f* = (price − prob) / price
//
// Nunca Kelly completo: siempre f* × kellyFraction, y como máximo
// maxPositionPct × bankroll.
func KellySize(adjustedProb, marketPrice float64, side string, bankroll, kellyFraction, maxPositionPct float64) float64 {
	var fStar float64
	switch side {
	case ActionBuyYes:
		if adjustedProb <= marketPrice {
			return 0
		}
		fStar = (adjustedProb - marketPrice) / (1 - marketPrice)
	case ActionBuyNo:
		if adjustedProb >= marketPrice {
			return 0
		}
		fStar = (marketPrice - adjustedProb) / marketPrice
	default:
		return 0
	}

	position := fStar * kellyFraction * bankroll
	maxPosition := maxPositionPct * bankroll
	return math.Min(position, maxPosition)
}
