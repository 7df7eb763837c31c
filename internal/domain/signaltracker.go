package domain

// minLiftSamples es el mínimo de muestras en AMBOS lados (presente/ausente)
// para calcular un lift real en vez de asumir 1.0.
const minLiftSamples = 5

// SignalTracker acumula la fiabilidad de una combinación
// (source tier, info type) dentro de un tipo de mercado.
//
// Se cuentan también los trades donde la combinación estuvo AUSENTE: sin el
// denominador "ausente" solo se podría condicionar sobre presencia y el lift
// no sería un ratio real.
type SignalTracker struct {
	SourceTier string // S1..S6
	InfoType   string // I1..I5
	MarketType string

	PresentWinning int
	PresentLosing  int
	AbsentWinning  int
	AbsentLosing   int
}

// Lift devuelve (win-rate con la señal presente) / (win-rate con la señal
// ausente). 1.0 si algún lado tiene menos de 5 muestras o el denominador es 0.
func (t SignalTracker) Lift() float64 {
	totalPresent := t.PresentWinning + t.PresentLosing
	totalAbsent := t.AbsentWinning + t.AbsentLosing
	if totalPresent < minLiftSamples || totalAbsent < minLiftSamples {
		return 1.0
	}
	winRatePresent := float64(t.PresentWinning) / float64(totalPresent)
	winRateAbsent := float64(t.AbsentWinning) / float64(totalAbsent)
	if winRateAbsent == 0 {
		return 1.0
	}
	return winRatePresent / winRateAbsent
}

// Weight convierte el lift en un peso de confianza acotado:
// clamp(1 + 0.3×(lift−1), 0.8, 1.2).
func (t SignalTracker) Weight() float64 {
	w := 1.0 + (t.Lift()-1.0)*0.3
	if w < 0.8 {
		return 0.8
	}
	if w > 1.2 {
		return 1.2
	}
	return w
}
