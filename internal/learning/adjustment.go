package learning

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// Límites de los valores ajustados.
const (
	minConfidence  = 0.50
	maxConfidence  = 0.99
	minProbability = 0.01
	maxProbability = 0.99

	// signalWeightScale atenúa cuánto mueve la confianza el peso medio de señales.
	signalWeightScale = 0.1

	// freshFactWindow: un hecho verificado (I1) más joven que esto da un boost.
	freshFactWindow = 30 * time.Minute
	freshFactBoost  = 1.05
	// decayFloor: multiplicador mínimo del decaimiento temporal.
	decayFloor = 0.85
)

// AdjustInput es la entrada inmutable del pipeline: la estimación cruda
// del LLM y su contexto.
type AdjustInput struct {
	RawProbability float64
	RawConfidence  float64
	MarketType     string
	Tags           []domain.SignalTag
	Now            time.Time
}

// AdjustState es el estado que fluye por los pasos del pipeline.
type AdjustState struct {
	Probability float64
	Confidence  float64
	// ExtraEdge se resta del edge calculado aguas abajo; no toca prob/conf.
	ExtraEdge float64
}

// AdjustStep es un paso puro del pipeline: mismo input + mismo estado
// producen siempre el mismo estado de salida.
type AdjustStep struct {
	Name  string
	Apply func(in AdjustInput, s AdjustState) AdjustState
}

// Adjuster aplica las cinco correcciones secuenciales a una estimación
// cruda usando las tres capas de aprendizaje. El orden de los pasos es una
// lista explícita: cada paso se testea aislado y solo se reordena a propósito.
type Adjuster struct {
	calibration *CalibrationManager
	marketTypes *MarketTypeManager
	signals     *SignalTrackerManager
}

// NewAdjuster crea el pipeline sobre los tres managers.
func NewAdjuster(cal *CalibrationManager, mt *MarketTypeManager, st *SignalTrackerManager) *Adjuster {
	return &Adjuster{calibration: cal, marketTypes: mt, signals: st}
}

// Steps devuelve los cinco pasos en su orden de aplicación.
func (a *Adjuster) Steps() []AdjustStep {
	return []AdjustStep{
		{Name: "calibration", Apply: a.calibrationStep},
		{Name: "signal_weight", Apply: a.signalWeightStep},
		{Name: "shrinkage", Apply: a.shrinkageStep},
		{Name: "market_type_edge", Apply: a.marketTypeEdgeStep},
		{Name: "temporal", Apply: a.temporalStep},
	}
}

// AdjustBreakdown es el resultado del pipeline con el delta de confianza
// que aportó cada paso que se persiste en el TradeRecord.
type AdjustBreakdown struct {
	Probability float64
	Confidence  float64
	ExtraEdge   float64

	CalibrationDelta  float64
	SignalWeightDelta float64
}

// Adjust ejecuta el pipeline completo y devuelve
// (prob ajustada, conf ajustada, edge extra).
func (a *Adjuster) Adjust(in AdjustInput) (float64, float64, float64) {
	b := a.AdjustDetailed(in)
	return b.Probability, b.Confidence, b.ExtraEdge
}

// AdjustDetailed ejecuta el pipeline midiendo cuánto movió la confianza
// cada paso individual.
func (a *Adjuster) AdjustDetailed(in AdjustInput) AdjustBreakdown {
	state := AdjustState{
		Probability: in.RawProbability,
		Confidence:  in.RawConfidence,
	}
	var breakdown AdjustBreakdown
	for _, step := range a.Steps() {
		before := state.Confidence
		state = step.Apply(in, state)
		switch step.Name {
		case "calibration":
			breakdown.CalibrationDelta = state.Confidence - before
		case "signal_weight":
			breakdown.SignalWeightDelta = state.Confidence - before
		}
	}
	breakdown.Probability = state.Probability
	breakdown.Confidence = state.Confidence
	breakdown.ExtraEdge = state.ExtraEdge
	slog.Debug("prediction adjusted",
		"market_type", in.MarketType,
		"raw_prob", in.RawProbability,
		"raw_conf", in.RawConfidence,
		"adj_prob", state.Probability,
		"adj_conf", state.Confidence,
		"extra_edge", state.ExtraEdge,
	)
	return breakdown
}

// calibrationStep (1): suma la corrección bayesiana del bucket a la confianza.
func (a *Adjuster) calibrationStep(in AdjustInput, s AdjustState) AdjustState {
	s.Confidence = clamp(s.Confidence+a.calibration.Correction(in.RawConfidence), minConfidence, maxConfidence)
	return s
}

// signalWeightStep (2): mueve la confianza según el peso medio de los tags.
// No-op sin tags.
func (a *Adjuster) signalWeightStep(in AdjustInput, s AdjustState) AdjustState {
	if len(in.Tags) == 0 {
		return s
	}
	var sum float64
	for _, tag := range in.Tags {
		tier, info := tag.SourceTier, tag.InfoType
		if tier == "" {
			tier = "S6"
		}
		if info == "" {
			info = "I5"
		}
		sum += a.signals.Weight(tier, info, in.MarketType)
	}
	avg := sum / float64(len(in.Tags))
	s.Confidence = clamp(s.Confidence+(avg-1.0)*signalWeightScale, minConfidence, maxConfidence)
	return s
}

// shrinkageStep (3): escala la probabilidad hacia/desde 0.5 con el factor
// accuracy_esperada/midpoint del bucket de la confianza CRUDA. Simétrico
// alrededor de 0.5; se salta por completo sin muestras suficientes.
func (a *Adjuster) shrinkageStep(in AdjustInput, s AdjustState) AdjustState {
	bucket := a.calibration.FindBucket(in.RawConfidence)
	if !bucket.HasShrinkageData() {
		return s
	}
	factor := bucket.ExpectedAccuracy() / bucket.Midpoint()
	s.Probability = clamp(0.5+(in.RawProbability-0.5)*factor, minProbability, maxProbability)
	return s
}

// marketTypeEdgeStep (4): acumula la penalización de edge de la categoría.
// Se devuelve aparte y se resta del edge aguas abajo.
func (a *Adjuster) marketTypeEdgeStep(in AdjustInput, s AdjustState) AdjustState {
	s.ExtraEdge = a.marketTypes.EdgeAdjustment(in.MarketType)
	return s
}

// temporalStep (5): boost por hecho verificado fresco, o decaimiento por
// señales viejas. Sin tags con timestamp no ajusta nada.
func (a *Adjuster) temporalStep(in AdjustInput, s AdjustState) AdjustState {
	var maxAgeHours float64
	hasFreshFact := false
	hasTimestamps := false

	for _, tag := range in.Tags {
		if tag.Timestamp == nil {
			continue
		}
		hasTimestamps = true
		age := in.Now.Sub(*tag.Timestamp)
		if age.Hours() > maxAgeHours {
			maxAgeHours = age.Hours()
		}
		if tag.InfoType == "I1" && age < freshFactWindow {
			hasFreshFact = true
		}
	}

	if !hasTimestamps {
		return s
	}

	switch {
	case hasFreshFact:
		s.Confidence = clamp(s.Confidence*freshFactBoost, minConfidence, maxConfidence)
	case maxAgeHours > 1.0:
		decay := 1.0 - 0.05*(maxAgeHours-1.0)
		if decay < decayFloor {
			decay = decayFloor
		}
		s.Confidence = clamp(s.Confidence*decay, minConfidence, maxConfidence)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
