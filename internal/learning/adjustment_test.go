package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

func newAdjuster() *Adjuster {
	return NewAdjuster(
		NewCalibrationManager(0.95),
		NewMarketTypeManager(15),
		NewSignalTrackerManager(),
	)
}

func TestAdjustSinDatosEsPassthrough(t *testing.T) {
	a := newAdjuster()

	prob, conf, extra := a.Adjust(AdjustInput{
		RawProbability: 0.72,
		RawConfidence:  0.80,
		MarketType:     domain.TypeCrypto15m,
		Now:            time.Now().UTC(),
	})

	// Managers vacíos: ninguna capa tiene muestras, nada cambia.
	assert.Equal(t, 0.72, prob)
	assert.Equal(t, 0.80, conf)
	assert.Equal(t, 0.0, extra)
}

func TestStepsOrdenFijo(t *testing.T) {
	steps := newAdjuster().Steps()

	require.Len(t, steps, 5)
	assert.Equal(t, "calibration", steps[0].Name)
	assert.Equal(t, "signal_weight", steps[1].Name)
	assert.Equal(t, "shrinkage", steps[2].Name)
	assert.Equal(t, "market_type_edge", steps[3].Name)
	assert.Equal(t, "temporal", steps[4].Name)
}

func TestCalibrationStepAplicaCorreccionNegativa(t *testing.T) {
	a := newAdjuster()

	// Bucket [0.80, 0.90): accuracy real muy por debajo del midpoint.
	bucket := a.calibration.FindBucket(0.85)
	bucket.Alpha = 31 // 30 aciertos + prior
	bucket.Beta = 21  // 20 fallos + prior

	prob, conf, _ := a.Adjust(AdjustInput{
		RawProbability: 0.70,
		RawConfidence:  0.85,
		MarketType:     domain.TypePolitical,
		Now:            time.Now().UTC(),
	})

	assert.Less(t, conf, 0.85, "la sobreconfianza observada debe bajar la confianza")
	assert.GreaterOrEqual(t, conf, 0.50)
	// El shrinkage también actúa (mismo bucket con muestras).
	assert.Less(t, prob, 0.70)
}

func TestShrinkageUsaBucketDeConfianzaCruda(t *testing.T) {
	a := newAdjuster()

	// accuracy esperada 8/12 ≈ 0.667 en el bucket [0.80, 0.90), midpoint 0.85.
	bucket := a.calibration.FindBucket(0.82)
	bucket.Alpha = 8
	bucket.Beta = 4
	require.True(t, bucket.HasShrinkageData())

	state := a.shrinkageStep(AdjustInput{RawProbability: 0.80, RawConfidence: 0.82}, AdjustState{
		Probability: 0.80,
		Confidence:  0.82,
	})

	factor := (8.0 / 12.0) / 0.85
	assert.InDelta(t, 0.5+(0.80-0.5)*factor, state.Probability, 1e-9)
}

func TestShrinkageSimetricoBajoCincuenta(t *testing.T) {
	a := newAdjuster()

	bucket := a.calibration.FindBucket(0.82)
	bucket.Alpha = 8
	bucket.Beta = 4

	above := a.shrinkageStep(AdjustInput{RawProbability: 0.80, RawConfidence: 0.82}, AdjustState{Probability: 0.80})
	below := a.shrinkageStep(AdjustInput{RawProbability: 0.20, RawConfidence: 0.82}, AdjustState{Probability: 0.20})

	assert.InDelta(t, above.Probability-0.5, 0.5-below.Probability, 1e-9)
}

func TestShrinkageSeSaltaSinMuestras(t *testing.T) {
	a := newAdjuster()

	bucket := a.calibration.FindBucket(0.82)
	bucket.Alpha = 5
	bucket.Beta = 3 // 6 muestras, por debajo del mínimo

	state := a.shrinkageStep(AdjustInput{RawProbability: 0.80, RawConfidence: 0.82}, AdjustState{Probability: 0.80})

	assert.Equal(t, 0.80, state.Probability)
}

func TestSignalWeightStepMueveConfianza(t *testing.T) {
	a := newAdjuster()

	// Señal con lift alto: 8/10 ganando presente vs 4/10 ausente → lift 2.0
	// → weight 1.2 (tope). Delta de confianza: (1.2-1)*0.1 = +0.02.
	tr := a.signals.ensure("S1", "I1", domain.TypeCrypto15m)
	tr.PresentWinning = 8
	tr.PresentLosing = 2
	tr.AbsentWinning = 4
	tr.AbsentLosing = 6

	state := a.signalWeightStep(AdjustInput{
		MarketType: domain.TypeCrypto15m,
		Tags:       []domain.SignalTag{{SourceTier: "S1", InfoType: "I1"}},
	}, AdjustState{Confidence: 0.70})

	assert.InDelta(t, 0.72, state.Confidence, 1e-9)
}

func TestSignalWeightStepSinTagsNoOp(t *testing.T) {
	a := newAdjuster()

	state := a.signalWeightStep(AdjustInput{MarketType: domain.TypeCrypto15m}, AdjustState{Confidence: 0.70})

	assert.Equal(t, 0.70, state.Confidence)
}

func TestMarketTypeEdgeStepDevuelveExtra(t *testing.T) {
	a := newAdjuster()

	p := a.marketTypes.ensure(domain.TypeSports)
	p.TotalTrades = 20
	for i := 0; i < 20; i++ {
		p.BrierScores = append(p.BrierScores, 0.32)
	}

	state := a.marketTypeEdgeStep(AdjustInput{MarketType: domain.TypeSports}, AdjustState{})

	assert.Equal(t, 0.05, state.ExtraEdge)
}

func TestTemporalBoostHechoFresco(t *testing.T) {
	a := newAdjuster()
	now := time.Now().UTC()
	fresh := now.Add(-10 * time.Minute)

	state := a.temporalStep(AdjustInput{
		Now:  now,
		Tags: []domain.SignalTag{{SourceTier: "S1", InfoType: "I1", Timestamp: &fresh}},
	}, AdjustState{Confidence: 0.80})

	assert.InDelta(t, 0.84, state.Confidence, 1e-9)
}

func TestTemporalBoostRespetaTope(t *testing.T) {
	a := newAdjuster()
	now := time.Now().UTC()
	fresh := now.Add(-5 * time.Minute)

	state := a.temporalStep(AdjustInput{
		Now:  now,
		Tags: []domain.SignalTag{{SourceTier: "S2", InfoType: "I1", Timestamp: &fresh}},
	}, AdjustState{Confidence: 0.98})

	assert.Equal(t, 0.99, state.Confidence)
}

func TestTemporalDecaySenalVieja(t *testing.T) {
	a := newAdjuster()
	now := time.Now().UTC()
	old := now.Add(-3 * time.Hour)

	state := a.temporalStep(AdjustInput{
		Now:  now,
		Tags: []domain.SignalTag{{SourceTier: "S3", InfoType: "I2", Timestamp: &old}},
	}, AdjustState{Confidence: 0.80})

	// decay = 1 - 0.05*(3-1) = 0.90
	assert.InDelta(t, 0.72, state.Confidence, 1e-9)
}

func TestTemporalDecayTieneSuelo(t *testing.T) {
	a := newAdjuster()
	now := time.Now().UTC()
	veryOld := now.Add(-24 * time.Hour)

	state := a.temporalStep(AdjustInput{
		Now:  now,
		Tags: []domain.SignalTag{{SourceTier: "S3", InfoType: "I2", Timestamp: &veryOld}},
	}, AdjustState{Confidence: 0.80})

	// El decaimiento nunca baja de 0.85.
	assert.InDelta(t, 0.80*0.85, state.Confidence, 1e-9)
}

func TestTemporalSinTimestampsNoOp(t *testing.T) {
	a := newAdjuster()

	state := a.temporalStep(AdjustInput{
		Now:  time.Now().UTC(),
		Tags: []domain.SignalTag{{SourceTier: "S1", InfoType: "I1"}},
	}, AdjustState{Confidence: 0.80})

	assert.Equal(t, 0.80, state.Confidence)
}

func TestAdjustConfianzaNuncaFueraDeRango(t *testing.T) {
	a := newAdjuster()

	// Bucket extremo: accuracy observada muy alta con muchas muestras.
	bucket := a.calibration.FindBucket(0.97)
	bucket.Alpha = 100
	bucket.Beta = 2

	_, conf, _ := a.Adjust(AdjustInput{
		RawProbability: 0.95,
		RawConfidence:  0.97,
		MarketType:     domain.TypeCrypto15m,
		Now:            time.Now().UTC(),
	})

	assert.LessOrEqual(t, conf, 0.99)
	assert.GreaterOrEqual(t, conf, 0.50)
}

func TestAdjustDetailedSeparaDeltasPorPaso(t *testing.T) {
	a := newAdjuster()

	// Mismo tracker que arriba: weight 1.2 → delta de confianza +0.02.
	tr := a.signals.ensure("S1", "I1", domain.TypeCrypto15m)
	tr.PresentWinning = 8
	tr.PresentLosing = 2
	tr.AbsentWinning = 4
	tr.AbsentLosing = 6

	b := a.AdjustDetailed(AdjustInput{
		RawProbability: 0.72,
		RawConfidence:  0.70,
		MarketType:     domain.TypeCrypto15m,
		Tags:           []domain.SignalTag{{SourceTier: "S1", InfoType: "I1"}},
		Now:            time.Now().UTC(),
	})

	// Calibración sin muestras: su delta es 0, no absorbe el del paso 2.
	assert.Equal(t, 0.0, b.CalibrationDelta)
	assert.InDelta(t, 0.02, b.SignalWeightDelta, 1e-9)
	assert.InDelta(t, 0.72, b.Confidence, 1e-9)
}

func TestAdjustDetailedCalibracionYSenalesNoSeMezclan(t *testing.T) {
	a := newAdjuster()

	// Bucket [0.80, 0.90) sobreconfiado: corrección negativa en el paso 1.
	bucket := a.calibration.FindBucket(0.85)
	bucket.Alpha = 31
	bucket.Beta = 21

	tr := a.signals.ensure("S1", "I1", domain.TypeCrypto15m)
	tr.PresentWinning = 8
	tr.PresentLosing = 2
	tr.AbsentWinning = 4
	tr.AbsentLosing = 6

	b := a.AdjustDetailed(AdjustInput{
		RawProbability: 0.72,
		RawConfidence:  0.85,
		MarketType:     domain.TypeCrypto15m,
		Tags:           []domain.SignalTag{{SourceTier: "S1", InfoType: "I1"}},
		Now:            time.Now().UTC(),
	})

	assert.Less(t, b.CalibrationDelta, 0.0)
	assert.InDelta(t, 0.02, b.SignalWeightDelta, 1e-9)
	// La suma de los deltas de confianza coincide con el ajuste total
	// (shrinkage y temporal no tocan la confianza aquí).
	assert.InDelta(t, b.Confidence-0.85, b.CalibrationDelta+b.SignalWeightDelta, 1e-9)
}
