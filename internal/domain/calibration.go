package domain

import "gonum.org/v1/gonum/stat/distuv"

// calibrationRanges son los 6 rangos fijos [lo, hi) de confianza.
// El último bucket captura también el borde exacto 1.00.
var calibrationRanges = [][2]float64{
	{0.50, 0.60},
	{0.60, 0.70},
	{0.70, 0.80},
	{0.80, 0.90},
	{0.90, 0.95},
	{0.95, 1.00},
}

// minBucketSamples es el mínimo de muestras efectivas para que un bucket
// emita corrección o shrinkage.
const minBucketSamples = 10

// CalibrationBucket es la estimación Beta-bayesiana de la accuracy real
// dentro de un rango de confianza. Priors alpha=beta=1 (uniforme).
type CalibrationBucket struct {
	Lo    float64
	Hi    float64
	Alpha float64
	Beta  float64
}

// NewCalibrationBuckets devuelve los 6 buckets con priors.
func NewCalibrationBuckets() []CalibrationBucket {
	buckets := make([]CalibrationBucket, len(calibrationRanges))
	for i, r := range calibrationRanges {
		buckets[i] = CalibrationBucket{Lo: r[0], Hi: r[1], Alpha: 1, Beta: 1}
	}
	return buckets
}

// Contains devuelve true si la confianza cae en [Lo, Hi).
func (b CalibrationBucket) Contains(confidence float64) bool {
	return confidence >= b.Lo && confidence < b.Hi
}

// Midpoint devuelve el punto medio del rango del bucket.
func (b CalibrationBucket) Midpoint() float64 {
	return (b.Lo + b.Hi) / 2
}

// ExpectedAccuracy es la media de la distribución Beta: alpha/(alpha+beta).
func (b CalibrationBucket) ExpectedAccuracy() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// SampleCount es el número de muestras efectivas acumuladas (los priors no cuentan).
func (b CalibrationBucket) SampleCount() float64 {
	return b.Alpha + b.Beta - 2
}

// Uncertainty es el ancho del intervalo creíble del 95% de la Beta.
// Con pocos datos el intervalo es ancho y las correcciones se suprimen.
func (b CalibrationBucket) Uncertainty() float64 {
	dist := distuv.Beta{Alpha: b.Alpha, Beta: b.Beta}
	return dist.Quantile(0.975) - dist.Quantile(0.025)
}

// Update acumula una observación, ponderada por recencia (0.95^días).
func (b *CalibrationBucket) Update(wasCorrect bool, recencyWeight float64) {
	if wasCorrect {
		b.Alpha += recencyWeight
	} else {
		b.Beta += recencyWeight
	}
}

// Correction devuelve la corrección de confianza del bucket:
// (accuracy esperada − midpoint) × certeza, donde la certeza descuenta
// por el ancho del intervalo creíble. 0 con menos de 10 muestras.
func (b CalibrationBucket) Correction() float64 {
	if b.SampleCount() < minBucketSamples {
		return 0
	}
	correction := b.ExpectedAccuracy() - b.Midpoint()
	certainty := 1 - 2*b.Uncertainty()
	if certainty < 0 {
		certainty = 0
	}
	return correction * certainty
}

// HasShrinkageData devuelve true si el bucket tiene muestras suficientes
// para aplicar shrinkage de probabilidad.
func (b CalibrationBucket) HasShrinkageData() bool {
	return b.SampleCount() >= minBucketSamples
}
