// Package learning implementa las tres capas de aprendizaje online que
// corrigen la salida cruda del estimador: calibración bayesiana por bucket
// de confianza, rendimiento por tipo de mercado y fiabilidad por fuente de
// señal. Los managers son estado explícito: el scheduler los construye al
// arrancar, los carga del storage, los pasa a cada scan y los persiste
// después. No hay singletons a nivel de módulo.
package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// CalibrationManager mantiene los 6 buckets Beta de calibración.
type CalibrationManager struct {
	buckets []domain.CalibrationBucket
	decay   float64 // peso por recencia: decay^días
}

// NewCalibrationManager crea el manager con buckets en priors.
func NewCalibrationManager(recencyDecay float64) *CalibrationManager {
	if recencyDecay <= 0 || recencyDecay > 1 {
		recencyDecay = 0.95
	}
	return &CalibrationManager{
		buckets: domain.NewCalibrationBuckets(),
		decay:   recencyDecay,
	}
}

// FindBucket localiza el bucket cuyo rango [lo, hi) contiene la confianza.
// Confianza 1.00 cae en el bucket superior; por debajo de 0.50 se clampa
// al bucket inferior.
func (m *CalibrationManager) FindBucket(confidence float64) *domain.CalibrationBucket {
	for i := range m.buckets {
		if m.buckets[i].Contains(confidence) {
			return &m.buckets[i]
		}
	}
	last := &m.buckets[len(m.buckets)-1]
	if confidence >= last.Lo {
		return last
	}
	return &m.buckets[0]
}

// Correction devuelve la corrección de confianza para el bucket de la
// confianza dada (0 si el bucket aún no tiene muestras suficientes).
func (m *CalibrationManager) Correction(confidence float64) float64 {
	return m.FindBucket(confidence).Correction()
}

// UpdateFromTrade acumula un trade resuelto en su bucket.
//
// Usa RawConfidence para elegir el bucket y RawProbability (contra 0.5) para
// decidir si la dirección cruda acertó. Usar los valores ajustados aquí
// crearía un bucle de realimentación donde la corrección se refuerza a sí
// misma. No-op para trades anulados o sin resolver.
func (m *CalibrationManager) UpdateFromTrade(r domain.TradeRecord, now time.Time) {
	if r.Voided || !r.IsResolved() {
		return
	}

	bucket := m.FindBucket(r.RawConfidence)

	rawPredictedYes := r.RawProbability > 0.5
	wasCorrect := rawPredictedYes == *r.ActualOutcome

	daysSince := now.Sub(r.Timestamp).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	recency := math.Pow(m.decay, daysSince)

	bucket.Update(wasCorrect, recency)
}

// ResetToPriors devuelve todos los buckets a alpha=beta=1. Se invoca en
// model swap y en la recalculación completa.
func (m *CalibrationManager) ResetToPriors() {
	m.buckets = domain.NewCalibrationBuckets()
}

// Buckets devuelve una copia de los buckets (para reports y persistencia).
func (m *CalibrationManager) Buckets() []domain.CalibrationBucket {
	out := make([]domain.CalibrationBucket, len(m.buckets))
	copy(out, m.buckets)
	return out
}

// Load reemplaza el estado con lo persistido en el storage.
func (m *CalibrationManager) Load(ctx context.Context, store ports.LearningStore) error {
	loaded, err := store.LoadCalibration(ctx)
	if err != nil {
		return fmt.Errorf("learning.CalibrationManager.Load: %w", err)
	}
	if len(loaded) > 0 {
		m.buckets = loaded
	}
	return nil
}

// Save persiste el estado actual.
func (m *CalibrationManager) Save(ctx context.Context, store ports.LearningStore) error {
	if err := store.SaveCalibration(ctx, m.buckets); err != nil {
		return fmt.Errorf("learning.CalibrationManager.Save: %w", err)
	}
	return nil
}
