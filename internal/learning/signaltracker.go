package learning

import (
	"context"
	"fmt"
	"sort"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// comboKey identifica un tracker: (source tier, info type, market type).
type comboKey struct {
	tier       string
	info       string
	marketType string
}

// SignalTrackerManager mantiene la fiabilidad por combinación de señal.
// Los trackers se crean de forma lazy la primera vez que la combinación
// aparece en un trade resuelto de ese tipo de mercado.
//
// Esta capa NUNCA se resetea ni se atenúa en un model swap: la fiabilidad
// de una fuente se considera independiente del modelo.
type SignalTrackerManager struct {
	trackers map[comboKey]*domain.SignalTracker
}

// NewSignalTrackerManager crea el manager vacío.
func NewSignalTrackerManager() *SignalTrackerManager {
	return &SignalTrackerManager{trackers: make(map[comboKey]*domain.SignalTracker)}
}

func (m *SignalTrackerManager) ensure(tier, info, marketType string) *domain.SignalTracker {
	key := comboKey{tier, info, marketType}
	t, ok := m.trackers[key]
	if !ok {
		t = &domain.SignalTracker{SourceTier: tier, InfoType: info, MarketType: marketType}
		m.trackers[key] = t
	}
	return t
}

// observedCombos devuelve todas las combinaciones (tier, info) vistas
// históricamente para el tipo de mercado dado.
func (m *SignalTrackerManager) observedCombos(marketType string) map[[2]string]bool {
	out := make(map[[2]string]bool)
	for k := range m.trackers {
		if k.marketType == marketType {
			out[[2]string{k.tier, k.info}] = true
		}
	}
	return out
}

// UpdateFromTrade acumula un trade resuelto en todos los trackers de su
// tipo de mercado.
//
// La corrección se mide con la probabilidad AJUSTADA: esta capa evalúa la
// accuracy end-to-end del sistema, que es la noción relevante para
// reponderar señales futuras. Para cada combinación de la unión
// (presentes en los tags ∪ observadas históricamente) se incrementa
// exactamente uno de los cuatro contadores; las ausencias también cuentan
// para que el lift sea un ratio real. No-op si anulado o sin resolver.
func (m *SignalTrackerManager) UpdateFromTrade(r domain.TradeRecord) {
	if r.Voided || !r.IsResolved() {
		return
	}

	adjustedPredictedYes := r.AdjustedProbability > 0.5
	wasCorrect := adjustedPredictedYes == *r.ActualOutcome

	present := make(map[[2]string]bool)
	for _, tag := range r.SignalTags {
		if tag.SourceTier != "" && tag.InfoType != "" {
			present[[2]string{tag.SourceTier, tag.InfoType}] = true
		}
	}

	all := m.observedCombos(r.MarketType)
	for combo := range present {
		all[combo] = true
	}

	for combo := range all {
		t := m.ensure(combo[0], combo[1], r.MarketType)
		switch {
		case present[combo] && wasCorrect:
			t.PresentWinning++
		case present[combo]:
			t.PresentLosing++
		case wasCorrect:
			t.AbsentWinning++
		default:
			t.AbsentLosing++
		}
	}
}

// Weight devuelve el peso de confianza de la combinación (1.0 si nunca vista).
func (m *SignalTrackerManager) Weight(tier, info, marketType string) float64 {
	if t, ok := m.trackers[comboKey{tier, info, marketType}]; ok {
		return t.Weight()
	}
	return 1.0
}

// Reset vacía todo el estado (solo para la recalculación completa).
func (m *SignalTrackerManager) Reset() {
	m.trackers = make(map[comboKey]*domain.SignalTracker)
}

// Trackers devuelve los trackers en orden determinista (para persistencia).
func (m *SignalTrackerManager) Trackers() []domain.SignalTracker {
	out := make([]domain.SignalTracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketType != out[j].MarketType {
			return out[i].MarketType < out[j].MarketType
		}
		if out[i].SourceTier != out[j].SourceTier {
			return out[i].SourceTier < out[j].SourceTier
		}
		return out[i].InfoType < out[j].InfoType
	})
	return out
}

// Load reemplaza el estado con lo persistido en el storage.
func (m *SignalTrackerManager) Load(ctx context.Context, store ports.LearningStore) error {
	loaded, err := store.LoadSignalTrackers(ctx)
	if err != nil {
		return fmt.Errorf("learning.SignalTrackerManager.Load: %w", err)
	}
	m.trackers = make(map[comboKey]*domain.SignalTracker, len(loaded))
	for i := range loaded {
		t := loaded[i]
		m.trackers[comboKey{t.SourceTier, t.InfoType, t.MarketType}] = &t
	}
	return nil
}

// Save persiste el estado actual.
func (m *SignalTrackerManager) Save(ctx context.Context, store ports.LearningStore) error {
	if err := store.SaveSignalTrackers(ctx, m.Trackers()); err != nil {
		return fmt.Errorf("learning.SignalTrackerManager.Save: %w", err)
	}
	return nil
}
