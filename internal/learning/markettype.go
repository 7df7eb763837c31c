package learning

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// MarketTypeManager mantiene el rendimiento acumulado por categoría de mercado.
type MarketTypeManager struct {
	perfs      map[string]*domain.MarketTypePerformance
	keepScores int // Brier scores que sobreviven un model swap
}

// NewMarketTypeManager crea el manager vacío.
func NewMarketTypeManager(dampenKeepScores int) *MarketTypeManager {
	if dampenKeepScores <= 0 {
		dampenKeepScores = 15
	}
	return &MarketTypeManager{
		perfs:      make(map[string]*domain.MarketTypePerformance),
		keepScores: dampenKeepScores,
	}
}

func (m *MarketTypeManager) ensure(marketType string) *domain.MarketTypePerformance {
	p, ok := m.perfs[marketType]
	if !ok {
		p = &domain.MarketTypePerformance{MarketType: marketType}
		m.perfs[marketType] = p
	}
	return p
}

// UpdateFromTrade acumula un trade resuelto en su categoría.
//
// Siempre anexa el Brier score AJUSTADO (no el crudo): esta capa mide el
// rendimiento del sistema completo. Si el trade se ejecutó suma el PnL
// realizado; si fue skip cuenta la observación y el PnL contrafactual que
// calcula el collaborator de resolución. No-op si anulado o sin resolver.
func (m *MarketTypeManager) UpdateFromTrade(r domain.TradeRecord, counterfactualPnL float64) {
	if r.Voided || !r.IsResolved() {
		return
	}

	p := m.ensure(r.MarketType)

	if r.BrierAdjusted != nil {
		p.BrierScores = append(p.BrierScores, *r.BrierAdjusted)
	}

	if r.Executed() {
		p.TotalTrades++
		if r.PnL != nil {
			p.TotalPnL += *r.PnL
		}
	} else {
		p.TotalObserved++
		p.CounterfactualPnL += counterfactualPnL
	}
}

// EdgeAdjustment devuelve el edge extra exigido a la categoría (0 si nunca vista).
func (m *MarketTypeManager) EdgeAdjustment(marketType string) float64 {
	if p, ok := m.perfs[marketType]; ok {
		return p.EdgeAdjustment()
	}
	return 0
}

// ShouldDisable devuelve true si la categoría acumula pérdidas persistentes.
func (m *MarketTypeManager) ShouldDisable(marketType string) bool {
	if p, ok := m.perfs[marketType]; ok {
		return p.ShouldDisable()
	}
	return false
}

// DampenOnSwap trunca la lista de Brier scores de cada categoría a los
// últimos N. Atenúa la historia del modelo anterior sin descartarla:
// a diferencia de la calibración, esta capa no se resetea en un swap.
func (m *MarketTypeManager) DampenOnSwap() {
	for _, p := range m.perfs {
		if len(p.BrierScores) > m.keepScores {
			kept := make([]float64, m.keepScores)
			copy(kept, p.BrierScores[len(p.BrierScores)-m.keepScores:])
			p.BrierScores = kept
		}
	}
}

// Reset vacía todo el estado (solo para la recalculación completa).
func (m *MarketTypeManager) Reset() {
	m.perfs = make(map[string]*domain.MarketTypePerformance)
}

// Performances devuelve el mapa interno (para reports y persistencia).
func (m *MarketTypeManager) Performances() map[string]*domain.MarketTypePerformance {
	return m.perfs
}

// Load reemplaza el estado con lo persistido en el storage.
func (m *MarketTypeManager) Load(ctx context.Context, store ports.LearningStore) error {
	loaded, err := store.LoadMarketTypes(ctx)
	if err != nil {
		return fmt.Errorf("learning.MarketTypeManager.Load: %w", err)
	}
	if loaded != nil {
		m.perfs = loaded
	}
	return nil
}

// Save persiste el estado actual.
func (m *MarketTypeManager) Save(ctx context.Context, store ports.LearningStore) error {
	if err := store.SaveMarketTypes(ctx, m.perfs); err != nil {
		return fmt.Errorf("learning.MarketTypeManager.Save: %w", err)
	}
	return nil
}
