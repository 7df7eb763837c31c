package ports

import (
	"context"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// Estimator es el cliente LLM que estima la probabilidad de un mercado.
// La implementación mide el coste de tokens como efecto secundario y agota
// su presupuesto de retries antes de devolver error.
type Estimator interface {
	Estimate(ctx context.Context, marketID, prompt string) (*domain.Estimate, error)
}
