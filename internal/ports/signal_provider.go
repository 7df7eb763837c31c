package ports

import (
	"context"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// SignalProvider entrega señales puntuadas de noticias/social.
// El core no rankea contenido crudo: recibe items ya clasificados por tier.
type SignalProvider interface {
	// BreakingNews devuelve las señales recientes de todos los feeds.
	BreakingNews(ctx context.Context) ([]domain.Signal, error)
}
