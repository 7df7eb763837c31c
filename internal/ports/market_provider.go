package ports

import (
	"context"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// MarketProvider es el feed de datos de mercados de predicción.
type MarketProvider interface {
	// ActiveMarkets devuelve los mercados activos filtrados por criterio de tier.
	// Una API caída degrada a lista vacía con error, nunca a pánico: el caller
	// decide si el ciclo continúa sin datos.
	ActiveMarkets(ctx context.Context, tier int) ([]domain.Market, error)

	// Orderbook devuelve el libro del token dado.
	Orderbook(ctx context.Context, tokenID, marketID string) (domain.OrderBook, error)

	// Market devuelve un mercado por ID incluyendo su estado de resolución,
	// o nil si ya no existe.
	Market(ctx context.Context, id string) (*domain.Market, error)
}

// OrderPlacer envía órdenes reales. Solo se usa en entorno live; en paper
// la ejecución se simula y este puerto no se toca.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, marketID, side string, price, sizeUSD float64) error
}
