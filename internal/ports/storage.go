package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// TradeStore persiste los TradeRecord (uno por mercado escaneado, skips incluidos).
type TradeStore interface {
	SaveTrade(ctx context.Context, r domain.TradeRecord) error
	// UpdateTrade reescribe solo los campos mutables (resolución, adverse move, void).
	UpdateTrade(ctx context.Context, r domain.TradeRecord) error
	GetTrade(ctx context.Context, id string) (*domain.TradeRecord, error)
	// OpenTrades devuelve trades ejecutados, sin resolver y no anulados.
	OpenTrades(ctx context.Context) ([]domain.TradeRecord, error)
	// TodayTrades devuelve todos los records del día UTC actual, por timestamp.
	TodayTrades(ctx context.Context) ([]domain.TradeRecord, error)
	// WeekTrades devuelve los records de los últimos 7 días, por timestamp.
	WeekTrades(ctx context.Context) ([]domain.TradeRecord, error)
	// ResolvedTrades devuelve trades resueltos en orden de timestamp.
	ResolvedTrades(ctx context.Context, includeVoided bool) ([]domain.TradeRecord, error)
}

// LearningStore persiste las tres capas de aprendizaje.
type LearningStore interface {
	LoadCalibration(ctx context.Context) ([]domain.CalibrationBucket, error)
	SaveCalibration(ctx context.Context, buckets []domain.CalibrationBucket) error

	LoadMarketTypes(ctx context.Context) (map[string]*domain.MarketTypePerformance, error)
	SaveMarketTypes(ctx context.Context, perfs map[string]*domain.MarketTypePerformance) error

	LoadSignalTrackers(ctx context.Context) ([]domain.SignalTracker, error)
	SaveSignalTrackers(ctx context.Context, trackers []domain.SignalTracker) error
}

// ExperimentStore gestiona los experiment runs y los eventos de model swap.
type ExperimentStore interface {
	SaveExperiment(ctx context.Context, run domain.ExperimentRun) error
	// CurrentExperiment devuelve el run activo (ended_at nulo) o nil.
	CurrentExperiment(ctx context.Context) (*domain.ExperimentRun, error)
	EndExperiment(ctx context.Context, runID string, ended time.Time, stats domain.ExperimentRun) error
	SaveModelSwap(ctx context.Context, event domain.ModelSwapEvent) error
}

// PortfolioStore persiste el singleton de portfolio y el ledger de costes API.
type PortfolioStore interface {
	LoadPortfolio(ctx context.Context) (domain.Portfolio, error)
	SavePortfolio(ctx context.Context, p domain.Portfolio) error

	// AddAPICost acumula coste del servicio dado en el día UTC actual.
	AddAPICost(ctx context.Context, service string, tokensIn, tokensOut int, costUSD float64) error
	TodayAPISpend(ctx context.Context) (float64, error)

	// RecordParseFailure registra un fallo del estimador para inspección offline.
	RecordParseFailure(ctx context.Context, marketID, cause string) error
}

// Storage es el contrato completo de persistencia del bot.
type Storage interface {
	TradeStore
	LearningStore
	ExperimentStore
	PortfolioStore

	Close() error
}
