package engine

import (
	"context"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// fakeStore es un ports.Storage en memoria para los tests del engine.
type fakeStore struct {
	trades      map[string]domain.TradeRecord
	tradeOrder  []string
	portfolio   domain.Portfolio
	calibration []domain.CalibrationBucket
	marketTypes map[string]*domain.MarketTypePerformance
	trackers    []domain.SignalTracker
	apiSpend    float64
}

var _ ports.Storage = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:      make(map[string]domain.TradeRecord),
		marketTypes: make(map[string]*domain.MarketTypePerformance),
	}
}

func (s *fakeStore) SaveTrade(_ context.Context, r domain.TradeRecord) error {
	if _, ok := s.trades[r.ID]; !ok {
		s.tradeOrder = append(s.tradeOrder, r.ID)
	}
	s.trades[r.ID] = r
	return nil
}

func (s *fakeStore) UpdateTrade(ctx context.Context, r domain.TradeRecord) error {
	return s.SaveTrade(ctx, r)
}

func (s *fakeStore) GetTrade(_ context.Context, id string) (*domain.TradeRecord, error) {
	if r, ok := s.trades[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *fakeStore) OpenTrades(context.Context) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, id := range s.tradeOrder {
		r := s.trades[id]
		if r.Executed() && !r.IsResolved() && !r.Voided {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) TodayTrades(context.Context) ([]domain.TradeRecord, error) {
	out := make([]domain.TradeRecord, 0, len(s.tradeOrder))
	for _, id := range s.tradeOrder {
		out = append(out, s.trades[id])
	}
	return out, nil
}

func (s *fakeStore) WeekTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	return s.TodayTrades(ctx)
}

func (s *fakeStore) ResolvedTrades(_ context.Context, includeVoided bool) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, id := range s.tradeOrder {
		r := s.trades[id]
		if !r.IsResolved() || (r.Voided && !includeVoided) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) LoadCalibration(context.Context) ([]domain.CalibrationBucket, error) {
	return s.calibration, nil
}

func (s *fakeStore) SaveCalibration(_ context.Context, b []domain.CalibrationBucket) error {
	s.calibration = b
	return nil
}

func (s *fakeStore) LoadMarketTypes(context.Context) (map[string]*domain.MarketTypePerformance, error) {
	return s.marketTypes, nil
}

func (s *fakeStore) SaveMarketTypes(_ context.Context, p map[string]*domain.MarketTypePerformance) error {
	s.marketTypes = p
	return nil
}

func (s *fakeStore) LoadSignalTrackers(context.Context) ([]domain.SignalTracker, error) {
	return s.trackers, nil
}

func (s *fakeStore) SaveSignalTrackers(_ context.Context, t []domain.SignalTracker) error {
	s.trackers = t
	return nil
}

func (s *fakeStore) SaveExperiment(context.Context, domain.ExperimentRun) error { return nil }

func (s *fakeStore) CurrentExperiment(context.Context) (*domain.ExperimentRun, error) {
	return nil, nil
}

func (s *fakeStore) EndExperiment(context.Context, string, time.Time, domain.ExperimentRun) error {
	return nil
}

func (s *fakeStore) SaveModelSwap(context.Context, domain.ModelSwapEvent) error { return nil }

func (s *fakeStore) LoadPortfolio(context.Context) (domain.Portfolio, error) {
	return s.portfolio, nil
}

func (s *fakeStore) SavePortfolio(_ context.Context, p domain.Portfolio) error {
	s.portfolio = p
	return nil
}

func (s *fakeStore) AddAPICost(_ context.Context, _ string, _, _ int, cost float64) error {
	s.apiSpend += cost
	return nil
}

func (s *fakeStore) TodayAPISpend(context.Context) (float64, error) { return s.apiSpend, nil }

func (s *fakeStore) RecordParseFailure(context.Context, string, string) error { return nil }

func (s *fakeStore) Close() error { return nil }

// fakeMarkets es un ports.MarketProvider con mercados fijados por test.
type fakeMarkets struct {
	markets map[string]*domain.Market
}

var _ ports.MarketProvider = (*fakeMarkets)(nil)

func newFakeMarkets() *fakeMarkets {
	return &fakeMarkets{markets: make(map[string]*domain.Market)}
}

func (f *fakeMarkets) ActiveMarkets(context.Context, int) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMarkets) Orderbook(_ context.Context, _, marketID string) (domain.OrderBook, error) {
	return domain.OrderBook{MarketID: marketID, Bids: []float64{500}, Asks: []float64{500}}, nil
}

func (f *fakeMarkets) Market(_ context.Context, id string) (*domain.Market, error) {
	return f.markets[id], nil
}
