package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string, action string) domain.TradeRecord {
	ts := time.Now().UTC().Add(-30 * time.Minute).Truncate(time.Second)
	return domain.TradeRecord{
		ID:                  id,
		ExperimentRun:       "exp_grok-4_20260801_120000",
		Timestamp:           ts,
		ModelUsed:           "grok-4",
		MarketID:            "mkt-" + id,
		MarketQuestion:      "Will BTC close above 100k?",
		MarketType:          domain.TypeCrypto15m,
		ResolutionWindow:    0.25,
		Tier:                2,
		RawProbability:      0.72,
		RawConfidence:       0.80,
		Reasoning:           "breakout continuation",
		SignalTags:          []domain.SignalTag{{SourceTier: "S2", InfoType: "I1"}},
		AdjustedProbability: 0.69,
		AdjustedConfidence:  0.76,
		PriceAtDecision:     0.61,
		OrderbookDepth:      850,
		FeeRate:             0.04,
		CalculatedEdge:      0.04,
		TradeScore:          0.061,
		Action:              action,
		PositionSizeUSD:     120,
		KellyFraction:       0.25,
		ClusterID:           "cluster_1",
	}
}

func TestTradeRoundTripSinResolver(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	original := sampleTrade("t1", domain.ActionBuyYes)
	require.NoError(t, s.SaveTrade(ctx, original))

	loaded, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, original.MarketID, loaded.MarketID)
	assert.Equal(t, original.RawProbability, loaded.RawProbability)
	assert.Equal(t, original.SignalTags, loaded.SignalTags)
	assert.True(t, original.Timestamp.Equal(loaded.Timestamp))

	// Invariante: los campos de resolución vuelven todos nil.
	assert.Nil(t, loaded.ActualOutcome)
	assert.Nil(t, loaded.PnL)
	assert.Nil(t, loaded.BrierRaw)
	assert.Nil(t, loaded.BrierAdjusted)
	assert.Nil(t, loaded.ResolvedAt)
}

func TestTradeRoundTripResuelto(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	trade := sampleTrade("t1", domain.ActionBuyYes)
	trade.Resolve(true, 42.5, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.SaveTrade(ctx, trade))

	loaded, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)

	// Invariante: todos los campos de resolución vuelven no-nil.
	require.NotNil(t, loaded.ActualOutcome)
	require.NotNil(t, loaded.PnL)
	require.NotNil(t, loaded.BrierRaw)
	require.NotNil(t, loaded.BrierAdjusted)
	require.NotNil(t, loaded.ResolvedAt)

	assert.True(t, *loaded.ActualOutcome)
	assert.Equal(t, 42.5, *loaded.PnL)
	assert.InDelta(t, *trade.BrierRaw, *loaded.BrierRaw, 1e-9)
}

func TestGetTradeInexistenteDevuelveNil(t *testing.T) {
	s := newTestStorage(t)

	loaded, err := s.GetTrade(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestOpenTradesFiltraSkipsResueltosYAnulados(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	open := sampleTrade("open", domain.ActionBuyYes)
	skip := sampleTrade("skip", domain.ActionSkip)
	resolved := sampleTrade("resolved", domain.ActionBuyNo)
	resolved.Resolve(false, 10, time.Now().UTC())
	voided := sampleTrade("voided", domain.ActionBuyYes)
	voided.Voided = true

	for _, r := range []domain.TradeRecord{open, skip, resolved, voided} {
		require.NoError(t, s.SaveTrade(ctx, r))
	}

	got, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].ID)
}

func TestResolvedTradesOrdenYVoided(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	older := sampleTrade("older", domain.ActionBuyYes)
	older.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	older.Resolve(true, 5, time.Now().UTC())

	newer := sampleTrade("newer", domain.ActionBuyYes)
	newer.Resolve(false, -5, time.Now().UTC())

	voided := sampleTrade("bad", domain.ActionBuyYes)
	voided.Resolve(true, 99, time.Now().UTC())
	voided.Voided = true

	for _, r := range []domain.TradeRecord{newer, voided, older} {
		require.NoError(t, s.SaveTrade(ctx, r))
	}

	got, err := s.ResolvedTrades(ctx, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].ID)
	assert.Equal(t, "newer", got[1].ID)

	all, err := s.ResolvedTrades(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWeekTradesExcluyeAntiguos(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	recent := sampleTrade("recent", domain.ActionBuyYes)
	ancient := sampleTrade("ancient", domain.ActionBuyYes)
	ancient.Timestamp = time.Now().UTC().Add(-10 * 24 * time.Hour)

	require.NoError(t, s.SaveTrade(ctx, recent))
	require.NoError(t, s.SaveTrade(ctx, ancient))

	got, err := s.WeekTrades(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].ID)
}

func TestCalibrationRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	empty, err := s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	buckets := domain.NewCalibrationBuckets()
	buckets[2].Alpha = 14
	buckets[2].Beta = 6
	require.NoError(t, s.SaveCalibration(ctx, buckets))

	loaded, err := s.LoadCalibration(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, len(buckets))
	assert.Equal(t, buckets, loaded)

	// Segundo save machaca el snapshot anterior.
	buckets[2].Alpha = 20
	require.NoError(t, s.SaveCalibration(ctx, buckets))
	loaded, err = s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, loaded[2].Alpha)
}

func TestMarketTypesRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	perfs := map[string]*domain.MarketTypePerformance{
		domain.TypeCrypto15m: {
			MarketType:        domain.TypeCrypto15m,
			TotalTrades:       12,
			TotalPnL:          34.5,
			BrierScores:       []float64{0.18, 0.22, 0.31},
			TotalObserved:     4,
			CounterfactualPnL: -6.2,
		},
	}
	require.NoError(t, s.SaveMarketTypes(ctx, perfs))

	loaded, err := s.LoadMarketTypes(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded, domain.TypeCrypto15m)
	assert.Equal(t, *perfs[domain.TypeCrypto15m], *loaded[domain.TypeCrypto15m])
}

func TestSignalTrackersRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	trackers := []domain.SignalTracker{
		{SourceTier: "S1", InfoType: "I1", MarketType: domain.TypeCrypto15m, PresentWinning: 7, AbsentLosing: 3},
		{SourceTier: "S2", InfoType: "I3", MarketType: domain.TypePolitical, PresentLosing: 2, AbsentWinning: 5},
	}
	require.NoError(t, s.SaveSignalTrackers(ctx, trackers))

	loaded, err := s.LoadSignalTrackers(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	// El orden de lectura es determinista: market_type, tier, info.
	assert.Equal(t, trackers[0], loaded[0])
	assert.Equal(t, trackers[1], loaded[1])
}

func TestExperimentoUnicoActivo(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := domain.ExperimentRun{
		ID:                "exp_grok-4_1",
		StartedAt:         time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		ConfigSnapshot:    map[string]string{"model": "grok-4"},
		ModelUsed:         "grok-4",
		IncludeInLearning: true,
	}
	require.NoError(t, s.SaveExperiment(ctx, first))

	second := first
	second.ID = "exp_grok-5_1"
	second.StartedAt = time.Now().UTC().Truncate(time.Second)
	second.ModelUsed = "grok-5"
	require.NoError(t, s.SaveExperiment(ctx, second))

	// Insertar el segundo cerró el primero: exactamente un run activo.
	current, err := s.CurrentExperiment(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "exp_grok-5_1", current.ID)
	assert.Equal(t, map[string]string{"model": "grok-4"}, current.ConfigSnapshot)
}

func TestEndExperimentGuardaAgregados(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	run := domain.ExperimentRun{ID: "exp_1", StartedAt: time.Now().UTC(), IncludeInLearning: true}
	require.NoError(t, s.SaveExperiment(ctx, run))

	stats := domain.ExperimentRun{TotalTrades: 9, TotalPnL: 55.5, AvgBrier: 0.21, SharpeRatio: 1.4}
	require.NoError(t, s.EndExperiment(ctx, "exp_1", time.Now().UTC(), stats))

	current, err := s.CurrentExperiment(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestModelSwapSePersiste(t *testing.T) {
	s := newTestStorage(t)

	err := s.SaveModelSwap(context.Background(), domain.ModelSwapEvent{
		Timestamp:     time.Now().UTC(),
		OldModel:      "grok-4",
		NewModel:      "grok-5",
		Reason:        "benchmark",
		ExperimentRun: "exp_grok-5_1",
	})
	require.NoError(t, err)
}

func TestPortfolioRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Sin guardar: portfolio cero, el caller decide el bankroll inicial.
	empty, err := s.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEquity)

	p := domain.Portfolio{
		CashBalance: 1850,
		TotalEquity: 1980,
		TotalPnL:    -20,
		PeakEquity:  2050,
		MaxDrawdown: 0.034,
		OpenPositions: []domain.Position{
			{MarketID: "m1", Side: domain.ActionBuyYes, EntryPrice: 0.61, SizeUSD: 130, CurrentValue: 130, ClusterID: "cluster_1"},
		},
	}
	require.NoError(t, s.SavePortfolio(ctx, p))

	loaded, err := s.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestAPICostLedger(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	spend, err := s.TodayAPISpend(ctx)
	require.NoError(t, err)
	assert.Zero(t, spend)

	require.NoError(t, s.AddAPICost(ctx, "grok", 1200, 300, 0.35))
	require.NoError(t, s.AddAPICost(ctx, "grok", 900, 250, 0.25))

	spend, err = s.TodayAPISpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.60, spend, 1e-9)
}

func TestRecordParseFailure(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.RecordParseFailure(context.Background(), "mkt-1", "malformed_json"))
}
