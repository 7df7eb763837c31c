package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

func TestSimulateExecutionTakerSiempreLlena(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	result := SimulateExecution(domain.ActionBuyYes, 0.60, 100, ExecTaker, 1000, rng)

	assert.True(t, result.Filled)
	assert.Equal(t, 1.0, result.FillProbability)
	// slippage = 0.005 + 0.01 * (100/1000) = 0.006, en contra del comprador YES.
	assert.InDelta(t, 0.006, result.Slippage, 1e-9)
	assert.InDelta(t, 0.606, result.ExecutedPrice, 1e-9)
}

func TestSimulateExecutionTakerNoEmpeoraAlOtroLado(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	result := SimulateExecution(domain.ActionBuyNo, 0.60, 100, ExecTaker, 1000, rng)

	assert.InDelta(t, 0.594, result.ExecutedPrice, 1e-9)
}

func TestSimulateExecutionSlippageSaturaConOrdenGrande(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Orden mayor que la profundidad: el ratio se capa en 1.
	result := SimulateExecution(domain.ActionBuyYes, 0.50, 5000, ExecTaker, 100, rng)

	assert.InDelta(t, 0.015, result.Slippage, 1e-9)
}

func TestSimulateExecutionPrecioClampado(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	result := SimulateExecution(domain.ActionBuyYes, 0.985, 5000, ExecTaker, 100, rng)

	assert.Equal(t, 0.99, result.ExecutedPrice)
}

func TestSimulateExecutionMakerProbabilistico(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	result := SimulateExecution(domain.ActionBuyYes, 0.50, 100, ExecMaker, 1000, rng)

	// En 0.5 la probabilidad de fill es máxima: 0.4 + 0.4*1 = 0.8.
	assert.InDelta(t, 0.8, result.FillProbability, 1e-9)
	assert.Equal(t, 0.0, result.Slippage)
	assert.Equal(t, 0.50, result.ExecutedPrice)
}

func TestSimulateExecutionMakerExtremoLlenaMenos(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	center := SimulateExecution(domain.ActionBuyYes, 0.50, 100, ExecMaker, 1000, rng)
	extreme := SimulateExecution(domain.ActionBuyYes, 0.95, 100, ExecMaker, 1000, rng)

	assert.Greater(t, center.FillProbability, extreme.FillProbability)
}

func TestExecuteTradeActualizaPortfolioYCreaRecord(t *testing.T) {
	store := newFakeStore()
	store.portfolio = domain.NewPortfolio(2000)
	executor := NewExecutor(store, nil, "paper")

	portfolio := store.portfolio
	c := domain.TradeCandidate{
		Market:              domain.Market{ID: "m1", Question: "BTC above 100k?", MarketType: domain.TypeCrypto15m},
		Tier:                1, // taker: fill garantizado
		Side:                domain.ActionBuyYes,
		MarketPrice:         0.60,
		PositionSize:        150,
		OrderbookDepth:      1000,
		AdjustedProbability: 0.70,
		AdjustedConfidence:  0.75,
		RawProbability:      0.72,
		RawConfidence:       0.80,
		CalculatedEdge:      0.08,
		FeeRate:             0.02,
		ResolutionHours:     0.25,
		KellyFraction:       0.25,
		ClusterID:           "cluster_1",
	}

	record, err := executor.ExecuteTrade(context.Background(), c, &portfolio, "exp_test_1", "grok-4")
	require.NoError(t, err)
	require.NotNil(t, record)

	// Portfolio: cash baja, posición registrada y persistida.
	assert.Equal(t, 1850.0, portfolio.CashBalance)
	require.Len(t, portfolio.OpenPositions, 1)
	assert.Equal(t, "m1", portfolio.OpenPositions[0].MarketID)
	assert.Equal(t, "cluster_1", portfolio.OpenPositions[0].ClusterID)
	assert.Equal(t, 1850.0, store.portfolio.CashBalance)

	// Record: campos crudos y ajustados preservados, sin resolución aún.
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "exp_test_1", record.ExperimentRun)
	assert.Equal(t, "grok-4", record.ModelUsed)
	assert.Equal(t, 0.72, record.RawProbability)
	assert.Equal(t, 0.70, record.AdjustedProbability)
	assert.Equal(t, domain.ActionBuyYes, record.Action)
	assert.False(t, record.IsResolved())

	stored, err := store.GetTrade(context.Background(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestExecuteTradeLiveSinOrderPlacerFalla(t *testing.T) {
	store := newFakeStore()
	executor := NewExecutor(store, nil, "live")
	portfolio := domain.NewPortfolio(2000)

	_, err := executor.ExecuteTrade(context.Background(), domain.TradeCandidate{}, &portfolio, "", "")
	require.Error(t, err)
}
