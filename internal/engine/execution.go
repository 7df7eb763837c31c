package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

// Tipos de ejecución simulada.
const (
	ExecTaker = "taker"
	ExecMaker = "maker"
)

// SimulateExecution simula el fill de una orden con slippage realista.
//
// Taker: siempre llena; el slippage crece con el tamaño relativo a la
// profundidad del libro (0.5% base + hasta 1% extra) y empeora el precio
// en la dirección de la orden.
// Maker: sin slippage, pero el fill es probabilístico; los precios cerca
// de 0.5 llenan más (libro más activo).
func SimulateExecution(side string, price, sizeUSD float64, execType string, orderbookDepth float64, rng *rand.Rand) domain.ExecutionResult {
	if execType == ExecMaker {
		fillProb := 0.4 + 0.4*(1-abs(price-0.5))
		return domain.ExecutionResult{
			ExecutedPrice:   price,
			Slippage:        0,
			FillProbability: fillProb,
			Filled:          rng.Float64() < fillProb,
		}
	}

	depth := orderbookDepth
	if depth < 1 {
		depth = 1
	}
	ratio := sizeUSD / depth
	if ratio > 1 {
		ratio = 1
	}
	slippage := 0.005 + 0.01*ratio

	executed := price - slippage
	if strings.Contains(strings.ToUpper(side), "YES") {
		executed = price + slippage
	}
	if executed < 0.01 {
		executed = 0.01
	}
	if executed > 0.99 {
		executed = 0.99
	}

	return domain.ExecutionResult{
		ExecutedPrice:   executed,
		Slippage:        slippage,
		FillProbability: 1.0,
		Filled:          true,
	}
}

// Executor ejecuta candidatos (simulado en paper, orden real en live),
// actualiza el portfolio y crea el TradeRecord.
type Executor struct {
	store       ports.Storage
	orders      ports.OrderPlacer // solo live; nil en paper
	environment string
	rng         *rand.Rand
	now         func() time.Time
}

// NewExecutor crea el ejecutor. En paper orders puede ser nil.
func NewExecutor(store ports.Storage, orders ports.OrderPlacer, environment string) *Executor {
	return &Executor{
		store:       store,
		orders:      orders,
		environment: environment,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteTrade ejecuta un candidato y devuelve el TradeRecord creado, o
// (nil, nil) si la orden maker no llenó. Muta el portfolio del caller:
// resta cash y añade la posición.
func (e *Executor) ExecuteTrade(
	ctx context.Context,
	candidate domain.TradeCandidate,
	portfolio *domain.Portfolio,
	experimentRun, modelUsed string,
) (*domain.TradeRecord, error) {
	var result domain.ExecutionResult

	if e.environment == "live" {
		if e.orders == nil {
			return nil, fmt.Errorf("engine.ExecuteTrade: entorno live sin OrderPlacer")
		}
		if err := e.orders.PlaceOrder(ctx, candidate.Market.ID, candidate.Side, candidate.MarketPrice, candidate.PositionSize); err != nil {
			return nil, fmt.Errorf("engine.ExecuteTrade: orden live en %s: %w", candidate.Market.ID, err)
		}
		result = domain.ExecutionResult{
			ExecutedPrice:   candidate.MarketPrice,
			FillProbability: 1.0,
			Filled:          true,
		}
	} else {
		// Tier 1 entra como taker (la ventana es amplia), tier 2 como maker
		// (la velocidad del mercado de 15min castiga cruzar el spread).
		execType := ExecTaker
		if candidate.Tier == 2 {
			execType = ExecMaker
		}
		result = SimulateExecution(candidate.Side, candidate.MarketPrice, candidate.PositionSize, execType, candidate.OrderbookDepth, e.rng)
	}

	if !result.Filled {
		slog.Info("order not filled", "market_id", candidate.Market.ID, "side", candidate.Side)
		return nil, nil
	}

	portfolio.CashBalance -= candidate.PositionSize
	portfolio.OpenPositions = append(portfolio.OpenPositions, domain.Position{
		MarketID:     candidate.Market.ID,
		Side:         candidate.Side,
		EntryPrice:   result.ExecutedPrice,
		SizeUSD:      candidate.PositionSize,
		CurrentValue: candidate.PositionSize,
		ClusterID:    candidate.ClusterID,
	})
	if err := e.store.SavePortfolio(ctx, *portfolio); err != nil {
		return nil, fmt.Errorf("engine.ExecuteTrade: guardando portfolio: %w", err)
	}

	record := domain.TradeRecord{
		ID:            uuid.NewString(),
		ExperimentRun: experimentRun,
		Timestamp:     e.now(),
		ModelUsed:     modelUsed,

		MarketID:         candidate.Market.ID,
		MarketQuestion:   candidate.Market.Question,
		MarketType:       candidate.Market.MarketType,
		ResolutionWindow: candidate.ResolutionHours,
		Tier:             candidate.Tier,

		RawProbability: candidate.RawProbability,
		RawConfidence:  candidate.RawConfidence,
		Reasoning:      candidate.Reasoning,
		SignalTags:     candidate.SignalTags,
		HeadlineOnly:   candidate.HeadlineOnly,

		CalibrationAdjustment:  candidate.CalibrationAdjustment,
		MarketTypeAdjustment:   candidate.MarketTypeAdjustment,
		SignalWeightAdjustment: candidate.SignalWeightAdjustment,
		AdjustedProbability:    candidate.AdjustedProbability,
		AdjustedConfidence:     candidate.AdjustedConfidence,

		PriceAtDecision: candidate.MarketPrice,
		OrderbookDepth:  candidate.OrderbookDepth,
		FeeRate:         candidate.FeeRate,
		CalculatedEdge:  candidate.CalculatedEdge,
		TradeScore:      candidate.Score,

		Action:          candidate.Side,
		PositionSizeUSD: candidate.PositionSize,
		KellyFraction:   candidate.KellyFraction,
		ClusterID:       candidate.ClusterID,
	}

	if err := e.store.SaveTrade(ctx, record); err != nil {
		return nil, fmt.Errorf("engine.ExecuteTrade: guardando trade: %w", err)
	}

	slog.Info("trade executed",
		"market_id", candidate.Market.ID,
		"side", candidate.Side,
		"size", candidate.PositionSize,
		"price", result.ExecutedPrice,
		"slippage", result.Slippage,
	)
	return &record, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
