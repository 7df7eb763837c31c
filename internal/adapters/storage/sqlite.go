package storage

// sqlite.go — persistencia completa del bot en un único archivo SQLite.
//
// Estrategia:
//   - `trade_records`: UNA fila por decisión (ejecutadas y skips). Los campos
//     de resolución son NULL hasta que el mercado resuelve; se escriben todos
//     de golpe en UpdateTrade.
//   - Estado de aprendizaje (calibración, market types, signal trackers):
//     snapshots completos por clave, se reescriben en cada save. Son tablas
//     pequeñas (6 buckets, ~10 categorías, decenas de trackers).
//   - `portfolio`: singleton fila id=1 con las posiciones abiertas en JSON.
//   - `api_costs`: ledger append-only por día UTC, para el presupuesto de
//     Monk Mode y el resumen diario.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por decisión sobre un mercado, skips incluidos
CREATE TABLE IF NOT EXISTS trade_records (
    id               TEXT PRIMARY KEY,
    experiment_run   TEXT NOT NULL DEFAULT '',
    timestamp        DATETIME NOT NULL,
    model_used       TEXT NOT NULL DEFAULT '',

    market_id        TEXT NOT NULL,
    market_question  TEXT NOT NULL DEFAULT '',
    market_type      TEXT NOT NULL DEFAULT '',
    resolution_window REAL NOT NULL DEFAULT 0,
    tier             INTEGER NOT NULL DEFAULT 1,

    raw_probability  REAL NOT NULL DEFAULT 0,
    raw_confidence   REAL NOT NULL DEFAULT 0,
    reasoning        TEXT NOT NULL DEFAULT '',
    signal_tags      TEXT NOT NULL DEFAULT '[]',
    headline_only    INTEGER NOT NULL DEFAULT 0,

    calibration_adjustment   REAL NOT NULL DEFAULT 0,
    market_type_adjustment   REAL NOT NULL DEFAULT 0,
    signal_weight_adjustment REAL NOT NULL DEFAULT 0,
    adjusted_probability     REAL NOT NULL DEFAULT 0,
    adjusted_confidence      REAL NOT NULL DEFAULT 0,

    price_at_decision REAL NOT NULL DEFAULT 0,
    orderbook_depth   REAL NOT NULL DEFAULT 0,
    fee_rate          REAL NOT NULL DEFAULT 0,
    calculated_edge   REAL NOT NULL DEFAULT 0,
    trade_score       REAL NOT NULL DEFAULT 0,

    action            TEXT NOT NULL,
    skip_reason       TEXT NOT NULL DEFAULT '',
    position_size_usd REAL NOT NULL DEFAULT 0,
    kelly_fraction    REAL NOT NULL DEFAULT 0,
    cluster_id        TEXT NOT NULL DEFAULT '',

    actual_outcome  INTEGER,
    pnl             REAL,
    brier_raw       REAL,
    brier_adjusted  REAL,
    resolved_at     DATETIME,

    unrealized_adverse_move REAL,

    voided      INTEGER NOT NULL DEFAULT 0,
    void_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_ts     ON trade_records(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_trades_open   ON trade_records(action, actual_outcome);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trade_records(market_id);

-- Snapshot de los 6 buckets de calibración
CREATE TABLE IF NOT EXISTS calibration_state (
    lo         REAL NOT NULL,
    hi         REAL NOT NULL,
    alpha      REAL NOT NULL,
    beta       REAL NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (lo, hi)
);

CREATE TABLE IF NOT EXISTS market_type_performance (
    market_type        TEXT PRIMARY KEY,
    total_trades       INTEGER NOT NULL DEFAULT 0,
    total_pnl          REAL NOT NULL DEFAULT 0,
    brier_scores       TEXT NOT NULL DEFAULT '[]',
    total_observed     INTEGER NOT NULL DEFAULT 0,
    counterfactual_pnl REAL NOT NULL DEFAULT 0,
    updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_trackers (
    source_tier     TEXT NOT NULL,
    info_type       TEXT NOT NULL,
    market_type     TEXT NOT NULL,
    present_winning INTEGER NOT NULL DEFAULT 0,
    present_losing  INTEGER NOT NULL DEFAULT 0,
    absent_winning  INTEGER NOT NULL DEFAULT 0,
    absent_losing   INTEGER NOT NULL DEFAULT 0,
    updated_at      DATETIME NOT NULL,
    PRIMARY KEY (source_tier, info_type, market_type)
);

CREATE TABLE IF NOT EXISTS experiment_runs (
    run_id              TEXT PRIMARY KEY,
    started_at          DATETIME NOT NULL,
    ended_at            DATETIME,
    config_snapshot     TEXT NOT NULL DEFAULT '{}',
    description         TEXT NOT NULL DEFAULT '',
    model_used          TEXT NOT NULL DEFAULT '',
    include_in_learning INTEGER NOT NULL DEFAULT 1,
    total_trades        INTEGER NOT NULL DEFAULT 0,
    total_pnl           REAL NOT NULL DEFAULT 0,
    avg_brier           REAL NOT NULL DEFAULT 0,
    sharpe_ratio        REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS model_swaps (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp      DATETIME NOT NULL,
    old_model      TEXT NOT NULL,
    new_model      TEXT NOT NULL,
    reason         TEXT NOT NULL DEFAULT '',
    experiment_run TEXT NOT NULL DEFAULT ''
);

-- Singleton: siempre fila id=1
CREATE TABLE IF NOT EXISTS portfolio (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    cash_balance   REAL NOT NULL DEFAULT 0,
    total_equity   REAL NOT NULL DEFAULT 0,
    total_pnl      REAL NOT NULL DEFAULT 0,
    peak_equity    REAL NOT NULL DEFAULT 0,
    max_drawdown   REAL NOT NULL DEFAULT 0,
    open_positions TEXT NOT NULL DEFAULT '[]',
    updated_at     DATETIME NOT NULL
);

-- Ledger append-only de costes de API por día UTC
CREATE TABLE IF NOT EXISTS api_costs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    day        TEXT NOT NULL,
    service    TEXT NOT NULL,
    tokens_in  INTEGER NOT NULL DEFAULT 0,
    tokens_out INTEGER NOT NULL DEFAULT 0,
    cost_usd   REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_costs_day ON api_costs(day);

-- Respuestas del estimador que no parsearon, para inspección offline
CREATE TABLE IF NOT EXISTS parse_failures (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id  TEXT NOT NULL,
    cause      TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close cierra la conexión.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Trades

const tradeColumns = `id, experiment_run, timestamp, model_used,
	market_id, market_question, market_type, resolution_window, tier,
	raw_probability, raw_confidence, reasoning, signal_tags, headline_only,
	calibration_adjustment, market_type_adjustment, signal_weight_adjustment,
	adjusted_probability, adjusted_confidence,
	price_at_decision, orderbook_depth, fee_rate, calculated_edge, trade_score,
	action, skip_reason, position_size_usd, kelly_fraction, cluster_id,
	actual_outcome, pnl, brier_raw, brier_adjusted, resolved_at,
	unrealized_adverse_move, voided, void_reason`

// SaveTrade inserta (o reemplaza) un TradeRecord completo.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, r domain.TradeRecord) error {
	tags, err := json.Marshal(r.SignalTags)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO trade_records (`+tradeColumns+`)
		VALUES (?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?, ?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?)`,
		r.ID, r.ExperimentRun, r.Timestamp.UTC(), r.ModelUsed,
		r.MarketID, r.MarketQuestion, r.MarketType, r.ResolutionWindow, r.Tier,
		r.RawProbability, r.RawConfidence, r.Reasoning, string(tags), r.HeadlineOnly,
		r.CalibrationAdjustment, r.MarketTypeAdjustment, r.SignalWeightAdjustment,
		r.AdjustedProbability, r.AdjustedConfidence,
		r.PriceAtDecision, r.OrderbookDepth, r.FeeRate, r.CalculatedEdge, r.TradeScore,
		r.Action, r.SkipReason, r.PositionSizeUSD, r.KellyFraction, r.ClusterID,
		nullBool(r.ActualOutcome), nullFloat(r.PnL), nullFloat(r.BrierRaw), nullFloat(r.BrierAdjusted), nullTime(r.ResolvedAt),
		nullFloat(r.UnrealizedAdverseMove), r.Voided, r.VoidReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: %w", err)
	}
	return nil
}

// UpdateTrade reescribe la fila completa. Las escrituras son idempotentes,
// así que reutilizar el INSERT OR REPLACE mantiene una sola ruta de código.
func (s *SQLiteStorage) UpdateTrade(ctx context.Context, r domain.TradeRecord) error {
	if err := s.SaveTrade(ctx, r); err != nil {
		return fmt.Errorf("storage.UpdateTrade: %w", err)
	}
	return nil
}

// GetTrade devuelve un trade por ID, o nil si no existe.
func (s *SQLiteStorage) GetTrade(ctx context.Context, id string) (*domain.TradeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trade_records WHERE id = ?`, id)
	r, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetTrade: %w", err)
	}
	return &r, nil
}

// OpenTrades devuelve trades ejecutados sin resolver y no anulados.
func (s *SQLiteStorage) OpenTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trade_records
		WHERE action != 'SKIP' AND actual_outcome IS NULL AND voided = 0
		ORDER BY timestamp`)
}

// TodayTrades devuelve todos los records del día UTC actual.
func (s *SQLiteStorage) TodayTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trade_records
		WHERE timestamp >= ? ORDER BY timestamp`, start)
}

// WeekTrades devuelve los records de los últimos 7 días.
func (s *SQLiteStorage) WeekTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trade_records
		WHERE timestamp >= ? ORDER BY timestamp`, start)
}

// ResolvedTrades devuelve los trades resueltos en orden de timestamp, el
// orden que la recalculación necesita para reproducir el estado.
func (s *SQLiteStorage) ResolvedTrades(ctx context.Context, includeVoided bool) ([]domain.TradeRecord, error) {
	q := `SELECT ` + tradeColumns + ` FROM trade_records WHERE actual_outcome IS NOT NULL`
	if !includeVoided {
		q += ` AND voided = 0`
	}
	q += ` ORDER BY timestamp`
	return s.queryTrades(ctx, q)
}

func (s *SQLiteStorage) queryTrades(ctx context.Context, query string, args ...any) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryTrades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		r, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryTrades: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanner cubre tanto *sql.Row como *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(sc scanner) (domain.TradeRecord, error) {
	var (
		r       domain.TradeRecord
		tags    string
		outcome sql.NullBool
		pnl     sql.NullFloat64
		bRaw    sql.NullFloat64
		bAdj    sql.NullFloat64
		resAt   sql.NullTime
		adverse sql.NullFloat64
	)
	err := sc.Scan(
		&r.ID, &r.ExperimentRun, &r.Timestamp, &r.ModelUsed,
		&r.MarketID, &r.MarketQuestion, &r.MarketType, &r.ResolutionWindow, &r.Tier,
		&r.RawProbability, &r.RawConfidence, &r.Reasoning, &tags, &r.HeadlineOnly,
		&r.CalibrationAdjustment, &r.MarketTypeAdjustment, &r.SignalWeightAdjustment,
		&r.AdjustedProbability, &r.AdjustedConfidence,
		&r.PriceAtDecision, &r.OrderbookDepth, &r.FeeRate, &r.CalculatedEdge, &r.TradeScore,
		&r.Action, &r.SkipReason, &r.PositionSizeUSD, &r.KellyFraction, &r.ClusterID,
		&outcome, &pnl, &bRaw, &bAdj, &resAt,
		&adverse, &r.Voided, &r.VoidReason,
	)
	if err != nil {
		return r, err
	}

	if err := json.Unmarshal([]byte(tags), &r.SignalTags); err != nil {
		return r, fmt.Errorf("unmarshal tags for %s: %w", r.ID, err)
	}
	if outcome.Valid {
		v := outcome.Bool
		r.ActualOutcome = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		r.PnL = &v
	}
	if bRaw.Valid {
		v := bRaw.Float64
		r.BrierRaw = &v
	}
	if bAdj.Valid {
		v := bAdj.Float64
		r.BrierAdjusted = &v
	}
	if resAt.Valid {
		v := resAt.Time.UTC()
		r.ResolvedAt = &v
	}
	if adverse.Valid {
		v := adverse.Float64
		r.UnrealizedAdverseMove = &v
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Aprendizaje

// LoadCalibration devuelve los buckets persistidos (vacío si nunca se guardó).
func (s *SQLiteStorage) LoadCalibration(ctx context.Context) ([]domain.CalibrationBucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lo, hi, alpha, beta FROM calibration_state ORDER BY lo`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadCalibration: %w", err)
	}
	defer rows.Close()

	var out []domain.CalibrationBucket
	for rows.Next() {
		var b domain.CalibrationBucket
		if err := rows.Scan(&b.Lo, &b.Hi, &b.Alpha, &b.Beta); err != nil {
			return nil, fmt.Errorf("storage.LoadCalibration: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveCalibration reescribe el snapshot completo de buckets.
func (s *SQLiteStorage) SaveCalibration(ctx context.Context, buckets []domain.CalibrationBucket) error {
	now := time.Now().UTC()
	for _, b := range buckets {
		_, err := s.db.ExecContext(ctx, `INSERT INTO calibration_state (lo, hi, alpha, beta, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(lo, hi) DO UPDATE SET alpha=excluded.alpha, beta=excluded.beta, updated_at=excluded.updated_at`,
			b.Lo, b.Hi, b.Alpha, b.Beta, now)
		if err != nil {
			return fmt.Errorf("storage.SaveCalibration: %w", err)
		}
	}
	return nil
}

// LoadMarketTypes devuelve el rendimiento persistido por categoría.
func (s *SQLiteStorage) LoadMarketTypes(ctx context.Context) (map[string]*domain.MarketTypePerformance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market_type, total_trades, total_pnl, brier_scores, total_observed, counterfactual_pnl
		FROM market_type_performance`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadMarketTypes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.MarketTypePerformance)
	for rows.Next() {
		var (
			p      domain.MarketTypePerformance
			scores string
		)
		if err := rows.Scan(&p.MarketType, &p.TotalTrades, &p.TotalPnL, &scores, &p.TotalObserved, &p.CounterfactualPnL); err != nil {
			return nil, fmt.Errorf("storage.LoadMarketTypes: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &p.BrierScores); err != nil {
			return nil, fmt.Errorf("storage.LoadMarketTypes: unmarshal scores for %s: %w", p.MarketType, err)
		}
		out[p.MarketType] = &p
	}
	return out, rows.Err()
}

// SaveMarketTypes reescribe el snapshot por categoría.
func (s *SQLiteStorage) SaveMarketTypes(ctx context.Context, perfs map[string]*domain.MarketTypePerformance) error {
	now := time.Now().UTC()
	for mtype, p := range perfs {
		scores, err := json.Marshal(p.BrierScores)
		if err != nil {
			return fmt.Errorf("storage.SaveMarketTypes: marshal scores: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO market_type_performance
			(market_type, total_trades, total_pnl, brier_scores, total_observed, counterfactual_pnl, updated_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(market_type) DO UPDATE SET
			total_trades=excluded.total_trades, total_pnl=excluded.total_pnl,
			brier_scores=excluded.brier_scores, total_observed=excluded.total_observed,
			counterfactual_pnl=excluded.counterfactual_pnl, updated_at=excluded.updated_at`,
			mtype, p.TotalTrades, p.TotalPnL, string(scores), p.TotalObserved, p.CounterfactualPnL, now)
		if err != nil {
			return fmt.Errorf("storage.SaveMarketTypes: %w", err)
		}
	}
	return nil
}

// LoadSignalTrackers devuelve todos los trackers persistidos.
func (s *SQLiteStorage) LoadSignalTrackers(ctx context.Context) ([]domain.SignalTracker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_tier, info_type, market_type,
		present_winning, present_losing, absent_winning, absent_losing
		FROM signal_trackers ORDER BY market_type, source_tier, info_type`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadSignalTrackers: %w", err)
	}
	defer rows.Close()

	var out []domain.SignalTracker
	for rows.Next() {
		var t domain.SignalTracker
		if err := rows.Scan(&t.SourceTier, &t.InfoType, &t.MarketType,
			&t.PresentWinning, &t.PresentLosing, &t.AbsentWinning, &t.AbsentLosing); err != nil {
			return nil, fmt.Errorf("storage.LoadSignalTrackers: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSignalTrackers reescribe el snapshot de trackers.
func (s *SQLiteStorage) SaveSignalTrackers(ctx context.Context, trackers []domain.SignalTracker) error {
	now := time.Now().UTC()
	for _, t := range trackers {
		_, err := s.db.ExecContext(ctx, `INSERT INTO signal_trackers
			(source_tier, info_type, market_type, present_winning, present_losing, absent_winning, absent_losing, updated_at)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(source_tier, info_type, market_type) DO UPDATE SET
			present_winning=excluded.present_winning, present_losing=excluded.present_losing,
			absent_winning=excluded.absent_winning, absent_losing=excluded.absent_losing,
			updated_at=excluded.updated_at`,
			t.SourceTier, t.InfoType, t.MarketType,
			t.PresentWinning, t.PresentLosing, t.AbsentWinning, t.AbsentLosing, now)
		if err != nil {
			return fmt.Errorf("storage.SaveSignalTrackers: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Experimentos

// SaveExperiment inserta un run nuevo y cierra cualquier run activo anterior:
// el invariante es exactamente un run con ended_at nulo.
func (s *SQLiteStorage) SaveExperiment(ctx context.Context, run domain.ExperimentRun) error {
	snapshot, err := json.Marshal(run.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("storage.SaveExperiment: marshal snapshot: %w", err)
	}

	if run.EndedAt == nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE experiment_runs SET ended_at = ? WHERE ended_at IS NULL`, run.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("storage.SaveExperiment: cerrando run anterior: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO experiment_runs
		(run_id, started_at, ended_at, config_snapshot, description, model_used, include_in_learning,
		 total_trades, total_pnl, avg_brier, sharpe_ratio)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UTC(), nullTime(run.EndedAt), string(snapshot), run.Description,
		run.ModelUsed, run.IncludeInLearning,
		run.TotalTrades, run.TotalPnL, run.AvgBrier, run.SharpeRatio)
	if err != nil {
		return fmt.Errorf("storage.SaveExperiment: %w", err)
	}
	return nil
}

// CurrentExperiment devuelve el run activo, o nil si no lo hay.
func (s *SQLiteStorage) CurrentExperiment(ctx context.Context) (*domain.ExperimentRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, ended_at, config_snapshot, description,
		model_used, include_in_learning, total_trades, total_pnl, avg_brier, sharpe_ratio
		FROM experiment_runs WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`)

	run, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.CurrentExperiment: %w", err)
	}
	return &run, nil
}

// EndExperiment cierra un run con sus agregados finales.
func (s *SQLiteStorage) EndExperiment(ctx context.Context, runID string, ended time.Time, stats domain.ExperimentRun) error {
	_, err := s.db.ExecContext(ctx, `UPDATE experiment_runs
		SET ended_at=?, total_trades=?, total_pnl=?, avg_brier=?, sharpe_ratio=?
		WHERE run_id=?`,
		ended.UTC(), stats.TotalTrades, stats.TotalPnL, stats.AvgBrier, stats.SharpeRatio, runID)
	if err != nil {
		return fmt.Errorf("storage.EndExperiment: %w", err)
	}
	return nil
}

// SaveModelSwap registra un evento de cambio de modelo.
func (s *SQLiteStorage) SaveModelSwap(ctx context.Context, event domain.ModelSwapEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO model_swaps (timestamp, old_model, new_model, reason, experiment_run)
		VALUES (?,?,?,?,?)`,
		event.Timestamp.UTC(), event.OldModel, event.NewModel, event.Reason, event.ExperimentRun)
	if err != nil {
		return fmt.Errorf("storage.SaveModelSwap: %w", err)
	}
	return nil
}

func scanExperiment(sc scanner) (domain.ExperimentRun, error) {
	var (
		run      domain.ExperimentRun
		ended    sql.NullTime
		snapshot string
	)
	err := sc.Scan(&run.ID, &run.StartedAt, &ended, &snapshot, &run.Description,
		&run.ModelUsed, &run.IncludeInLearning,
		&run.TotalTrades, &run.TotalPnL, &run.AvgBrier, &run.SharpeRatio)
	if err != nil {
		return run, err
	}
	if ended.Valid {
		v := ended.Time.UTC()
		run.EndedAt = &v
	}
	if err := json.Unmarshal([]byte(snapshot), &run.ConfigSnapshot); err != nil {
		return run, fmt.Errorf("unmarshal snapshot for %s: %w", run.ID, err)
	}
	return run, nil
}

// ---------------------------------------------------------------------------
// Portfolio y costes

// LoadPortfolio devuelve el portfolio persistido (cero si nunca se guardó:
// el caller decide el bankroll inicial).
func (s *SQLiteStorage) LoadPortfolio(ctx context.Context) (domain.Portfolio, error) {
	var (
		p         domain.Portfolio
		positions string
	)
	row := s.db.QueryRowContext(ctx, `SELECT cash_balance, total_equity, total_pnl, peak_equity, max_drawdown, open_positions
		FROM portfolio WHERE id = 1`)
	err := row.Scan(&p.CashBalance, &p.TotalEquity, &p.TotalPnL, &p.PeakEquity, &p.MaxDrawdown, &positions)
	if err == sql.ErrNoRows {
		return domain.Portfolio{}, nil
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("storage.LoadPortfolio: %w", err)
	}
	if err := json.Unmarshal([]byte(positions), &p.OpenPositions); err != nil {
		return domain.Portfolio{}, fmt.Errorf("storage.LoadPortfolio: unmarshal positions: %w", err)
	}
	return p, nil
}

// SavePortfolio reescribe el singleton.
func (s *SQLiteStorage) SavePortfolio(ctx context.Context, p domain.Portfolio) error {
	positions, err := json.Marshal(p.OpenPositions)
	if err != nil {
		return fmt.Errorf("storage.SavePortfolio: marshal positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO portfolio (id, cash_balance, total_equity, total_pnl, peak_equity, max_drawdown, open_positions, updated_at)
		VALUES (1,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		cash_balance=excluded.cash_balance, total_equity=excluded.total_equity,
		total_pnl=excluded.total_pnl, peak_equity=excluded.peak_equity,
		max_drawdown=excluded.max_drawdown, open_positions=excluded.open_positions,
		updated_at=excluded.updated_at`,
		p.CashBalance, p.TotalEquity, p.TotalPnL, p.PeakEquity, p.MaxDrawdown, string(positions), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SavePortfolio: %w", err)
	}
	return nil
}

// AddAPICost acumula el coste de una llamada en el ledger del día UTC.
func (s *SQLiteStorage) AddAPICost(ctx context.Context, service string, tokensIn, tokensOut int, costUSD float64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO api_costs (day, service, tokens_in, tokens_out, cost_usd, created_at)
		VALUES (?,?,?,?,?,?)`,
		now.Format("2006-01-02"), service, tokensIn, tokensOut, costUSD, now)
	if err != nil {
		return fmt.Errorf("storage.AddAPICost: %w", err)
	}
	return nil
}

// TodayAPISpend devuelve el gasto total de API del día UTC actual.
func (s *SQLiteStorage) TodayAPISpend(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(cost_usd) FROM api_costs WHERE day = ?`,
		time.Now().UTC().Format("2006-01-02")).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage.TodayAPISpend: %w", err)
	}
	return total.Float64, nil
}

// RecordParseFailure registra una respuesta del estimador que no parseó.
func (s *SQLiteStorage) RecordParseFailure(ctx context.Context, marketID, cause string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO parse_failures (market_id, cause, created_at) VALUES (?,?,?)`,
		marketID, cause, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.RecordParseFailure: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers de NULL

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
