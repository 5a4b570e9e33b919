package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vault-risk-backtest/internal/risk"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS analysis_runs (
        id                 BIGSERIAL PRIMARY KEY,
        started_at         TIMESTAMPTZ NOT NULL,
        finished_at        TIMESTAMPTZ,
        collateral_type    TEXT NOT NULL,
        window_blocks      BIGINT NOT NULL,
        blocks             INTEGER NOT NULL DEFAULT 0,
        failed_blocks      INTEGER NOT NULL DEFAULT 0,
        pairs              INTEGER NOT NULL DEFAULT 0,
        failed_pairs       INTEGER NOT NULL DEFAULT 0,
        valid_points       INTEGER NOT NULL DEFAULT 0,
        deviation_sum      NUMERIC NOT NULL DEFAULT 0,
        mean_deviation_pct NUMERIC,
        status             TEXT NOT NULL,
        error              TEXT,
        created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS pair_metrics (
        run_id            BIGINT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
        pair_index        INTEGER NOT NULL,
        first_block       TEXT NOT NULL,
        second_block      TEXT NOT NULL,
        status            TEXT NOT NULL,
        price_drop_ratio  NUMERIC,
        estimated         NUMERIC NOT NULL,
        realized          NUMERIC NOT NULL,
        deviation         NUMERIC,
        vaults            INTEGER NOT NULL,
        liquidated_vaults INTEGER NOT NULL,
        missing_second    INTEGER NOT NULL,
        error             TEXT,
        PRIMARY KEY (run_id, pair_index)
    );`

	insertRunSQL = `INSERT INTO analysis_runs (
        started_at,
        collateral_type,
        window_blocks,
        blocks,
        failed_blocks,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	finishRunSQL = `UPDATE analysis_runs
    SET
        finished_at        = $2,
        pairs              = $3,
        failed_pairs       = $4,
        valid_points       = $5,
        deviation_sum      = $6,
        mean_deviation_pct = $7,
        status             = $8,
        error              = $9
    WHERE id = $1;`

	runColumns = `id,
        started_at,
        finished_at,
        collateral_type,
        window_blocks,
        blocks,
        failed_blocks,
        pairs,
        failed_pairs,
        valid_points,
        deviation_sum::TEXT,
        mean_deviation_pct::TEXT,
        status,
        error,
        created_at`

	listRecentRunsSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    ORDER BY id DESC
    LIMIT $1;`

	findRunSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE id = $1;`

	latestRunSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE status = 'complete'
    ORDER BY id DESC
    LIMIT 1;`

	insertPairSQL = `INSERT INTO pair_metrics (
        run_id,
        pair_index,
        first_block,
        second_block,
        status,
        price_drop_ratio,
        estimated,
        realized,
        deviation,
        vaults,
        liquidated_vaults,
        missing_second,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (run_id, pair_index) DO UPDATE
    SET
        status            = EXCLUDED.status,
        price_drop_ratio  = EXCLUDED.price_drop_ratio,
        estimated         = EXCLUDED.estimated,
        realized          = EXCLUDED.realized,
        deviation         = EXCLUDED.deviation,
        vaults            = EXCLUDED.vaults,
        liquidated_vaults = EXCLUDED.liquidated_vaults,
        missing_second    = EXCLUDED.missing_second,
        error             = EXCLUDED.error;`

	listPairMetricsSQL = `SELECT
        run_id,
        pair_index,
        first_block,
        second_block,
        status,
        price_drop_ratio::TEXT,
        estimated::TEXT,
        realized::TEXT,
        deviation::TEXT,
        vaults,
        liquidated_vaults,
        missing_second,
        error
    FROM pair_metrics
    WHERE run_id = $1
      AND ($2 = '' OR status = $2)
    ORDER BY pair_index;`
)

// RunStore defines operations for analysis run persistence.
type RunStore interface {
	EnsureSchema(ctx context.Context) error
	CreateRun(ctx context.Context, run RunRecord) (RunRecord, error)
	FinishRun(ctx context.Context, run RunRecord) error
	FindRun(ctx context.Context, id int64) (RunRecord, error)
	LatestRun(ctx context.Context) (RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// PairMetricStore defines operations for per-pair metric persistence.
type PairMetricStore interface {
	InsertPairMetrics(ctx context.Context, records []PairRecord) error
	ListPairMetrics(ctx context.Context, runID int64, status string) ([]PairRecord, error)
}

// Store aggregates access to runs and pair metrics.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables used by the store if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// CreateRun inserts a run in the running state and returns it with its id.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	row := pool.QueryRow(ctx, insertRunSQL,
		run.StartedAt,
		run.CollateralType,
		run.WindowBlocks,
		run.Blocks,
		run.FailedBlocks,
		run.Status,
	)
	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return RunRecord{}, fmt.Errorf("create run: %w", scanErr)
	}
	return run, nil
}

// FinishRun stores the final counters and status of a run.
func (s *Store) FinishRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var mean interface{}
	if run.MeanDeviationPct != nil {
		mean = run.MeanDeviationPct.String()
	}
	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	cmdTag, execErr := pool.Exec(ctx, finishRunSQL,
		run.ID,
		finished,
		run.Pairs,
		run.FailedPairs,
		run.ValidPoints,
		run.DeviationSum.String(),
		mean,
		run.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("finish run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindRun loads a run by id.
func (s *Store) FindRun(ctx context.Context, id int64) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}
	rows, queryErr := pool.Query(ctx, findRunSQL, id)
	if queryErr != nil {
		return RunRecord{}, fmt.Errorf("find run: %w", queryErr)
	}
	return collectOneRun(rows)
}

// LatestRun loads the most recent completed run.
func (s *Store) LatestRun(ctx context.Context) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}
	rows, queryErr := pool.Query(ctx, latestRunSQL)
	if queryErr != nil {
		return RunRecord{}, fmt.Errorf("latest run: %w", queryErr)
	}
	return collectOneRun(rows)
}

// ListRecentRuns lists the most recent runs ordered by descending id.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// InsertPairMetrics upserts a batch of pair records in one round trip.
func (s *Store) InsertPairMetrics(ctx context.Context, records []PairRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertPairSQL,
			rec.RunID,
			rec.PairIndex,
			rec.FirstBlock,
			rec.SecondBlock,
			rec.Status,
			nullableDecimal(rec.PriceDropRatio),
			rec.Estimated.String(),
			rec.Realized.String(),
			nullableDecimal(rec.Deviation),
			rec.Vaults,
			rec.LiquidatedVaults,
			rec.MissingSecond,
			rec.Error,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range records {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert pair metric %d: %w", records[i].PairIndex, execErr)
		}
	}
	return nil
}

// ListPairMetrics lists the pair records of a run; an empty status lists all.
func (s *Store) ListPairMetrics(ctx context.Context, runID int64, status string) ([]PairRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPairMetricsSQL, runID, status)
	if queryErr != nil {
		return nil, fmt.Errorf("list pair metrics: %w", queryErr)
	}
	defer rows.Close()

	records := make([]PairRecord, 0)
	for rows.Next() {
		rec, scanErr := scanPair(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// Recorder adapts a PairMetricStore to record the pairs of one run.
type Recorder struct {
	store PairMetricStore
	runID int64
}

// NewRecorder binds a store to a run.
func NewRecorder(store PairMetricStore, runID int64) *Recorder {
	return &Recorder{store: store, runID: runID}
}

// RecordPairs persists a batch of pair metrics.
func (r *Recorder) RecordPairs(ctx context.Context, metrics []risk.PairMetrics) error {
	records := make([]PairRecord, 0, len(metrics))
	for _, m := range metrics {
		records = append(records, NewPairRecord(r.runID, m))
	}
	return r.store.InsertPairMetrics(ctx, records)
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func collectOneRun(rows pgx.Rows) (RunRecord, error) {
	defer rows.Close()
	if !rows.Next() {
		if rows.Err() != nil {
			return RunRecord{}, rows.Err()
		}
		return RunRecord{}, pgx.ErrNoRows
	}
	return scanRun(rows)
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run          RunRecord
		finishedAt   sql.NullTime
		deviationStr string
		meanStr      sql.NullString
		errMsg       sql.NullString
	)

	if err := rows.Scan(
		&run.ID,
		&run.StartedAt,
		&finishedAt,
		&run.CollateralType,
		&run.WindowBlocks,
		&run.Blocks,
		&run.FailedBlocks,
		&run.Pairs,
		&run.FailedPairs,
		&run.ValidPoints,
		&deviationStr,
		&meanStr,
		&run.Status,
		&errMsg,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}

	deviation, err := decimal.NewFromString(deviationStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse deviation sum: %w", err)
	}
	run.DeviationSum = deviation

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if meanStr.Valid {
		mean, err := decimal.NewFromString(meanStr.String)
		if err != nil {
			return RunRecord{}, fmt.Errorf("parse mean deviation: %w", err)
		}
		run.MeanDeviationPct = &mean
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	return run, nil
}

func scanPair(rows pgx.Rows) (PairRecord, error) {
	var (
		rec          PairRecord
		ratioStr     sql.NullString
		estimatedStr string
		realizedStr  string
		deviationStr sql.NullString
		errMsg       sql.NullString
	)

	if err := rows.Scan(
		&rec.RunID,
		&rec.PairIndex,
		&rec.FirstBlock,
		&rec.SecondBlock,
		&rec.Status,
		&ratioStr,
		&estimatedStr,
		&realizedStr,
		&deviationStr,
		&rec.Vaults,
		&rec.LiquidatedVaults,
		&rec.MissingSecond,
		&errMsg,
	); err != nil {
		return PairRecord{}, err
	}

	var err error
	if rec.Estimated, err = decimal.NewFromString(estimatedStr); err != nil {
		return PairRecord{}, fmt.Errorf("parse estimated: %w", err)
	}
	if rec.Realized, err = decimal.NewFromString(realizedStr); err != nil {
		return PairRecord{}, fmt.Errorf("parse realized: %w", err)
	}
	if rec.PriceDropRatio, err = parseNullable(ratioStr); err != nil {
		return PairRecord{}, fmt.Errorf("parse price drop ratio: %w", err)
	}
	if rec.Deviation, err = parseNullable(deviationStr); err != nil {
		return PairRecord{}, fmt.Errorf("parse deviation: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	return rec, nil
}

func parseNullable(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ RunStore        = (*Store)(nil)
	_ PairMetricStore = (*Store)(nil)
)
