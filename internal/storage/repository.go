package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRunSQL = `INSERT INTO analysis_runs (
        utility,
        rate_code,
        confidence,
        determinants_version,
        tou_version,
        load_version,
        meter_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	upsertDeterminantSQL = `INSERT INTO cycle_determinants (
        run_id,
        meter_id,
        cycle_label,
        cycle_start,
        cycle_end,
        energy_kwh,
        demand_max_kw,
        billing_demand_kw,
        coverage_pct,
        confidence,
        trail
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (run_id, meter_id, cycle_start, cycle_end) DO UPDATE
    SET
        cycle_label       = EXCLUDED.cycle_label,
        energy_kwh        = EXCLUDED.energy_kwh,
        demand_max_kw     = EXCLUDED.demand_max_kw,
        billing_demand_kw = EXCLUDED.billing_demand_kw,
        coverage_pct      = EXCLUDED.coverage_pct,
        confidence        = EXCLUDED.confidence,
        trail             = EXCLUDED.trail;`

	insertMatchSQL = `INSERT INTO reconciliation_matches (
        run_id,
        meter_id,
        cycle_label,
        is_reconcilable,
        skip_reason,
        selected,
        delta_demand_pct,
        delta_energy_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listRecentDeterminantsSQL = `SELECT
        id,
        run_id,
        meter_id,
        cycle_label,
        cycle_start,
        cycle_end,
        energy_kwh,
        demand_max_kw,
        billing_demand_kw,
        coverage_pct,
        confidence,
        trail,
        created_at
    FROM cycle_determinants
    ORDER BY created_at DESC, cycle_end DESC
    LIMIT $1;`

	listDeterminantsBetweenSQL = `SELECT
        id,
        run_id,
        meter_id,
        cycle_label,
        cycle_start,
        cycle_end,
        energy_kwh,
        demand_max_kw,
        billing_demand_kw,
        coverage_pct,
        confidence,
        trail,
        created_at
    FROM cycle_determinants
    WHERE cycle_end >= $1
      AND cycle_end < $2
    ORDER BY cycle_end;`

	countRunsSQL = `SELECT COUNT(*) FROM analysis_runs;`
)

// RunStore defines operations for analysis run persistence.
type RunStore interface {
	InsertRun(ctx context.Context, run AnalysisRun) (AnalysisRun, error)
	CountRuns(ctx context.Context) (int64, error)
}

// DeterminantStore defines operations for determinant persistence.
type DeterminantStore interface {
	UpsertDeterminant(ctx context.Context, row DeterminantRow) error
	InsertMatch(ctx context.Context, row MatchRow) error
	ListRecentDeterminants(ctx context.Context, limit int) ([]DeterminantRow, error)
	ListDeterminantsBetween(ctx context.Context, from, to time.Time) ([]DeterminantRow, error)
}

// Store aggregates access to runs, determinants, and matches.
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

// InsertRun persists a new analysis run and returns it with id and timestamp.
func (s *Store) InsertRun(ctx context.Context, run AnalysisRun) (AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return run, err
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.Utility,
		run.RateCode,
		run.Confidence.String(),
		run.DeterminantsVersion,
		run.TouVersion,
		run.LoadVersion,
		run.MeterCount,
	)
	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		return run, fmt.Errorf("insert analysis run: %w", err)
	}
	return run, nil
}

// CountRuns returns the total number of analysis runs.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := pool.QueryRow(ctx, countRunsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

// UpsertDeterminant persists or updates a cycle determinant.
func (s *Store) UpsertDeterminant(ctx context.Context, row DeterminantRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertDeterminantSQL,
		row.RunID,
		row.MeterID,
		row.CycleLabel,
		row.CycleStart,
		row.CycleEnd,
		decimalOrNil(row.EnergyKWh),
		decimalOrNil(row.DemandMaxKW),
		decimalOrNil(row.BillingDemandKW),
		row.CoveragePct.String(),
		row.Confidence.String(),
		[]byte(row.Trail),
	)
	if execErr != nil {
		return fmt.Errorf("upsert determinant: %w", execErr)
	}
	return nil
}

// InsertMatch persists a reconciliation comparison.
func (s *Store) InsertMatch(ctx context.Context, row MatchRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var skip interface{}
	if row.SkipReason != nil {
		skip = *row.SkipReason
	}

	_, execErr := pool.Exec(ctx, insertMatchSQL,
		row.RunID,
		row.MeterID,
		row.CycleLabel,
		row.IsReconcilable,
		skip,
		row.Selected,
		decimalOrNil(row.DeltaDemandPct),
		decimalOrNil(row.DeltaEnergyPct),
	)
	if execErr != nil {
		return fmt.Errorf("insert reconciliation match: %w", execErr)
	}
	return nil
}

// ListRecentDeterminants lists the most recently stored determinants.
func (s *Store) ListRecentDeterminants(ctx context.Context, limit int) ([]DeterminantRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDeterminantsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent determinants: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DeterminantRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanDeterminant(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListDeterminantsBetween lists determinants whose cycle end falls in the window.
func (s *Store) ListDeterminantsBetween(ctx context.Context, from, to time.Time) ([]DeterminantRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeterminantsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list determinants between: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DeterminantRow, 0)
	for rows.Next() {
		row, scanErr := scanDeterminant(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanDeterminant(rows pgx.Rows) (DeterminantRow, error) {
	var (
		row       DeterminantRow
		energy    *string
		demandMax *string
		billing   *string
		coverage  string
		conf      string
		trail     []byte
	)
	if err := rows.Scan(
		&row.ID,
		&row.RunID,
		&row.MeterID,
		&row.CycleLabel,
		&row.CycleStart,
		&row.CycleEnd,
		&energy,
		&demandMax,
		&billing,
		&coverage,
		&conf,
		&trail,
		&row.CreatedAt,
	); err != nil {
		return row, fmt.Errorf("scan determinant: %w", err)
	}

	var err error
	if row.EnergyKWh, err = parseDecimalPtr(energy); err != nil {
		return row, err
	}
	if row.DemandMaxKW, err = parseDecimalPtr(demandMax); err != nil {
		return row, err
	}
	if row.BillingDemandKW, err = parseDecimalPtr(billing); err != nil {
		return row, err
	}
	if row.CoveragePct, err = decimal.NewFromString(coverage); err != nil {
		return row, fmt.Errorf("parse coverage: %w", err)
	}
	if row.Confidence, err = decimal.NewFromString(conf); err != nil {
		return row, fmt.Errorf("parse confidence: %w", err)
	}
	row.Trail = trail
	return row, nil
}

func parseDecimalPtr(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	return &d, nil
}

func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

var _ RunStore = (*Store)(nil)
var _ DeterminantStore = (*Store)(nil)
