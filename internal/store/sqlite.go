package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trendlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	strategy   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, created_at);

CREATE TABLE IF NOT EXISTS results (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	instrument      TEXT NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	initial_capital TEXT NOT NULL DEFAULT '0',
	final_value     TEXT NOT NULL DEFAULT '0',
	total_return    TEXT NOT NULL DEFAULT '0',
	trades          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, instrument)
);

CREATE TABLE IF NOT EXISTS yearly_returns (
	run_id     TEXT NOT NULL,
	instrument TEXT NOT NULL,
	year       INTEGER NOT NULL,
	ret        TEXT NOT NULL,
	PRIMARY KEY (run_id, instrument, year)
);
`

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run with all of its results in a single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, strategy, created_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Strategy, rec.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, r := range rec.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (run_id, instrument, status, initial_capital, final_value, total_return, trades)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, r.Instrument, statusOK, r.InitialCapital.String(), r.FinalValue.String(),
			r.TotalReturn.String(), r.Trades); err != nil {
			return fmt.Errorf("inserting result %s: %w", r.Instrument, err)
		}
		for year, ret := range r.YearlyReturns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO yearly_returns (run_id, instrument, year, ret) VALUES (?, ?, ?, ?)`,
				rec.ID, r.Instrument, year, ret.String()); err != nil {
				return fmt.Errorf("inserting yearly return %s/%d: %w", r.Instrument, year, err)
			}
		}
	}

	for _, f := range rec.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (run_id, instrument, status, error) VALUES (?, ?, ?, ?)`,
			rec.ID, f.Instrument, statusFailed, f.Error); err != nil {
			return fmt.Errorf("inserting failure %s: %w", f.Instrument, err)
		}
	}

	return tx.Commit()
}

// LatestRun loads the newest run of strategy with its results and failures.
func (s *SQLiteStore) LatestRun(ctx context.Context, strategy string) (*RunRecord, error) {
	var (
		rec     = &RunRecord{Strategy: strategy}
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM runs WHERE strategy = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, strategy).Scan(&rec.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created).UTC()

	yearly, err := s.yearlyReturns(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument, status, error, initial_capital, final_value, total_return, trades
		 FROM results WHERE run_id = ? ORDER BY instrument`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			instrument, status, errText string
			initial, final, total       string
			trades                      int
		)
		if err := rows.Scan(&instrument, &status, &errText, &initial, &final, &total, &trades); err != nil {
			return nil, err
		}
		if status != statusOK {
			rec.Failures = append(rec.Failures, Failure{Instrument: instrument, Error: errText})
			continue
		}
		res := domain.BacktestResult{
			Instrument:    instrument,
			Strategy:      strategy,
			Trades:        trades,
			YearlyReturns: yearly[instrument],
		}
		if res.InitialCapital, err = decimal.NewFromString(initial); err != nil {
			return nil, fmt.Errorf("parsing initial_capital of %s: %w", instrument, err)
		}
		if res.FinalValue, err = decimal.NewFromString(final); err != nil {
			return nil, fmt.Errorf("parsing final_value of %s: %w", instrument, err)
		}
		if res.TotalReturn, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parsing total_return of %s: %w", instrument, err)
		}
		if res.YearlyReturns == nil {
			res.YearlyReturns = map[int]decimal.Decimal{}
		}
		rec.Results = append(rec.Results, res)
	}
	return rec, rows.Err()
}

func (s *SQLiteStore) yearlyReturns(ctx context.Context, runID string) (map[string]map[int]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument, year, ret FROM yearly_returns WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[int]decimal.Decimal)
	for rows.Next() {
		var (
			instrument, ret string
			year            int
		)
		if err := rows.Scan(&instrument, &year, &ret); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(ret)
		if err != nil {
			return nil, fmt.Errorf("parsing yearly return %s/%d: %w", instrument, year, err)
		}
		if out[instrument] == nil {
			out[instrument] = make(map[int]decimal.Decimal)
		}
		out[instrument][year] = d
	}
	return out, rows.Err()
}
