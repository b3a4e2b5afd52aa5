package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/tsengine/go-marketsync/internal/models"
)

// DuckDBStore persists series rows in a DuckDB database file. All entities
// share one table keyed by (symbol, interval, timestamp). DuckDB allows a
// single writer, so the connection pool is pinned to one connection.
type DuckDBStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS series (
	symbol VARCHAR NOT NULL,
	interval VARCHAR NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	open DOUBLE NOT NULL,
	high DOUBLE NOT NULL,
	low DOUBLE NOT NULL,
	close DOUBLE NOT NULL,
	volume DOUBLE NOT NULL,
	PRIMARY KEY (symbol, interval, timestamp),
	CHECK (open >= 0 AND high >= 0 AND low >= 0 AND close >= 0),
	CHECK (high >= low),
	CHECK (volume >= 0)
)`

// NewDuckDBStore opens or creates the database at dbPath and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if dbPath == "" {
		return nil, NewStorageError("open", "", "", fmt.Errorf("database path is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open database: %w", err))
	}

	// DuckDB requires a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
		db.Close()
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to create schema: %w", err))
	}

	logger.Debug("duckdb store ready", slog.String("path", dbPath))
	return &DuckDBStore{db: db, logger: logger}, nil
}

// Load returns the entity's rows ordered by timestamp.
func (s *DuckDBStore) Load(ctx context.Context, symbol, interval string) (models.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM series
		WHERE symbol = ? AND interval = ?
		ORDER BY timestamp`,
		symbol, interval)
	if err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}
	defer rows.Close()

	series := models.Series{}
	for rows.Next() {
		var (
			ts                           time.Time
			open, high, low, close_, vol float64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close_, &vol); err != nil {
			return nil, NewStorageError("load", symbol, interval, err)
		}
		series = append(series, models.Record{
			Timestamp: ts.UTC(),
			Open:      decimal.NewFromFloat(open).String(),
			High:      decimal.NewFromFloat(high).String(),
			Low:       decimal.NewFromFloat(low).String(),
			Close:     decimal.NewFromFloat(close_).String(),
			Volume:    decimal.NewFromFloat(vol).String(),
			Symbol:    symbol,
			Interval:  interval,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}
	return series, nil
}

// LastTimestamp reports the newest stored timestamp for the entity.
func (s *DuckDBStore) LastTimestamp(ctx context.Context, symbol, interval string) (time.Time, bool, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(timestamp) FROM series WHERE symbol = ? AND interval = ?`,
		symbol, interval).Scan(&ts)
	if err != nil {
		return time.Time{}, false, NewStorageError("load", symbol, interval, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.UTC(), true, nil
}

// Summary reports row count and time bounds for the entity in one query.
func (s *DuckDBStore) Summary(ctx context.Context, symbol, interval string) (*SeriesSummary, error) {
	var (
		rows       int
		start, end sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), min(timestamp), max(timestamp)
		FROM series WHERE symbol = ? AND interval = ?`,
		symbol, interval).Scan(&rows, &start, &end)
	if err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}
	summary := &SeriesSummary{Symbol: symbol, Interval: interval, Rows: rows}
	if start.Valid {
		summary.Start = start.Time.UTC()
	}
	if end.Valid {
		summary.End = end.Time.UTC()
	}
	return summary, nil
}

// Save replaces the entity's rows inside one transaction, so a failed write
// rolls back to the previous state. Rows are parsed before the transaction
// opens and a malformed row aborts without touching stored data.
func (s *DuckDBStore) Save(ctx context.Context, symbol, interval string, series models.Series) error {
	values := make([]models.RecordValues, len(series))
	for i := range series {
		v, err := series[i].ParseValues()
		if err != nil {
			return NewStorageError("save", symbol, interval, fmt.Errorf("row %d: %w", i+1, err))
		}
		values[i] = v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("save", symbol, interval, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM series WHERE symbol = ? AND interval = ?`,
		symbol, interval); err != nil {
		return NewStorageError("save", symbol, interval, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series (symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("save", symbol, interval, err)
	}
	defer stmt.Close()

	for i := range series {
		v := values[i]
		if _, err := stmt.ExecContext(ctx,
			symbol, interval, series[i].Timestamp.UTC(),
			v.Open.InexactFloat64(), v.High.InexactFloat64(),
			v.Low.InexactFloat64(), v.Close.InexactFloat64(),
			v.Volume.InexactFloat64()); err != nil {
			return NewStorageError("save", symbol, interval, fmt.Errorf("row %d: %w", i+1, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("save", symbol, interval, err)
	}

	s.logger.Debug("series saved",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("rows", len(series)))
	return nil
}

// CleanupBackups is a no-op: the database keeps no file snapshots.
func (s *DuckDBStore) CleanupBackups(ctx context.Context, symbol, interval string, keep int) (int, error) {
	return 0, nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
