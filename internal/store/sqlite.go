package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	// SQLite driver using pure Go implementation
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/i474232898/weather-series/internal/weather"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS schema_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS datasets (
		name TEXT PRIMARY KEY
	);
`

// SQLiteStore keeps one table per dataset in a SQLite file:
// series_<dataset>(ts INTEGER PRIMARY KEY, value REAL NOT NULL), ts in Unix ms.
type SQLiteStore struct {
	path     string
	datasets []string
	version  int

	guard openGuard
	db    *sql.DB
}

// NewSQLiteStore creates an unopened SQLite store.
func NewSQLiteStore(cfg Config) *SQLiteStore {
	path := cfg.Path
	if path == "" {
		path = "weather-series.db"
	}
	return &SQLiteStore{
		path:     path,
		datasets: append([]string(nil), cfg.Datasets...),
		version:  cfg.SchemaVersion,
	}
}

func tableName(dataset string) string {
	return "series_" + dataset
}

// errorCode returns the extended result code of a driver error, or 0.
func errorCode(err error) int {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code()
	}
	return 0
}

// isDuplicate reports whether err is a key violation on a series table.
func isDuplicate(err error) bool {
	switch errorCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func tableExists(ctx context.Context, db *sql.DB, dataset string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName(dataset)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Open opens the database file and migrates the schema. Safe to call repeatedly and concurrently.
func (s *SQLiteStore) Open(ctx context.Context) error {
	return s.guard.do(ctx, func() error {
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.path)

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return &weather.StoreError{Op: "open", Err: err}
		}
		// A single connection serializes writers; SQLite allows one anyway.
		db.SetMaxOpenConns(1)

		if err := s.migrate(ctx, db); err != nil {
			db.Close()
			return &weather.StoreError{Op: "migrate", Err: err}
		}

		s.db = db
		return nil
	})
}

func (s *SQLiteStore) migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if stored != 0 && stored != s.version {
		log.Printf("INFO: store: schema version %d -> %d, dropping dataset tables", stored, s.version)
		if err := dropTables(ctx, tx); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.version); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}

	for _, name := range s.datasets {
		if err := createTable(ctx, tx, name); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func dropTables(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM datasets`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if !weather.ValidDatasetName(name) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName(name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM datasets`)
	return err
}

// createTable must only be called with a name accepted by weather.ValidDatasetName.
func createTable(ctx context.Context, tx *sql.Tx, dataset string) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + tableName(dataset) + ` (
		ts    INTEGER PRIMARY KEY,
		value REAL NOT NULL
	)`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", dataset, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO datasets (name) VALUES (?)`, dataset); err != nil {
		return fmt.Errorf("register table %s: %w", dataset, err)
	}
	return nil
}

// Scan returns the points of dataset with from <= t < to in ascending order.
func (s *SQLiteStore) Scan(ctx context.Context, dataset string, from, to time.Time) ([]weather.Point, error) {
	if err := checkDataset("scan", dataset); err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	exists, err := tableExists(ctx, s.db, dataset)
	if err != nil {
		return nil, &weather.StoreError{Op: "scan", Dataset: dataset, Err: err}
	}
	if !exists {
		return []weather.Point{}, nil
	}

	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, toMillis(to))
	}

	query := `SELECT ts, value FROM ` + tableName(dataset)
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &weather.StoreError{Op: "scan", Dataset: dataset, Err: err}
	}
	defer rows.Close()

	points := []weather.Point{}
	for rows.Next() {
		var (
			ms int64
			v  float64
		)
		if err := rows.Scan(&ms, &v); err != nil {
			return nil, &weather.StoreError{Op: "scan", Dataset: dataset, Err: err}
		}
		points = append(points, weather.Point{Timestamp: fromMillis(ms), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, &weather.StoreError{Op: "scan", Dataset: dataset, Err: err}
	}

	return points, nil
}

// BulkInsert writes points in a single transaction, creating the table if needed.
// Any duplicate timestamp rolls back the whole batch.
func (s *SQLiteStore) BulkInsert(ctx context.Context, dataset string, points []weather.Point) error {
	if err := checkDataset("insert", dataset); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	if err := s.bulkInsert(ctx, dataset, points); err != nil {
		return &weather.StoreError{Op: "insert", Dataset: dataset, Err: err}
	}
	return nil
}

func (s *SQLiteStore) bulkInsert(ctx context.Context, dataset string, points []weather.Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := createTable(ctx, tx, dataset); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+tableName(dataset)+` (ts, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, toMillis(p.Timestamp), p.Value); err != nil {
			if isDuplicate(err) {
				return duplicateError(p.Timestamp)
			}
			return err
		}
	}

	return tx.Commit()
}

// Datasets returns the names of every known table.
func (s *SQLiteStore) Datasets(ctx context.Context) ([]string, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, &weather.StoreError{Op: "datasets", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &weather.StoreError{Op: "datasets", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &weather.StoreError{Op: "datasets", Err: err}
	}
	return names, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.guard.close(func() error {
		return s.db.Close()
	})
}
