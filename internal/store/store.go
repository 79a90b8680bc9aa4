package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/weather-series/internal/weather"
)

// Supported store drivers.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config selects and configures a store backend.
type Config struct {
	Driver string

	// Path is the badger directory or the sqlite file. An empty path keeps a
	// badger store in memory.
	Path string

	// Datasets are the tables created on Open.
	Datasets []string

	// SchemaVersion is recorded on Open. A different recorded version drops
	// every dataset table.
	SchemaVersion int
}

// New returns an unopened store for cfg.Driver.
func New(cfg Config) (weather.Store, error) {
	if cfg.SchemaVersion <= 0 {
		cfg.SchemaVersion = 1
	}
	for _, name := range cfg.Datasets {
		if !weather.ValidDatasetName(name) {
			return nil, fmt.Errorf("%w: %q", weather.ErrInvalidDataset, name)
		}
	}

	switch cfg.Driver {
	case DriverBadger, "":
		return NewBadgerStore(cfg), nil
	case DriverSQLite:
		return NewSQLiteStore(cfg), nil
	case DriverMemory:
		return NewMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openGuard runs a store's open/migrate step once. A failed attempt leaves the
// guard unset so the next call retries.
type openGuard struct {
	mu     sync.Mutex
	opened bool
	closed bool
}

func (g *openGuard) do(ctx context.Context, open func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return &weather.StoreError{Op: "open", Err: weather.ErrStoreClosed}
	}
	if g.opened {
		return nil
	}
	if err := open(); err != nil {
		return err
	}
	g.opened = true
	return nil
}

// close runs fn if the store was opened and marks the guard closed.
func (g *openGuard) close(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if !g.opened {
		return nil
	}
	return fn()
}

// Timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func checkDataset(op, dataset string) error {
	if !weather.ValidDatasetName(dataset) {
		return &weather.StoreError{Op: op, Dataset: dataset, Err: weather.ErrInvalidDataset}
	}
	return nil
}

func duplicateError(ts time.Time) error {
	return fmt.Errorf("%w: %s", weather.ErrDuplicateTimestamp, ts.Format(time.RFC3339Nano))
}
