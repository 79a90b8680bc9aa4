package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-series/internal/weather"
)

// table holds the points of one dataset, ordered by timestamp.
type table struct {
	points []weather.Point
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Its contents do not survive the process; it backs tests and throwaway runs.
type MemoryStore struct {
	mu sync.RWMutex

	// key: dataset name
	tables map[string]*table

	datasets []string
	guard    openGuard
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string]*table),
		datasets: append([]string(nil), cfg.Datasets...),
	}
}

// Open creates the configured tables.
func (s *MemoryStore) Open(ctx context.Context) error {
	return s.guard.do(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, name := range s.datasets {
			if _, ok := s.tables[name]; !ok {
				s.tables[name] = &table{}
			}
		}
		return nil
	})
}

// Scan returns all points of dataset with from <= t < to.
func (s *MemoryStore) Scan(ctx context.Context, dataset string, from, to time.Time) ([]weather.Point, error) {
	if err := checkDataset("scan", dataset); err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[dataset]
	if !ok || len(t.points) == 0 {
		return []weather.Point{}, nil
	}

	lo := 0
	if !from.IsZero() {
		fromMS := toMillis(from)
		lo = sort.Search(len(t.points), func(i int) bool {
			return toMillis(t.points[i].Timestamp) >= fromMS
		})
	}
	hi := len(t.points)
	if !to.IsZero() {
		toMS := toMillis(to)
		hi = sort.Search(len(t.points), func(i int) bool {
			return toMillis(t.points[i].Timestamp) >= toMS
		})
	}
	if lo >= hi {
		return []weather.Point{}, nil
	}

	result := make([]weather.Point, hi-lo)
	copy(result, t.points[lo:hi])
	return result, nil
}

// BulkInsert merges points into dataset, or changes nothing if any timestamp
// is already present.
func (s *MemoryStore) BulkInsert(ctx context.Context, dataset string, points []weather.Point) error {
	if err := checkDataset("insert", dataset); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[dataset]
	if !ok {
		t = &table{}
	}

	seen := make(map[int64]struct{}, len(t.points)+len(points))
	for _, p := range t.points {
		seen[toMillis(p.Timestamp)] = struct{}{}
	}

	merged := make([]weather.Point, 0, len(t.points)+len(points))
	merged = append(merged, t.points...)
	for _, p := range points {
		ms := toMillis(p.Timestamp)
		if _, dup := seen[ms]; dup {
			return &weather.StoreError{Op: "insert", Dataset: dataset, Err: duplicateError(p.Timestamp)}
		}
		seen[ms] = struct{}{}
		merged = append(merged, weather.Point{Timestamp: fromMillis(ms), Value: p.Value})
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	t.points = merged
	s.tables[dataset] = t
	return nil
}

// Datasets returns the names of every known table.
func (s *MemoryStore) Datasets(ctx context.Context) ([]string, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close drops every table.
func (s *MemoryStore) Close() error {
	return s.guard.close(func() error {
		s.mu.Lock()
		s.tables = nil
		s.mu.Unlock()
		return nil
	})
}
