package weather

import (
	"context"
	"time"
)

// RemoteSource fetches a full dataset snapshot from the upstream host.
// Fetch is all-or-nothing: it never returns a partial series.
type RemoteSource interface {
	Fetch(ctx context.Context, dataset string) ([]Point, error)
}

// Store is the contract every persistent store backend must satisfy.
//
// Scan bounds are half-open [from, to); a zero bound is unbounded. Scans return
// points in ascending timestamp order and an empty slice for empty or unknown
// datasets. BulkInsert is atomic: either every point is visible afterwards or
// none is.
type Store interface {
	Open(ctx context.Context) error
	Scan(ctx context.Context, dataset string, from, to time.Time) ([]Point, error)
	BulkInsert(ctx context.Context, dataset string, points []Point) error
	Datasets(ctx context.Context) ([]string, error)
	Close() error
}

// Resolver returns the points of a dataset for a year range.
// It is satisfied by *Service and lets a Supervisor be driven by fakes in tests.
type Resolver interface {
	Resolve(ctx context.Context, dataset string, years YearRange) ([]Point, error)
}

// Metrics receives cache and query events. A nil Metrics is valid and records nothing.
type Metrics interface {
	ObserveScan(dataset string, hit bool)
	ObserveFetch(dataset string, err error)
	ObserveResolve(dataset string, d time.Duration, err error)
	ObserveQuery(outcome string)
}

// Query outcomes reported to Metrics.
const (
	OutcomeSubmitted = "submitted"
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)
