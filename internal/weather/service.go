package weather

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// ServiceConfig holds the optional collaborators of a Service.
type ServiceConfig struct {
	// Datasets limits Resolve to these names. Empty means any valid name.
	Datasets []string

	// Metrics may be nil.
	Metrics Metrics
}

// Service is the cache coordinator: it answers range queries from the store and
// populates the store from the remote source the first time a dataset is empty.
type Service struct {
	store    Store
	remote   RemoteSource
	metrics  Metrics
	datasets []string
	known    map[string]struct{}

	// populations collapses concurrent fetch+insert runs for the same dataset.
	populations singleflight.Group
}

// NewService creates a new Service.
func NewService(store Store, remote RemoteSource, cfg ServiceConfig) *Service {
	known := make(map[string]struct{}, len(cfg.Datasets))
	for _, name := range cfg.Datasets {
		known[name] = struct{}{}
	}

	return &Service{
		store:    store,
		remote:   remote,
		metrics:  cfg.Metrics,
		datasets: append([]string(nil), cfg.Datasets...),
		known:    known,
	}
}

// Datasets returns the dataset names this service serves.
func (s *Service) Datasets() []string {
	return append([]string(nil), s.datasets...)
}

// Known reports whether dataset is served by this service.
func (s *Service) Known(dataset string) bool {
	if !ValidDatasetName(dataset) {
		return false
	}
	if len(s.known) == 0 {
		return true
	}
	_, ok := s.known[dataset]
	return ok
}

// Resolve returns the points of dataset inside years, ascending by timestamp.
//
// The store is consulted first. When the scan comes back empty the whole
// dataset is fetched from the remote source, bulk inserted, and the store is
// scanned again with the same bounds, so the result always reflects the store's
// ordering and dedup guarantees. Population failures are returned as *FetchError.
//
// A dataset that is empty upstream is indistinguishable from one that was never
// populated and is re-fetched on every call.
//
// Unknown datasets and invalid ranges are rejected before anything is recorded,
// so arbitrary client input never becomes a metric label.
func (s *Service) Resolve(ctx context.Context, dataset string, years YearRange) ([]Point, error) {
	if !s.Known(dataset) {
		return nil, ErrUnknownDataset
	}
	if err := years.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	points, err := s.resolve(ctx, dataset, years)
	if s.metrics != nil {
		s.metrics.ObserveResolve(dataset, time.Since(start), err)
	}
	return points, err
}

func (s *Service) resolve(ctx context.Context, dataset string, years YearRange) ([]Point, error) {
	dates := years.Dates()

	points, err := s.store.Scan(ctx, dataset, dates.From, dates.To)
	if err != nil {
		// A broken read falls through to the fetch path.
		log.Printf("ERROR: resolve %s %s: scan failed: %v", dataset, years, err)
	}
	if len(points) > 0 {
		s.observeScan(dataset, true)
		return points, nil
	}
	s.observeScan(dataset, false)

	if err := s.populate(ctx, dataset); err != nil {
		return nil, &FetchError{Dataset: dataset, Err: err}
	}

	points, err = s.store.Scan(ctx, dataset, dates.From, dates.To)
	if err != nil {
		return nil, &FetchError{Dataset: dataset, Err: err}
	}
	if points == nil {
		points = []Point{}
	}
	return points, nil
}

// populate fetches the full dataset and writes it to the store in one unit.
func (s *Service) populate(ctx context.Context, dataset string) error {
	// The flight is shared by every waiting caller, so one caller going away
	// must not abort it for the others.
	ctx = context.WithoutCancel(ctx)

	_, err, shared := s.populations.Do(dataset, func() (interface{}, error) {
		fetched, err := s.remote.Fetch(ctx, dataset)
		if s.metrics != nil {
			s.metrics.ObserveFetch(dataset, err)
		}
		if err != nil {
			return nil, err
		}

		if err := s.store.BulkInsert(ctx, dataset, fetched); err != nil {
			if errors.Is(err, ErrDuplicateTimestamp) && s.populated(ctx, dataset) {
				// Another population committed between our scan and this insert.
				log.Printf("DEBUG: populate %s: already populated, discarding %d fetched points", dataset, len(fetched))
				return nil, nil
			}
			return nil, err
		}

		log.Printf("INFO: populated %s with %d points", dataset, len(fetched))
		return nil, nil
	})
	if shared {
		log.Printf("DEBUG: populate %s: joined in-flight population", dataset)
	}
	return err
}

func (s *Service) populated(ctx context.Context, dataset string) bool {
	points, err := s.store.Scan(ctx, dataset, time.Time{}, time.Time{})
	return err == nil && len(points) > 0
}

func (s *Service) observeScan(dataset string, hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveScan(dataset, hit)
	}
}
