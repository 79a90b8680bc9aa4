package weather

import (
	"context"
	"log"
	"sync"
)

// State is the lifecycle of the query slot owned by a Supervisor.
type State int

const (
	StateIdle State = iota
	StatePending
	StateDelivered
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateDelivered:
		return "delivered"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Supervisor serializes the queries of one client. Each Submit supersedes the
// query still pending, and only the result of the most recent submission is
// ever published: older results are dropped when they arrive.
//
// Superseded work is not interrupted. Its store and network calls run to
// completion and the result is discarded.
type Supervisor struct {
	ctx      context.Context
	resolver Resolver
	channel  *Channel
	metrics  Metrics

	mu       sync.Mutex
	lastID   uint64
	pending  uint64 // 0 when no query is pending
	current  Query
	state    State
	canceled uint64
	closed   bool

	wg sync.WaitGroup
}

// NewSupervisor creates a Supervisor that resolves queries with resolver and
// publishes their results on channel. ctx bounds every resolve it starts.
func NewSupervisor(ctx context.Context, resolver Resolver, channel *Channel, metrics Metrics) *Supervisor {
	return &Supervisor{
		ctx:      ctx,
		resolver: resolver,
		channel:  channel,
		metrics:  metrics,
	}
}

// Submit starts a query and returns its id. Ids are strictly increasing.
// Submit never blocks on the resolve; it returns 0 once the supervisor is closed.
func (s *Supervisor) Submit(dataset string, years YearRange) uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}

	s.lastID++
	q := Query{ID: s.lastID, Dataset: dataset, Range: years}

	if s.pending != 0 {
		s.canceled++
		log.Printf("supervisor: query %d superseded by %d", s.pending, q.ID)
	}
	s.pending = q.ID
	s.current = q
	s.state = StatePending
	s.wg.Add(1)
	s.mu.Unlock()

	s.observe(OutcomeSubmitted)

	go s.run(q)
	return q.ID
}

func (s *Supervisor) run(q Query) {
	defer s.wg.Done()

	points, err := s.resolver.Resolve(s.ctx, q.Dataset, q.Range)
	s.complete(q, points, err)
}

func (s *Supervisor) complete(q Query, points []Point, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID != s.pending {
		if err != nil {
			log.Printf("supervisor: dropped query %d (%s %s): %v; result error: %v", q.ID, q.Dataset, q.Range, ErrCanceled, err)
		} else {
			log.Printf("supervisor: dropped query %d (%s %s): %v", q.ID, q.Dataset, q.Range, ErrCanceled)
		}
		s.observe(OutcomeDropped)
		return
	}

	s.pending = 0

	// Publishing under the lock keeps channel order equal to settle order.
	if err != nil {
		s.state = StateFailed
		log.Printf("ERROR: supervisor: query %d (%s %s) failed: %v", q.ID, q.Dataset, q.Range, err)
		s.channel.PublishFailure(Failure{Query: q, Err: err})
		s.observe(OutcomeFailed)
		return
	}

	s.state = StateDelivered
	s.channel.PublishDelivery(Delivery{Query: q, Points: points})
	s.observe(OutcomeDelivered)
}

// Status returns the latest submitted query and the state of the slot.
func (s *Supervisor) Status() (Query, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.state
}

// Canceled returns how many queries were superseded while pending.
func (s *Supervisor) Canceled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Close makes every in-flight result stale and rejects further submissions.
// It does not wait for in-flight resolves; use Wait for that.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != 0 {
		s.canceled++
		s.state = StateCanceled
	}
	s.pending = 0
	s.closed = true
}

// Wait blocks until every resolve started by Submit has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveQuery(outcome)
	}
}
