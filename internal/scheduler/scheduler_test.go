package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-series/internal/weather"
)

type recordingResolver struct {
	mu     sync.Mutex
	calls  map[string]weather.YearRange
	failOn string
}

func (r *recordingResolver) Resolve(ctx context.Context, dataset string, years weather.YearRange) ([]weather.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]weather.YearRange)
	}
	r.calls[dataset] = years
	if dataset == r.failOn {
		return nil, &weather.FetchError{Dataset: dataset, Err: errors.New("unreachable")}
	}
	return []weather.Point{}, nil
}

func (r *recordingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunOnceWarmsEveryDataset(t *testing.T) {
	resolver := &recordingResolver{failOn: weather.DatasetPrecipitation}
	s := New(weather.DefaultDatasets, time.Hour, resolver)

	failed := s.RunOnce(context.Background())

	assert.Equal(t, 1, failed)
	require.Len(t, resolver.calls, 2)
	for _, name := range weather.DefaultDatasets {
		assert.Equal(t, weather.AllYears(), resolver.calls[name])
	}
}

func TestStartRunsImmediately(t *testing.T) {
	resolver := &recordingResolver{}
	s := New([]string{weather.DatasetTemperature}, time.Hour, resolver)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return resolver.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartDisabled(t *testing.T) {
	resolver := &recordingResolver{}

	require.NoError(t, New(weather.DefaultDatasets, 0, resolver).Start())
	require.NoError(t, New(nil, time.Hour, resolver).Start())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, resolver.count())
}
