package weather_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/weather-series/internal/weather"
)

func delivery(id uint64) weather.Delivery {
	return weather.Delivery{Query: weather.Query{ID: id, Dataset: weather.DatasetTemperature}}
}

func TestChannelFansOutToEverySubscriber(t *testing.T) {
	ch := weather.NewChannel()

	var mu sync.Mutex
	got := map[string][]uint64{}
	for _, name := range []string{"chart", "table"} {
		name := name
		ch.Subscribe(func(d weather.Delivery) {
			mu.Lock()
			got[name] = append(got[name], d.Query.ID)
			mu.Unlock()
		})
	}

	for id := uint64(1); id <= 5; id++ {
		ch.PublishDelivery(delivery(id))
	}
	ch.Close()

	want := []uint64{1, 2, 3, 4, 5}
	assert.Equal(t, want, got["chart"])
	assert.Equal(t, want, got["table"])
}

func TestChannelUnsubscribe(t *testing.T) {
	ch := weather.NewChannel()

	var mu sync.Mutex
	var kept, removed []uint64
	ch.Subscribe(func(d weather.Delivery) {
		mu.Lock()
		kept = append(kept, d.Query.ID)
		mu.Unlock()
	})
	unsubscribe := ch.Subscribe(func(d weather.Delivery) {
		mu.Lock()
		removed = append(removed, d.Query.ID)
		mu.Unlock()
	})

	unsubscribe()
	unsubscribe()

	ch.PublishDelivery(delivery(1))
	ch.Close()

	assert.Equal(t, []uint64{1}, kept)
	assert.Empty(t, removed)
}

func TestChannelSeparatesFailures(t *testing.T) {
	ch := weather.NewChannel()

	var mu sync.Mutex
	var delivered []uint64
	var failed []error
	ch.Subscribe(func(d weather.Delivery) {
		mu.Lock()
		delivered = append(delivered, d.Query.ID)
		mu.Unlock()
	})
	ch.SubscribeFailures(func(f weather.Failure) {
		mu.Lock()
		failed = append(failed, f.Err)
		mu.Unlock()
	})

	cause := errors.New("upstream unavailable")
	ch.PublishDelivery(delivery(1))
	ch.PublishFailure(weather.Failure{Query: weather.Query{ID: 2}, Err: cause})
	ch.PublishDelivery(delivery(3))
	ch.Close()

	assert.Equal(t, []uint64{1, 3}, delivered)
	assert.Equal(t, []error{cause}, failed)
}

func TestChannelPublishAfterCloseIsIgnored(t *testing.T) {
	ch := weather.NewChannel()

	calls := 0
	ch.Subscribe(func(weather.Delivery) { calls++ })
	ch.Close()
	ch.PublishDelivery(delivery(1))
	ch.Close()

	assert.Zero(t, calls)
}

func TestChannelHandlerMaySubscribe(t *testing.T) {
	ch := weather.NewChannel()

	var mu sync.Mutex
	var late []uint64
	var once sync.Once
	ch.Subscribe(func(weather.Delivery) {
		once.Do(func() {
			ch.Subscribe(func(d weather.Delivery) {
				mu.Lock()
				late = append(late, d.Query.ID)
				mu.Unlock()
			})
		})
	})

	ch.PublishDelivery(delivery(1))
	ch.PublishDelivery(delivery(2))
	ch.Close()

	assert.Equal(t, []uint64{2}, late)
}
