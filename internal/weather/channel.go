package weather

import (
	"sync"
)

// Delivery is the result of a query that reached the Delivered state.
// Consumers treat Points as a full replacement of the displayed series.
type Delivery struct {
	Query  Query
	Points []Point
}

// Failure is the result of a query that reached the Failed state.
type Failure struct {
	Query Query
	Err   error
}

// Channel fans delivered and failed query results out to subscribers.
//
// Publish never blocks on subscribers: events are queued and handed to the
// handlers by a single dispatch goroutine, in publish order.
type Channel struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(Delivery)
	failures map[uint64]func(Failure)
	queue    []any
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// NewChannel creates a Channel and starts its dispatch goroutine.
func NewChannel() *Channel {
	c := &Channel{
		handlers: make(map[uint64]func(Delivery)),
		failures: make(map[uint64]func(Failure)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Subscribe registers handler for every Delivery. The returned function removes
// exactly this registration and may be called any number of times.
func (c *Channel) Subscribe(handler func(Delivery)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[id] = handler

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// SubscribeFailures registers handler for every Failure.
func (c *Channel) SubscribeFailures(handler func(Failure)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.failures[id] = handler

	return func() {
		c.mu.Lock()
		delete(c.failures, id)
		c.mu.Unlock()
	}
}

// PublishDelivery queues d for the success subscribers.
func (c *Channel) PublishDelivery(d Delivery) {
	c.publish(d)
}

// PublishFailure queues f for the failure subscribers.
func (c *Channel) PublishFailure(f Failure) {
	c.publish(f)
}

func (c *Channel) publish(ev any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting events, delivers what is already queued and waits for
// the dispatch goroutine to exit.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	<-c.done
}

func (c *Channel) dispatch() {
	defer close(c.done)

	for range c.wake {
		for {
			ev, handlers, failures, ok := c.next()
			if !ok {
				break
			}
			switch ev := ev.(type) {
			case Delivery:
				for _, h := range handlers {
					h(ev)
				}
			case Failure:
				for _, h := range failures {
					h(ev)
				}
			}
		}

		c.mu.Lock()
		stop := c.closed && len(c.queue) == 0
		c.mu.Unlock()
		if stop {
			return
		}
	}
}

// next pops the oldest event together with a snapshot of the subscribers.
func (c *Channel) next() (any, []func(Delivery), []func(Failure), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil, nil, nil, false
	}
	ev := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]

	handlers := make([]func(Delivery), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	failures := make([]func(Failure), 0, len(c.failures))
	for _, h := range c.failures {
		failures = append(failures, h)
	}
	return ev, handlers, failures, true
}
