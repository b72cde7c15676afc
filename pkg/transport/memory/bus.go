package memory

import (
	"context"
	"sync"

	"github.com/ktopiwo/psi/pkg/transport"
)

type envelope struct {
	event   string
	payload []byte
	// flush is closed once every earlier envelope was delivered
	flush chan struct{}
}

type subscriber struct {
	id uint64
	h  transport.Handler
}

// Bus is an in-process transport.
//
// A single dispatcher goroutine delivers events in publish order, so handlers
// never run concurrently with each other. Publish never blocks on handlers,
// which may themselves publish.
type Bus struct {
	mtx    sync.Mutex
	cond   *sync.Cond
	queue  []envelope
	subs   map[string][]subscriber
	nextID uint64
	closed bool
	done   chan struct{}
}

var _ transport.Transport = (*Bus)(nil)

// New starts a bus. Close must be called to stop its dispatcher.
func New() *Bus {
	b := &Bus{
		subs: make(map[string][]subscriber),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mtx)
	go b.run()
	return b
}

// Publish queues payload for delivery to the current subscribers of event.
func (b *Bus) Publish(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	return b.enqueue(envelope{event: event, payload: data})
}

// Subscribe registers h for event. Handlers are called in subscription order.
func (b *Bus) Subscribe(event string, h transport.Handler) (transport.Subscription, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscriber{id: id, h: h})
	return transport.SubscriptionFunc(func() { b.unsubscribe(event, id) }), nil
}

func (b *Bus) unsubscribe(event string, id uint64) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Subscribers returns the number of handlers registered for event.
func (b *Bus) Subscribers(event string) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.subs[event])
}

// Flush blocks until every queued event, including those published by handlers
// while flushing, has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	for {
		marker := make(chan struct{})
		if err := b.enqueue(envelope{flush: marker}); err != nil {
			return err
		}
		select {
		case <-marker:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mtx.Lock()
		idle := len(b.queue) == 0
		b.mtx.Unlock()
		if idle {
			return nil
		}
	}
}

// Close stops the dispatcher. Undelivered events are dropped.
func (b *Bus) Close() error {
	b.mtx.Lock()
	if b.closed {
		b.mtx.Unlock()
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	b.mtx.Unlock()
	<-b.done
	return nil
}

func (b *Bus) enqueue(env envelope) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return transport.ErrClosed
	}
	b.queue = append(b.queue, env)
	b.cond.Signal()
	return nil
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mtx.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			for _, env := range b.queue {
				if env.flush != nil {
					close(env.flush)
				}
			}
			b.queue = nil
			b.mtx.Unlock()
			return
		}
		env := b.queue[0]
		b.queue[0] = envelope{}
		b.queue = b.queue[1:]
		subs := append([]subscriber(nil), b.subs[env.event]...)
		b.mtx.Unlock()

		if env.flush != nil {
			close(env.flush)
			continue
		}
		for _, s := range subs {
			s.h(env.payload)
		}
	}
}
