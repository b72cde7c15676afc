// Package transport defines the publish/subscribe contract the protocols are written against.
//
// Delivery is best effort and unordered across events. Implementations must
// not block Publish on slow subscribers, and may deliver a publisher's own
// events back to it.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing on, or subscribing to, a closed transport.
var ErrClosed = errors.New("transport: closed")

// Handler is called with the payload of every event published under the subscribed name.
// Handlers must not modify the payload.
type Handler func(payload []byte)

// Subscription is returned by Subscribe, and stops the delivery of events when cancelled.
type Subscription interface {
	Unsubscribe()
}

// Transport is a fire-and-forget publish/subscribe channel keyed by event name.
type Transport interface {
	Publish(ctx context.Context, event string, payload []byte) error
	Subscribe(event string, h Handler) (Subscription, error)
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() { f() }
