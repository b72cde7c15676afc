package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/transport"
)

const noticeTimeout = time.Second

// Bridge carries the messages of a Handler over a transport event.
//
// Outgoing messages are CBOR encoded and published under the event name; incoming
// payloads are decoded and handed to the Handler when it can accept them.
type Bridge struct {
	tr    transport.Transport
	event string
	h     Handler
	log   log.Logger

	sub   transport.Subscription
	inbox chan *Message
	done  chan struct{}
	once  sync.Once
}

// NewBridge subscribes to event right away, so that no message sent by the peer
// before Run is called is lost.
func NewBridge(tr transport.Transport, event string, h Handler, l log.Logger) (*Bridge, error) {
	if l == nil {
		l = log.Nop()
	}
	b := &Bridge{
		tr:    tr,
		event: event,
		h:     h,
		log:   l.With("event", event),
		inbox: make(chan *Message, 16),
		done:  make(chan struct{}),
	}
	sub, err := tr.Subscribe(event, b.receive)
	if err != nil {
		return nil, fmt.Errorf("protocol: bridge: %w", err)
	}
	b.sub = sub
	return b, nil
}

func (b *Bridge) receive(payload []byte) {
	msg := &Message{}
	if err := cbor.Unmarshal(payload, msg); err != nil {
		b.log.Debugw("dropping undecodable message", "err", err)
		return
	}
	if !b.h.CanAccept(msg) {
		return
	}
	select {
	case b.inbox <- msg:
	case <-b.done:
	}
}

// Run pumps messages until the handler finishes or ctx is done.
// Every message the handler emitted is published before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.close()
	out := b.h.Listen()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			data, err := cbor.Marshal(msg)
			if err != nil {
				b.h.Stop()
				return fmt.Errorf("protocol: bridge: %w", err)
			}
			if err := b.tr.Publish(ctx, b.event, data); err != nil {
				b.h.Stop()
				b.flush()
				return fmt.Errorf("protocol: bridge: %w", err)
			}
		case msg := <-b.inbox:
			b.h.Accept(msg)
		case <-ctx.Done():
			b.h.Stop()
			b.flush()
			return ctx.Err()
		}
	}
}

// flush publishes what the handler queued before it stopped, its abort notice
// included, so that the peer does not wait for a party that left. ctx is done by
// then, so every publish gets noticeTimeout of its own.
func (b *Bridge) flush() {
	out := b.h.Listen()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			data, err := cbor.Marshal(msg)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
			err = b.tr.Publish(ctx, b.event, data)
			cancel()
			if err != nil {
				b.log.Debugw("abort notice not sent", "err", err)
				return
			}
		default:
			return
		}
	}
}

func (b *Bridge) close() {
	b.once.Do(func() {
		close(b.done)
		b.sub.Unsubscribe()
	})
}
