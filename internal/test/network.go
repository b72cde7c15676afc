package test

import (
	"sync"

	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/protocol"
)

// Network routes protocol messages between handlers of the same process.
// Delivery never blocks: a message for a full inbox is dropped.
type Network struct {
	mtx     sync.Mutex
	inboxes map[party.ID]chan *protocol.Message
	// closed is returned by Next once a party is done.
	closed chan *protocol.Message
	// finished is closed when the last party is done.
	finished chan struct{}
}

// NewNetwork gives every party an inbox large enough for a full execution.
func NewNetwork(parties party.IDSlice) *Network {
	n := &Network{
		inboxes:  make(map[party.ID]chan *protocol.Message, len(parties)),
		closed:   make(chan *protocol.Message),
		finished: make(chan struct{}),
	}
	close(n.closed)
	size := len(parties) * (len(parties) + 1)
	for _, id := range parties {
		n.inboxes[id] = make(chan *protocol.Message, size)
	}
	return n
}

// Next returns the inbox of id.
func (n *Network) Next(id party.ID) <-chan *protocol.Message {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if inbox, ok := n.inboxes[id]; ok {
		return inbox
	}
	return n.closed
}

// Send delivers msg to every party it is for.
func (n *Network) Send(msg *protocol.Message) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for id, inbox := range n.inboxes {
		if !msg.IsFor(id) {
			continue
		}
		select {
		case inbox <- msg:
		default:
		}
	}
}

// Done closes the inbox of id. The returned channel is closed once every party is done.
func (n *Network) Done(id party.ID) <-chan struct{} {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if inbox, ok := n.inboxes[id]; ok {
		close(inbox)
		delete(n.inboxes, id)
		if len(n.inboxes) == 0 {
			close(n.finished)
		}
	}
	return n.finished
}
