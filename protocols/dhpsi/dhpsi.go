// Package dhpsi runs the Diffie-Hellman private set intersection between two parties
// as a round based protocol.
//
// Both parties speak first, so both handlers are created as leaders:
//
//	round 1: blind the own set, send the BlindedSet
//	round 2: re-blind the peer's BlindedSet, send it back
//	round 3: resolve the intersection
//
// The group is bound into the session ID, so parties configured with different
// moduli reject each other's messages instead of computing an empty intersection.
package dhpsi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/protocol"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/ktopiwo/psi/pkg/transport"
)

const (
	protocolID                  = "psi/dh"
	protocolRounds round.Number = 3

	// Event is the transport event DH-PSI messages are published under.
	Event = "dhpsi"
)

// Start returns the first round of an execution in which selfID intersects own with
// the set of otherID.
//
// The result of the execution is a *set.Set, see Result. A nil rand uses crypto/rand.
func Start(g *group.Group, selfID, otherID party.ID, own *set.Set, rand io.Reader, pl *pool.Pool, opts ...Option) protocol.StartFunc {
	return func(sessionID []byte) (round.Session, error) {
		if selfID == otherID {
			return nil, errors.New("dhpsi: both parties have the same ID")
		}
		info := round.Info{
			ProtocolID:       protocolID,
			FinalRoundNumber: protocolRounds,
			SelfID:           selfID,
			PartyIDs:         []party.ID{selfID, otherID},
			Group:            g,
		}
		helper, err := round.NewSession(info, sessionID, pl)
		if err != nil {
			return nil, fmt.Errorf("dhpsi: %w", err)
		}
		r := &round1{
			Helper: helper,
			own:    own,
			rand:   randOrDefault(rand),
		}
		for _, opt := range opts {
			opt(r)
		}
		return r, nil
	}
}

// Option configures an execution.
type Option func(*round1)

// WithProgress registers f to be called after every exponentiation, first while
// blinding the own set, then while re-blinding the peer's. f must be safe for concurrent use.
func WithProgress(f func(done, total int)) Option {
	return func(r *round1) { r.progress = f }
}

func randOrDefault(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

// Result extracts the intersection from a finished handler.
func Result(h protocol.Handler) (*set.Set, error) {
	r, err := h.Result()
	if err != nil {
		return nil, err
	}
	s, ok := r.(*set.Set)
	if !ok {
		return nil, fmt.Errorf("dhpsi: unexpected result type %T", r)
	}
	return s, nil
}

// Party is one side of an execution over a transport.
type Party struct {
	handler *protocol.TwoPartyHandler
	bridge  *protocol.Bridge
}

// NewParty creates the handler and subscribes it to Event on tr.
// Both parties must be created before either runs, since messages published
// before the peer subscribed are lost.
func NewParty(start protocol.StartFunc, sessionID []byte, tr transport.Transport, l log.Logger) (*Party, error) {
	if l == nil {
		l = log.Nop()
	}
	h, err := protocol.NewTwoPartyHandler(start, sessionID, true, protocol.WithLogger(l))
	if err != nil {
		return nil, err
	}
	b, err := protocol.NewBridge(tr, Event, h, l)
	if err != nil {
		h.Stop()
		return nil, err
	}
	return &Party{handler: h, bridge: b}, nil
}

// Run exchanges messages until the intersection is known or ctx is done.
func (p *Party) Run(ctx context.Context) (*set.Set, error) {
	if err := p.bridge.Run(ctx); err != nil {
		return nil, err
	}
	return Result(p.handler)
}
