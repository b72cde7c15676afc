package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/party"
)

var (
	// ErrNotFinished is returned by Result while the protocol is still running.
	ErrNotFinished = errors.New("protocol: not finished")
	// ErrStopped is the result of an execution ended by Stop.
	ErrStopped = errors.New("protocol: stopped")
)

// TwoPartyHandler drives a round based protocol between exactly two parties.
//
// Messages are encoded with CBOR. A handler created as leader finalizes its first
// round immediately, a follower waits for the first message of its peer.
// Symmetric protocols, where both parties speak first, create both handlers as leaders.
type TwoPartyHandler struct {
	round    round.Session
	leader   bool
	err      error
	result   interface{}
	done     bool
	messages map[round.Number]*Message
	out      chan *Message
	log      log.Logger
	mtx      sync.Mutex
}

// HandlerOption configures a TwoPartyHandler.
type HandlerOption func(*TwoPartyHandler)

// WithLogger sets the logger used for round transitions. The default discards everything.
func WithLogger(l log.Logger) HandlerOption {
	return func(h *TwoPartyHandler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewTwoPartyHandler(create StartFunc, sessionID []byte, leader bool, opts ...HandlerOption) (*TwoPartyHandler, error) {
	r, err := create(sessionID)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to create round: %w", err)
	}
	if r.N() != 2 {
		return nil, fmt.Errorf("protocol: two party handler used with %d parties", r.N())
	}
	handler := &TwoPartyHandler{
		round:    r,
		leader:   leader,
		messages: map[round.Number]*Message{},
		// every round emits at most one message, plus a possible abort notice
		out: make(chan *Message, int(r.FinalRoundNumber())+1),
		log: log.Nop(),
	}
	for _, opt := range opts {
		opt(handler)
	}
	handler.log = handler.log.With("protocol", r.ProtocolID(), "party", string(r.SelfID()))
	handler.log.Debugw("start", "leader", leader)

	handler.mtx.Lock()
	defer handler.mtx.Unlock()
	if leader {
		handler.advance()
	}
	return handler, nil
}

// Result returns the protocol result if the protocol completed successfully. Otherwise an error is returned.
func (h *TwoPartyHandler) Result() (interface{}, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	if h.done {
		return h.result, nil
	}
	return nil, ErrNotFinished
}

// Listen returns a channel with outgoing messages that must be sent to the other party.
// The channel is closed when the protocol finishes, successfully or not.
func (h *TwoPartyHandler) Listen() <-chan *Message {
	return h.out
}

// Stop aborts a running execution. It has no effect once the protocol has finished.
func (h *TwoPartyHandler) Stop() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if !h.done {
		h.finish(ErrStopped)
	}
}

func (h *TwoPartyHandler) String() string {
	return fmt.Sprintf("party: %s, protocol: %s", h.round.SelfID(), h.round.ProtocolID())
}

// finish ends the execution and closes the out channel. A non nil err is recorded
// and sent to the peer as an abort notice.
func (h *TwoPartyHandler) finish(err error) {
	if h.done {
		return
	}
	h.done = true
	if err != nil {
		h.err = err
		h.log.Warnw("aborted", "round", h.round.Number(), "err", err)
		select {
		case h.out <- &Message{
			SSID:     h.round.SSID(),
			From:     h.round.SelfID(),
			Protocol: h.round.ProtocolID(),
			Data:     []byte(h.err.Error()),
		}:
		default:
		}
	}
	close(h.out)
}

func (h *TwoPartyHandler) canAdvance() bool {
	if h.round.MessageContent() == nil {
		return true
	}
	return h.messages[h.round.Number()] != nil
}

func extractRoundMessage(r round.Session, msg *Message) (round.Message, error) {
	content := r.MessageContent()
	if err := cbor.Unmarshal(msg.Data, content); err != nil {
		return round.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return round.Message{
		From:    msg.From,
		To:      msg.To,
		Content: content,
	}, nil
}

func (h *TwoPartyHandler) verifyMessage(msg *Message) error {
	if msg == nil {
		return nil
	}
	r := h.round
	roundMsg, err := extractRoundMessage(r, msg)
	if err != nil {
		return Error{Protocol: r.ProtocolID(), RoundNumber: r.Number(), Culprit: msg.From, Err: err}
	}

	if err = r.VerifyMessage(roundMsg); err != nil {
		return Error{Protocol: r.ProtocolID(), RoundNumber: r.Number(), Culprit: msg.From, Err: err}
	}

	if err = r.StoreMessage(roundMsg); err != nil {
		return Error{Protocol: r.ProtocolID(), RoundNumber: r.Number(), Culprit: msg.From, Err: err}
	}

	return nil
}

func (h *TwoPartyHandler) advance() {
	for !h.done && h.canAdvance() {
		msg := h.messages[h.round.Number()]
		if err := h.verifyMessage(msg); err != nil {
			h.finish(err)
			return
		}
		out := make(chan *round.Message, h.round.N())
		newRound, err := h.round.Finalize(out)
		close(out)
		if err != nil || newRound == nil {
			if err == nil {
				err = errors.New("protocol: round returned nil")
			}
			h.finish(Error{Protocol: h.round.ProtocolID(), RoundNumber: h.round.Number(), Err: err})
			return
		}
		for roundMsg := range out {
			data, err := cbor.Marshal(roundMsg.Content)
			if err != nil {
				h.finish(fmt.Errorf("protocol: failed to marshal round message: %w", err))
				return
			}
			h.out <- &Message{
				SSID:        newRound.SSID(),
				From:        newRound.SelfID(),
				To:          roundMsg.To,
				Protocol:    newRound.ProtocolID(),
				RoundNumber: roundMsg.Content.RoundNumber(),
				Data:        data,
			}
		}
		finished := h.round.Number()
		h.log.Debugw("round finalized", "round", finished, "next", newRound.Number())
		h.round = newRound
		switch R := newRound.(type) {
		case *round.Abort:
			h.finish(Error{Protocol: R.ProtocolID(), RoundNumber: finished, Culprit: culprit(R), Err: R.Err})
			return
		case *round.Output:
			h.result = R.Result
			h.finish(nil)
			return
		default:
		}
	}
}

func culprit(r *round.Abort) party.ID {
	if len(r.Culprits) > 0 {
		return r.Culprits[0]
	}
	return ""
}

// CanAccept returns true if msg belongs to this execution and comes from the other party.
func (h *TwoPartyHandler) CanAccept(msg *Message) bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.canAccept(msg)
}

func (h *TwoPartyHandler) canAccept(msg *Message) bool {
	r := h.round
	switch {
	case msg == nil || msg.Data == nil:
		return false
	case !msg.IsFor(r.SelfID()) || !r.PartyIDs().Contains(msg.From):
		return false
	case msg.Protocol != r.ProtocolID() || !bytes.Equal(msg.SSID, r.SSID()):
		return false
	}
	return msg.RoundNumber <= r.FinalRoundNumber()
}

// Accept stores msg and advances the protocol as far as possible.
func (h *TwoPartyHandler) Accept(msg *Message) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.done || !h.canAccept(msg) {
		return
	}

	if msg.Aborted() {
		h.finish(fmt.Errorf("protocol: %s aborted: %s", msg.From, msg.Data))
		return
	}

	h.messages[msg.RoundNumber] = msg

	h.advance()
}
