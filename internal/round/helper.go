package round

import (
	"errors"
	"fmt"

	"github.com/ktopiwo/psi/pkg/hash"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/pool"
)

var (
	errPartyIDs = errors.New("round: party IDs must be non empty and distinct")
	errSelfID   = errors.New("round: self ID is not one of the parties")
	errNoGroup  = errors.New("round: no group")
)

// Helper holds what stays fixed during an execution. Embedded in the first round,
// it completes the Session interface.
type Helper struct {
	info Info

	// Pool runs the exponentiations of a round in parallel. It may be nil.
	Pool *pool.Pool

	partyIDs      party.IDSlice
	otherPartyIDs party.IDSlice
	ssid          []byte
}

// NewSession validates info and derives the SSID from it, from sessionID when given,
// and from every aux value.
// sessionID must be the same for both parties, and should differ between executions.
func NewSession(info Info, sessionID []byte, pl *pool.Pool, aux ...hash.Domained) (*Helper, error) {
	ids := party.NewIDSlice(info.PartyIDs)
	switch {
	case !ids.Valid():
		return nil, errPartyIDs
	case len(ids) < 2:
		return nil, fmt.Errorf("round: need at least 2 parties, got %d", len(ids))
	case !ids.Contains(info.SelfID):
		return nil, errSelfID
	case info.Group == nil:
		return nil, errNoGroup
	}

	h := hash.New()
	if sessionID != nil {
		if err := h.Write(hash.Labeled{Label: "session id", Data: sessionID}); err != nil {
			return nil, fmt.Errorf("round: %w", err)
		}
	}
	if err := h.Write(
		hash.Labeled{Label: "protocol id", Data: []byte(info.ProtocolID)},
		info.Group,
		ids,
		info.FinalRoundNumber,
	); err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	for _, a := range aux {
		if a == nil {
			continue
		}
		if err := h.Write(a); err != nil {
			return nil, fmt.Errorf("round: %w", err)
		}
	}

	return &Helper{
		info:          info,
		Pool:          pl,
		partyIDs:      ids,
		otherPartyIDs: ids.Remove(info.SelfID),
		ssid:          h.Sum(),
	}, nil
}

// SendMessage puts content on out, addressed to `to` or to everyone when to is empty.
// out must have room for it: a full channel gives ErrOutChanFull.
func (h *Helper) SendMessage(out chan<- *Message, content Content, to party.ID) error {
	select {
	case out <- &Message{From: h.info.SelfID, To: to, Content: content}:
		return nil
	default:
		return ErrOutChanFull
	}
}

// ResultRound ends the execution with result.
func (h *Helper) ResultRound(result interface{}) Session {
	return &Output{Helper: h, Result: result}
}

// AbortRound ends the execution with err, blaming culprits when they are known.
// Finalize returns it with a nil error.
func (h *Helper) AbortRound(err error, culprits ...party.ID) Session {
	return &Abort{Helper: h, Culprits: culprits, Err: err}
}

func (h *Helper) ProtocolID() string           { return h.info.ProtocolID }
func (h *Helper) FinalRoundNumber() Number     { return h.info.FinalRoundNumber }
func (h *Helper) SSID() []byte                 { return h.ssid }
func (h *Helper) SelfID() party.ID             { return h.info.SelfID }
func (h *Helper) PartyIDs() party.IDSlice      { return h.partyIDs }
func (h *Helper) OtherPartyIDs() party.IDSlice { return h.otherPartyIDs }
func (h *Helper) N() int                       { return len(h.partyIDs) }
func (h *Helper) Group() *group.Group          { return h.info.Group }
