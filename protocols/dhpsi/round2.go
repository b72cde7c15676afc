package dhpsi

import (
	"time"

	"github.com/ktopiwo/psi/internal/metrics"
	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/blind"
)

var _ round.Round = (*round2)(nil)

type round2 struct {
	*round1
	blinder *blind.Blinder
	// encoded is our own encoding, in the order it was sent
	encoded *blind.Encoding

	// peerBlinded is the peer's H(y)ᵇ
	peerBlinded blind.BlindedSet
}

type message2 struct {
	// Blinded holds H(x)ˢ in base 10 for every element of the sender's set.
	Blinded []string
}

// VerifyMessage implements round.Round.
//
// - check that every value is an element of the group.
func (r *round2) VerifyMessage(msg round.Message) error {
	body, ok := msg.Content.(*message2)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}
	if body.Blinded == nil {
		return round.ErrNilFields
	}
	_, err := blind.ParseElements(r.Group(), body.Blinded)
	return err
}

// StoreMessage implements round.Round.
func (r *round2) StoreMessage(msg round.Message) error {
	r.peerBlinded = msg.Content.(*message2).Blinded
	return nil
}

// Finalize implements round.Round
//
// - send the peer's values raised to s, in the order they were received.
func (r *round2) Finalize(out chan<- *round.Message) (round.Session, error) {
	start := time.Now()
	double, err := r.blinder.ReBlind(r.peerBlinded)
	if err != nil {
		metrics.ProtocolRuns.WithLabelValues(metrics.ResultAbort).Inc()
		return r.AbortRound(err, r.OtherPartyIDs()...), nil
	}
	metrics.ObserveSince("reblind", start)

	if err = r.SendMessage(out, &message3{Double: double}, ""); err != nil {
		return r, err
	}
	return &round3{round2: r}, nil
}

// RoundNumber implements round.Content.
func (message2) RoundNumber() round.Number { return 2 }

// MessageContent implements round.Round.
func (round2) MessageContent() round.Content { return &message2{} }

// Number implements round.Round.
func (round2) Number() round.Number { return 2 }
