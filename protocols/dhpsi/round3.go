package dhpsi

import (
	"fmt"

	"github.com/ktopiwo/psi/internal/metrics"
	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/blind"
	"github.com/ktopiwo/psi/pkg/intersection"
)

var _ round.Round = (*round3)(nil)

type round3 struct {
	*round2

	// peerDouble is our encoding re-blinded by the peer, H(x)ᵃᵇ
	peerDouble blind.DoubleBlindedSet
}

type message3 struct {
	// Double holds the re-blinded values of the receiver's message2, position by position.
	Double []string
}

// VerifyMessage implements round.Round.
//
// - check that the peer re-blinded every value we sent, and nothing else.
func (r *round3) VerifyMessage(msg round.Message) error {
	body, ok := msg.Content.(*message3)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}
	if body.Double == nil {
		return round.ErrNilFields
	}
	if len(body.Double) != len(r.encoded.Blinded) {
		return fmt.Errorf("%w: got %d values, sent %d", intersection.ErrSizeMismatch, len(body.Double), len(r.encoded.Blinded))
	}
	_, err := blind.ParseElements(r.Group(), body.Double)
	return err
}

// StoreMessage implements round.Round.
func (r *round3) StoreMessage(msg round.Message) error {
	r.peerDouble = msg.Content.(*message3).Double
	return nil
}

// Finalize implements round.Round
//
// - match H(x)ᵃᵇ against H(y)ᵇᵃ and output the matched x.
func (r *round3) Finalize(chan<- *round.Message) (round.Session, error) {
	secret, err := r.blinder.Secret()
	if err != nil {
		return r, err
	}
	common, err := intersection.Resolve(r.Group(), r.own, secret, r.peerDouble, r.peerBlinded, r.Pool)
	if err != nil {
		metrics.ProtocolRuns.WithLabelValues(metrics.ResultAbort).Inc()
		return r.AbortRound(err, r.OtherPartyIDs()...), nil
	}
	metrics.ProtocolRuns.WithLabelValues(metrics.ResultOK).Inc()
	return r.ResultRound(common), nil
}

// RoundNumber implements round.Content.
func (message3) RoundNumber() round.Number { return 3 }

// MessageContent implements round.Round.
func (round3) MessageContent() round.Content { return &message3{} }

// Number implements round.Round.
func (round3) Number() round.Number { return 3 }
