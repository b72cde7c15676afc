package dhpsi

import (
	"io"
	"time"

	"github.com/ktopiwo/psi/internal/metrics"
	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/blind"
	"github.com/ktopiwo/psi/pkg/set"
)

var _ round.Round = (*round1)(nil)

type round1 struct {
	*round.Helper

	own      *set.Set
	rand     io.Reader
	progress func(done, total int)
}

// VerifyMessage implements round.Round.
func (r *round1) VerifyMessage(round.Message) error { return nil }

// StoreMessage implements round.Round.
func (r *round1) StoreMessage(round.Message) error { return nil }

// Finalize implements round.Round
//
// - sample a fresh secret s.
// - send H(x)ˢ for every own x.
func (r *round1) Finalize(out chan<- *round.Message) (round.Session, error) {
	blinder, err := blind.New(r.Group(), r.rand, r.Pool)
	if err != nil {
		return r, err
	}
	if r.progress != nil {
		blinder.OnProgress(r.progress)
	}
	start := time.Now()
	enc, err := blinder.Encode(r.own)
	if err != nil {
		return r, err
	}
	metrics.ObserveSince("encode", start)

	if err = r.SendMessage(out, &message2{Blinded: enc.Blinded}, ""); err != nil {
		return r, err
	}
	return &round2{
		round1:  r,
		blinder: blinder,
		encoded: enc,
	}, nil
}

// MessageContent implements round.Round.
func (round1) MessageContent() round.Content { return nil }

// Number implements round.Round.
func (round1) Number() round.Number { return 1 }
