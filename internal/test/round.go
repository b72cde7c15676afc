package test

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/party"
	"golang.org/x/sync/errgroup"
)

// Rule describes hooks that can be applied to a protocol execution.
type Rule interface {
	// ModifyContent may alter content, which from is about to deliver to to.
	ModifyContent(from, to party.ID, content round.Content)
}

// Rounds finalizes every session, then delivers the messages produced to their recipients,
// round-tripping each content through CBOR as a real transport would.
// The sessions in rounds are replaced by the next ones.
//
// It returns true once all sessions reached an Output or Abort round.
func Rounds(rounds []round.Session, rule Rule) (bool, error) {
	var (
		errGroup errgroup.Group
		N        = len(rounds)
		mtx      sync.Mutex
		out      = make([]*round.Message, 0, N*N)
	)

	for idx := range rounds {
		idx := idx
		errGroup.Go(func() error {
			r := rounds[idx]
			msgs := make(chan *round.Message, N)
			rNew, err := r.Finalize(msgs)
			close(msgs)
			if err != nil {
				return fmt.Errorf("party %s: %w", r.SelfID(), err)
			}
			mtx.Lock()
			defer mtx.Unlock()
			for msg := range msgs {
				out = append(out, msg)
			}
			rounds[idx] = rNew
			return nil
		})
	}
	if err := errGroup.Wait(); err != nil {
		return false, err
	}

	finished := 0
	for _, r := range rounds {
		switch r.(type) {
		case *round.Output, *round.Abort:
			finished++
		}
	}
	if finished == N {
		return true, nil
	}
	if finished > 0 {
		return false, fmt.Errorf("only %d of %d parties finished", finished, N)
	}
	if _, err := checkAllRoundsSame(rounds); err != nil {
		return false, err
	}

	for _, msg := range out {
		for _, r := range rounds {
			if msg.From == r.SelfID() || (msg.To != "" && msg.To != r.SelfID()) {
				continue
			}
			if rule != nil {
				rule.ModifyContent(msg.From, r.SelfID(), msg.Content)
			}
			data, err := cbor.Marshal(msg.Content)
			if err != nil {
				return false, err
			}
			content := r.MessageContent()
			if err = cbor.Unmarshal(data, content); err != nil {
				return false, err
			}
			m := round.Message{From: msg.From, To: msg.To, Content: content}
			if err = r.VerifyMessage(m); err != nil {
				return false, fmt.Errorf("party %s: %w", r.SelfID(), err)
			}
			if err = r.StoreMessage(m); err != nil {
				return false, fmt.Errorf("party %s: %w", r.SelfID(), err)
			}
		}
	}
	return false, nil
}

func checkAllRoundsSame(rounds []round.Session) (reflect.Type, error) {
	var t reflect.Type
	for _, r := range rounds {
		t2 := reflect.TypeOf(r)
		if t == nil {
			t = t2
		} else if t != t2 {
			return t, fmt.Errorf("two different rounds: %s %s", t, t2)
		}
	}
	return t, nil
}
