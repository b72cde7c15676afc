// Package emptiness implements a two message protocol that tells the initiator whether
// its set intersects the set of a responder, without revealing the intersection.
//
// The initiator labels its elements with a fresh session key and publishes them as
// step1. The responder relabels them with its own key (doubleFromB), labels its own
// elements (singleFromB), and answers with step2. The initiator relabels singleFromB
// with its key: the intersection is non-empty iff one of the results appears in
// doubleFromB. This requires labelling to commute, see Commutative.
package emptiness

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ktopiwo/psi/pkg/party"
)

// Transport events.
const (
	EventStep1 = "step1"
	EventStep2 = "step2"
)

var (
	// ErrProtocolMessageMalformed is returned for events with missing fields or labels that do not parse.
	// The session is left unchanged.
	ErrProtocolMessageMalformed = errors.New("emptiness: malformed protocol message")
	// ErrSessionKeyNotReady is returned when a session is used before its key was generated.
	ErrSessionKeyNotReady = errors.New("emptiness: session key not ready")
	// ErrSessionNotStarted is returned for a step2 addressed to a session that never sent step1.
	ErrSessionNotStarted = errors.New("emptiness: session not started")
	// ErrUnknownSession is returned for a step2 naming a session this party does not remember.
	ErrUnknownSession = errors.New("emptiness: unknown session")
	// ErrTimeout is returned by Run when no step2 arrived in time.
	ErrTimeout = errors.New("emptiness: no answer from peer")
)

// Step1 is published by the initiator.
//
// Session and From are optional routing fields. A responder copies them into its Step2.
type Step1 struct {
	FromA   []string `json:"fromA"`
	Session string   `json:"session,omitempty"`
	From    party.ID `json:"from,omitempty"`
}

// Step2 is the responder's answer.
//
// A Step2 without Session is routed to the initiator's current session.
type Step2 struct {
	DoubleFromB []string `json:"doubleFromB"`
	SingleFromB []string `json:"singleFromB"`
	Session     string   `json:"session,omitempty"`
	From        party.ID `json:"from,omitempty"`
	To          party.ID `json:"to,omitempty"`
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocolMessageMalformed}, args...)...)
}

// DecodeStep1 parses a step1 payload. A missing fromA is an error, an empty one is not.
func DecodeStep1(payload []byte) (*Step1, error) {
	msg := &Step1{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, malformed("step1: %v", err)
	}
	if msg.FromA == nil {
		return nil, malformed("step1: missing fromA")
	}
	return msg, nil
}

// DecodeStep2 parses a step2 payload. Both doubleFromB and singleFromB must be present.
func DecodeStep2(payload []byte) (*Step2, error) {
	msg := &Step2{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, malformed("step2: %v", err)
	}
	if msg.DoubleFromB == nil {
		return nil, malformed("step2: missing doubleFromB")
	}
	if msg.SingleFromB == nil {
		return nil, malformed("step2: missing singleFromB")
	}
	return msg, nil
}
