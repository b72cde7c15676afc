package protocol

import (
	"fmt"

	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/party"
)

// Message is the unit a Handler exchanges with its peer, encoded with CBOR on the wire.
type Message struct {
	// SSID of the execution the message belongs to.
	SSID []byte
	From party.ID
	// To is empty for messages addressed to every other party.
	To       party.ID
	Protocol string
	// RoundNumber 0 is reserved for abort notices, whose Data is the error text.
	RoundNumber round.Number
	// Data is the CBOR encoded round content.
	Data []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s round %d: %s -> %s", m.Protocol, m.RoundNumber, m.From, m.recipient())
}

func (m Message) recipient() party.ID {
	if m.To == "" {
		return "*"
	}
	return m.To
}

// Aborted reports whether the sender gave up on the execution.
func (m Message) Aborted() bool {
	return m.RoundNumber == 0
}

// IsFor reports whether id should receive m. Nobody receives its own messages.
func (m Message) IsFor(id party.ID) bool {
	return m.From != id && (m.To == "" || m.To == id)
}
