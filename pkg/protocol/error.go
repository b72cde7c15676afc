package protocol

import (
	"strconv"
	"strings"

	"github.com/ktopiwo/psi/internal/round"
	"github.com/ktopiwo/psi/pkg/party"
)

// Error is why an execution aborted: the protocol, the round that failed, and the
// peer whose message caused it when that peer is known.
type Error struct {
	Protocol    string
	RoundNumber round.Number
	Culprit     party.ID
	Err         error
}

func (e Error) Error() string {
	var b strings.Builder
	if e.Protocol != "" {
		b.WriteString(e.Protocol)
		b.WriteByte(' ')
	}
	b.WriteString("round ")
	b.WriteString(strconv.Itoa(int(e.RoundNumber)))
	if e.Culprit != "" {
		b.WriteString(" (from ")
		b.WriteString(string(e.Culprit))
		b.WriteByte(')')
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e Error) Unwrap() error { return e.Err }
