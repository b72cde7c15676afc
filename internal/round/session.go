package round

import (
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/party"
)

// Session is the current round of an execution together with what stays
// fixed across rounds.
type Session interface {
	Round
	// Group both parties exponentiate in.
	Group() *group.Group
	ProtocolID() string
	// FinalRoundNumber is the number of the last round before the output.
	FinalRoundNumber() Number
	// SSID identifies the execution. It binds the protocol, the group, the
	// parties and the caller's session ID.
	SSID() []byte
	SelfID() party.ID
	// PartyIDs is sorted and contains SelfID.
	PartyIDs() party.IDSlice
	// OtherPartyIDs is PartyIDs without SelfID.
	OtherPartyIDs() party.IDSlice
	N() int
}
