package round

import (
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/party"
)

// Info describes an execution to NewSession.
type Info struct {
	ProtocolID       string
	FinalRoundNumber Number
	SelfID           party.ID
	// PartyIDs need not be sorted.
	PartyIDs []party.ID
	Group    *group.Group
}
