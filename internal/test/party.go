package test

import (
	"fmt"

	"github.com/ktopiwo/psi/pkg/party"
)

var names = []party.ID{"alice", "bob", "charlie", "dave", "erin", "frank"}

// PartyIDs returns n sorted IDs, the first ones named after the usual cast.
func PartyIDs(n int) party.IDSlice {
	ids := make([]party.ID, n)
	for i := range ids {
		if i < len(names) {
			ids[i] = names[i]
		} else {
			ids[i] = party.ID(fmt.Sprintf("party-%03d", i))
		}
	}
	return party.NewIDSlice(ids)
}
