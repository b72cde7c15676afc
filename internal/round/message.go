package round

import "github.com/ktopiwo/psi/pkg/party"

// Content is the payload a round sends. It knows the round it is meant for.
type Content interface {
	RoundNumber() Number
}

// Message is Content with its routing, before the handler encodes it.
// An empty To addresses every other party.
type Message struct {
	From, To party.ID
	Content  Content
}
