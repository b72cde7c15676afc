package test

import (
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/protocol"
)

// HandlerLoop relays the messages of h through network until h closes its output,
// then waits for the other parties. Read the outcome from h.Result.
func HandlerLoop(id party.ID, h protocol.Handler, network *Network) {
	in := network.Next(id)
	out := h.Listen()
	for out != nil {
		select {
		case msg, ok := <-out:
			if !ok {
				out = nil
				break
			}
			go network.Send(msg)
		case msg := <-in:
			h.Accept(msg)
		}
	}
	<-network.Done(id)
}
