package round

// Round is one step of a protocol. A round is finalized once it holds the
// messages it waits for, and Finalize returns the next one.
type Round interface {
	// VerifyMessage checks a peer's message for this round. It must not modify
	// the round, so that messages can be checked concurrently.
	VerifyMessage(msg Message) error

	// StoreMessage keeps what the round needs from a verified message.
	StoreMessage(msg Message) error

	// Finalize computes this round's output, sends it on out and returns the next round.
	// The last round returns ResultRound or AbortRound.
	Finalize(out chan<- *Message) (Session, error)

	// MessageContent returns an empty content to decode the awaited message into,
	// or nil when the round waits for nothing.
	MessageContent() Content

	Number() Number
}
