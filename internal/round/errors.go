package round

import "errors"

var (
	// ErrOutChanFull indicates that the out channel passed to Finalize cannot hold another message.
	ErrOutChanFull = errors.New("round: out channel is full")
	// ErrInvalidContent indicates that the content of a message has the wrong type for the round.
	ErrInvalidContent = errors.New("round: content is not the expected type")
	// ErrNilFields indicates that a message is missing a required field.
	ErrNilFields = errors.New("round: message contained empty fields")
)
