package emptiness

import (
	"context"
	"sync"
	"time"
)

// State of a Session.
type State int

const (
	// Idle sessions have a key, or are generating one, and sent nothing.
	Idle State = iota
	// AwaitingPeerStep2 sessions published step1.
	AwaitingPeerStep2
	// Resolved sessions received at least one step2.
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPeerStep2:
		return "awaiting-step2"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Session is one run of the protocol from the initiator's side.
type Session struct {
	id string

	keyReady chan struct{}
	labeler  Labeler
	keyErr   error

	mtx        sync.Mutex
	state      State
	empty      bool
	startedAt  time.Time
	resolvedAt time.Time
	resolved   chan struct{}
}

func newSession(id string) *Session {
	return &Session{
		id:       id,
		keyReady: make(chan struct{}),
		resolved: make(chan struct{}),
	}
}

// ID is sent along step1 so that the peer's answer can be routed back.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// IntersectionEmpty returns the result of the last step2, and false if none arrived yet.
func (s *Session) IntersectionEmpty() (empty, ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.empty, s.state == Resolved
}

// StartedAt returns the time step1 was published.
func (s *Session) StartedAt() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.startedAt
}

// ResolvedAt returns the time the last step2 was processed.
func (s *Session) ResolvedAt() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.resolvedAt
}

// Done is closed once the session resolved.
func (s *Session) Done() <-chan struct{} { return s.resolved }

// Wait blocks until the session resolved or ctx is done.
// Sessions never time out on their own.
func (s *Session) Wait(ctx context.Context) (bool, error) {
	select {
	case <-s.resolved:
		empty, _ := s.IntersectionEmpty()
		return empty, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Session) setKey(l Labeler, err error) {
	s.labeler, s.keyErr = l, err
	close(s.keyReady)
}

// key returns the labeler without blocking.
func (s *Session) key() (Labeler, error) {
	select {
	case <-s.keyReady:
		return s.labeler, s.keyErr
	default:
		return nil, ErrSessionKeyNotReady
	}
}

func (s *Session) waitKey(ctx context.Context) (Labeler, error) {
	select {
	case <-s.keyReady:
		return s.labeler, s.keyErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// keyFailed reports whether generating the key ended in an error.
func (s *Session) keyFailed() bool {
	select {
	case <-s.keyReady:
		return s.keyErr != nil
	default:
		return false
	}
}

// claim moves an Idle session to AwaitingPeerStep2. It returns false if the session was already used.
func (s *Session) claim(now time.Time) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.state != Idle {
		return false
	}
	s.state = AwaitingPeerStep2
	s.startedAt = now
	return true
}

// release undoes claim after step1 could not be sent.
func (s *Session) release() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.state == AwaitingPeerStep2 {
		s.state = Idle
		s.startedAt = time.Time{}
	}
}

// resolve stores a result. Later results overwrite earlier ones.
func (s *Session) resolve(empty bool, now time.Time) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	first := s.state != Resolved
	s.state = Resolved
	s.empty = empty
	s.resolvedAt = now
	if first {
		close(s.resolved)
	}
}
