package emptiness

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/ktopiwo/psi/internal/metrics"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/ktopiwo/psi/pkg/transport"
)

// DefaultHistory is the number of past sessions a Party keeps to route late answers.
const DefaultHistory = 64

// Config holds the dependencies of a Party. Only Transport is required.
type Config struct {
	// SelfID tells this party's events apart from its peers'. A random one is used if empty.
	SelfID    party.ID
	Set       *set.Set
	Transport transport.Transport
	// Scheme defaults to Commutative over group.Default().
	Scheme Scheme
	// Rand defaults to crypto/rand.
	Rand   io.Reader
	Pool   *pool.Pool
	Logger log.Logger
	Clock  clockwork.Clock
	// Respond makes the party answer the step1 of its peers.
	Respond bool
	// OnError is called with every inbound event that was rejected.
	OnError func(err error)
	// History is the number of sessions remembered, DefaultHistory if 0.
	History int
}

// Party runs the protocol for one set, as initiator and optionally as responder.
type Party struct {
	self    party.ID
	set     *set.Set
	tr      transport.Transport
	scheme  Scheme
	rand    io.Reader
	pl      *pool.Pool
	log     log.Logger
	clock   clockwork.Clock
	onError func(error)

	ctx    context.Context
	cancel context.CancelFunc
	subs   []transport.Subscription

	mtx     sync.Mutex
	current *Session
	history *lru.Cache
	closed  bool
}

// New subscribes to step2, and to step1 if cfg.Respond is set, and prepares an Idle session.
func New(cfg Config) (*Party, error) {
	if cfg.Transport == nil {
		return nil, errors.New("emptiness: no transport")
	}
	p := &Party{
		self:    cfg.SelfID,
		set:     cfg.Set,
		tr:      cfg.Transport,
		scheme:  cfg.Scheme,
		rand:    cfg.Rand,
		pl:      cfg.Pool,
		log:     cfg.Logger,
		clock:   cfg.Clock,
		onError: cfg.OnError,
	}
	if p.self == "" {
		// the transport may echo our own events back, and only the ID filters them
		p.self = party.ID(uuid.New().String())
	}
	if p.set == nil {
		p.set = set.New()
	}
	if p.scheme == nil {
		p.scheme = Commutative{}
	}
	if p.rand == nil {
		p.rand = rand.Reader
	}
	// keys of successive sessions may be sampled concurrently
	p.rand = pool.NewLockedReader(p.rand)
	if p.log == nil {
		p.log = log.Nop()
	}
	p.log = p.log.Named("emptiness").With("party", string(p.self), "scheme", p.scheme.Name())
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	size := cfg.History
	if size <= 0 {
		size = DefaultHistory
	}
	history, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("emptiness: %w", err)
	}
	p.history = history
	p.ctx, p.cancel = context.WithCancel(context.Background())

	sub, err := p.tr.Subscribe(EventStep2, p.onEvent(EventStep2, p.HandleStep2))
	if err != nil {
		return nil, fmt.Errorf("emptiness: subscribe %s: %w", EventStep2, err)
	}
	p.subs = append(p.subs, sub)
	if cfg.Respond {
		sub, err = p.tr.Subscribe(EventStep1, p.onEvent(EventStep1, p.HandleStep1))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("emptiness: subscribe %s: %w", EventStep1, err)
		}
		p.subs = append(p.subs, sub)
	}

	p.mtx.Lock()
	p.current = p.newSession()
	p.mtx.Unlock()
	return p, nil
}

func (p *Party) onEvent(event string, handle func([]byte) error) transport.Handler {
	return func(payload []byte) {
		if err := handle(payload); err != nil {
			p.report(event, err)
		}
	}
}

func (p *Party) report(event string, err error) {
	if errors.Is(err, ErrProtocolMessageMalformed) {
		metrics.MalformedMessages.WithLabelValues(event).Inc()
	}
	p.log.Warnw("rejected event", "event", event, "err", err)
	if p.onError != nil {
		p.onError(err)
	}
}

// newSession creates a session and generates its key in the background. p.mtx must be held.
func (p *Party) newSession() *Session {
	s := newSession(uuid.New().String())
	go func() {
		key, err := NewKey(p.rand)
		if err != nil {
			s.setKey(nil, err)
			return
		}
		s.setKey(p.scheme.Labeler(key))
	}()
	p.history.Add(s.id, s)
	return s
}

// ID is the party ID set on outgoing events.
func (p *Party) ID() party.ID { return p.self }

// Current returns the latest session.
func (p *Party) Current() *Session {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.current
}

// Session returns a remembered session by ID.
func (p *Party) Session(id string) (*Session, bool) {
	v, ok := p.history.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Start publishes step1 for a session with a key never used before, and returns that session.
// The current session is used if it is still Idle, otherwise a new one replaces it;
// sessions that already resolved keep their result.
func (p *Party) Start(ctx context.Context) (*Session, error) {
	p.mtx.Lock()
	if p.closed {
		p.mtx.Unlock()
		return nil, transport.ErrClosed
	}
	s := p.current
	if !s.claim(p.clock.Now()) {
		s = p.newSession()
		s.claim(p.clock.Now())
		p.current = s
	}
	p.mtx.Unlock()

	if err := p.start(ctx, s); err != nil {
		s.release()
		if s.keyFailed() {
			// the session is unusable, the next Start gets a fresh key
			p.mtx.Lock()
			if p.current == s && !p.closed {
				p.current = p.newSession()
			}
			p.mtx.Unlock()
		}
		return nil, err
	}
	return s, nil
}

func (p *Party) start(ctx context.Context, s *Session) error {
	labeler, err := s.waitKey(ctx)
	if err != nil {
		return fmt.Errorf("emptiness.Start: %w", err)
	}
	begin := time.Now()
	labels := p.label(labeler)
	metrics.ObserveSince("label", begin)

	payload, err := json.Marshal(&Step1{FromA: labels, Session: s.id, From: p.self})
	if err != nil {
		return fmt.Errorf("emptiness.Start: %w", err)
	}
	if err = p.tr.Publish(ctx, EventStep1, payload); err != nil {
		return fmt.Errorf("emptiness.Start: %w", err)
	}
	metrics.EmptinessSessions.WithLabelValues(metrics.RoleInitiator, metrics.StateStarted).Inc()
	p.log.Debugw("published step1", "session", s.id, "labels", len(labels))
	return nil
}

// label returns the sorted labels of the own set.
func (p *Party) label(l Labeler) []string {
	elements := p.set.Sorted()
	labels := make([]string, len(elements))
	p.pl.Parallelize(len(elements), func(i int) {
		labels[i] = l.Label(elements[i])
	})
	sort.Strings(labels)
	return labels
}

// HandleStep2 resolves the session a step2 answers.
//
// Events published by this party, or addressed to another one, are ignored.
// On error, no session changes.
func (p *Party) HandleStep2(payload []byte) error {
	msg, err := DecodeStep2(payload)
	if err != nil {
		return err
	}
	if msg.From == p.self || (msg.To != "" && msg.To != p.self) {
		return nil
	}

	var s *Session
	if msg.Session == "" {
		s = p.Current()
	} else {
		var ok bool
		if s, ok = p.Session(msg.Session); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSession, msg.Session)
		}
	}

	labeler, err := s.key()
	if err != nil {
		return err
	}
	if s.State() == Idle {
		return fmt.Errorf("%w: %s", ErrSessionNotStarted, s.id)
	}
	if err = checkAll(p.scheme, "doubleFromB", msg.DoubleFromB); err != nil {
		return err
	}

	double := make(map[string]struct{}, len(msg.DoubleFromB))
	for _, v := range msg.DoubleFromB {
		double[v] = struct{}{}
	}
	var errs *multierror.Error
	empty := true
	for i, h := range msg.SingleFromB {
		v, err := labeler.Relabel(h)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("singleFromB[%d]: %w", i, err))
			continue
		}
		if _, ok := double[v]; ok {
			empty = false
		}
	}
	if err = errs.ErrorOrNil(); err != nil {
		return err
	}

	s.resolve(empty, p.clock.Now())
	metrics.EmptinessSessions.WithLabelValues(metrics.RoleInitiator, metrics.StateResolved).Inc()
	p.log.Infow("session resolved", "session", s.id, "empty", empty)
	return nil
}

// HandleStep1 answers a peer's step1 with a key used for this answer only.
//
// doubleFromB and singleFromB are sorted, so the initiator learns nothing about
// which of its elements matched.
func (p *Party) HandleStep1(payload []byte) error {
	msg, err := DecodeStep1(payload)
	if err != nil {
		return err
	}
	if msg.From == p.self {
		return nil
	}
	if err = checkAll(p.scheme, "fromA", msg.FromA); err != nil {
		return err
	}
	metrics.EmptinessSessions.WithLabelValues(metrics.RoleResponder, metrics.StateStarted).Inc()

	key, err := NewKey(p.rand)
	if err != nil {
		return fmt.Errorf("emptiness.HandleStep1: %w", err)
	}
	labeler, err := p.scheme.Labeler(key)
	if err != nil {
		return fmt.Errorf("emptiness.HandleStep1: %w", err)
	}

	begin := time.Now()
	double := make([]string, len(msg.FromA))
	errs := make([]error, len(msg.FromA))
	p.pl.Parallelize(len(msg.FromA), func(i int) {
		double[i], errs[i] = labeler.Relabel(msg.FromA[i])
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	sort.Strings(double)
	single := p.label(labeler)
	metrics.ObserveSince("relabel", begin)

	answer, err := json.Marshal(&Step2{
		DoubleFromB: double,
		SingleFromB: single,
		Session:     msg.Session,
		From:        p.self,
		To:          msg.From,
	})
	if err != nil {
		return fmt.Errorf("emptiness.HandleStep1: %w", err)
	}
	if err = p.tr.Publish(p.ctx, EventStep2, answer); err != nil {
		return fmt.Errorf("emptiness.HandleStep1: %w", err)
	}
	metrics.EmptinessSessions.WithLabelValues(metrics.RoleResponder, metrics.StateResolved).Inc()
	p.log.Debugw("answered step1", "session", msg.Session, "peer", string(msg.From))
	return nil
}

// Run starts a session and waits at most timeout for its answer, starting over with a
// fresh session up to retries times.
func (p *Party) Run(ctx context.Context, timeout time.Duration, retries int) (bool, error) {
	for attempt := 0; ; attempt++ {
		s, err := p.Start(ctx)
		if err != nil {
			return false, err
		}
		select {
		case <-s.Done():
			empty, _ := s.IntersectionEmpty()
			return empty, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-p.clock.After(timeout):
		}
		if attempt >= retries {
			return false, fmt.Errorf("%w after %d attempts", ErrTimeout, attempt+1)
		}
		p.log.Infow("no answer, retrying", "session", s.id, "attempt", attempt+1)
	}
}

// Close unsubscribes from the transport. Sessions keep their state.
func (p *Party) Close() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
}
