package emptiness_test

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ktopiwo/psi/internal/test"
	"github.com/ktopiwo/psi/pkg/math/sample"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/ktopiwo/psi/pkg/transport"
	"github.com/ktopiwo/psi/pkg/transport/memory"
	"github.com/ktopiwo/psi/protocols/emptiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	set1 = []string{"alice", "bob", "charlie"}
	set2 = []string{"bob", "oscar"}
	set3 = []string{"greta", "donald", "oscar"}
)

func newBus(t *testing.T) *memory.Bus {
	bus := memory.New()
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func newParty(t *testing.T, cfg emptiness.Config) *emptiness.Party {
	if cfg.Logger == nil {
		cfg.Logger = test.Logger(t)
	}
	p, err := emptiness.New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

// recorder keeps every payload published under an event.
type recorder struct {
	mtx      sync.Mutex
	payloads [][]byte
}

func record(t *testing.T, tr transport.Transport, event string) *recorder {
	r := &recorder{}
	_, err := tr.Subscribe(event, func(payload []byte) {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		r.payloads = append(r.payloads, payload)
	})
	require.NoError(t, err)
	return r
}

func (r *recorder) all() [][]byte {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([][]byte(nil), r.payloads...)
}

func (r *recorder) step1(t *testing.T, i int) *emptiness.Step1 {
	all := r.all()
	require.Greater(t, len(all), i)
	msg, err := emptiness.DecodeStep1(all[i])
	require.NoError(t, err)
	return msg
}

// answer plays the responder for msg by hand.
func answer(t *testing.T, scheme emptiness.Scheme, msg *emptiness.Step1, own []string, session string) []byte {
	l := newLabeler(t, scheme)
	reply := emptiness.Step2{DoubleFromB: []string{}, SingleFromB: []string{}, Session: session}
	for _, h := range msg.FromA {
		v, err := l.Relabel(h)
		require.NoError(t, err)
		reply.DoubleFromB = append(reply.DoubleFromB, v)
	}
	for _, y := range own {
		reply.SingleFromB = append(reply.SingleFromB, l.Label(y))
	}
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	return data
}

func TestEmptiness(t *testing.T) {
	tests := []struct {
		name      string
		a, b      []string
		wantEmpty bool
	}{
		{"shared", set1, set2, false},
		{"disjoint", set1, set3, true},
		{"identical", set2, set2, false},
		{"empty initiator", nil, set2, true},
		{"empty responder", set1, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newBus(t)
			a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(tt.a...), Transport: bus})
			newParty(t, emptiness.Config{SelfID: "b", Set: set.New(tt.b...), Transport: bus, Respond: true})

			s, err := a.Start(ctx(t))
			require.NoError(t, err)
			empty, err := s.Wait(ctx(t))
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmpty, empty)
			assert.Equal(t, emptiness.Resolved, s.State())
		})
	}
}

func TestBothDirections(t *testing.T) {
	bus := newBus(t)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Respond: true})
	b := newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set2...), Transport: bus, Respond: true})

	sa, err := a.Start(ctx(t))
	require.NoError(t, err)
	sb, err := b.Start(ctx(t))
	require.NoError(t, err)
	for _, s := range []*emptiness.Session{sa, sb} {
		empty, err := s.Wait(ctx(t))
		require.NoError(t, err)
		assert.False(t, empty)
	}
}

func TestKeyedHashReportsEmpty(t *testing.T) {
	// keyed hashes do not commute, so even identical sets look disjoint
	bus := newBus(t)
	scheme := emptiness.KeyedHash{}
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set2...), Transport: bus, Scheme: scheme})
	newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set2...), Transport: bus, Scheme: scheme, Respond: true})

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	empty, err := s.Wait(ctx(t))
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestSchemeMismatchIsReported(t *testing.T) {
	bus := newBus(t)
	errs := make(chan error, 1)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set2...), Transport: bus, Scheme: emptiness.KeyedHash{}})
	newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set2...), Transport: bus, Respond: true, OnError: func(err error) { errs <- err }})

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))
	assert.ErrorIs(t, <-errs, emptiness.ErrProtocolMessageMalformed)
	assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
}

func TestMalformedStep2(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus})
	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))
	valid := answer(t, emptiness.Commutative{}, steps.step1(t, 0), set2, "")

	for _, payload := range []string{
		`not json`,
		`{}`,
		`{"doubleFromB": []}`,
		`{"singleFromB": []}`,
		`{"doubleFromB": null, "singleFromB": []}`,
		`{"doubleFromB": ["zz"], "singleFromB": []}`,
		`{"doubleFromB": [], "singleFromB": ["abc"]}`,
		`{"doubleFromB": 3, "singleFromB": []}`,
	} {
		err := a.HandleStep2([]byte(payload))
		assert.ErrorIs(t, err, emptiness.ErrProtocolMessageMalformed, payload)
		assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
		_, ok := s.IntersectionEmpty()
		assert.False(t, ok)
	}

	require.NoError(t, a.HandleStep2(valid))
	empty, ok := s.IntersectionEmpty()
	assert.True(t, ok)
	assert.False(t, empty)
}

func TestDuplicateStep2LastWriteWins(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus})
	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))
	step1 := steps.step1(t, 0)

	require.NoError(t, a.HandleStep2(answer(t, emptiness.Commutative{}, step1, set2, s.ID())))
	empty, _ := s.IntersectionEmpty()
	assert.False(t, empty)

	require.NoError(t, a.HandleStep2(answer(t, emptiness.Commutative{}, step1, set3, s.ID())))
	empty, ok := s.IntersectionEmpty()
	assert.True(t, ok)
	assert.True(t, empty)

	require.NoError(t, a.HandleStep2(answer(t, emptiness.Commutative{}, step1, set2, "")))
	empty, _ = s.IntersectionEmpty()
	assert.False(t, empty)
}

func TestRestartKeepsResolvedSession(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus})
	newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set2...), Transport: bus, Respond: true})

	first, err := a.Start(ctx(t))
	require.NoError(t, err)
	_, err = first.Wait(ctx(t))
	require.NoError(t, err)

	second, err := a.Start(ctx(t))
	require.NoError(t, err)
	_, err = second.Wait(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, second, a.Current())
	got, ok := a.Session(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)
	empty, ok := first.IntersectionEmpty()
	assert.True(t, ok)
	assert.False(t, empty)

	// the same set labelled under two keys shares no label
	s1, s2 := steps.step1(t, 0), steps.step1(t, 1)
	assert.Equal(t, first.ID(), s1.Session)
	assert.Equal(t, second.ID(), s2.Session)
	for _, l := range s1.FromA {
		assert.NotContains(t, s2.FromA, l)
	}
}

func TestStartWhileAwaiting(t *testing.T) {
	bus := newBus(t)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus})
	first, err := a.Start(ctx(t))
	require.NoError(t, err)
	second, err := a.Start(ctx(t))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, emptiness.AwaitingPeerStep2, first.State())
}

func TestRouting(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus})

	// step2 before any step1
	require.Eventually(t, func() bool {
		return !errors.Is(a.HandleStep2([]byte(`{"doubleFromB":[],"singleFromB":[]}`)), emptiness.ErrSessionKeyNotReady)
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, a.HandleStep2([]byte(`{"doubleFromB":[],"singleFromB":[]}`)), emptiness.ErrSessionNotStarted)

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))
	step1 := steps.step1(t, 0)
	assert.Equal(t, party.ID("a"), step1.From)

	err = a.HandleStep2([]byte(`{"doubleFromB":[],"singleFromB":[],"session":"nope"}`))
	assert.ErrorIs(t, err, emptiness.ErrUnknownSession)

	// not for us
	for _, payload := range []string{
		`{"doubleFromB":[],"singleFromB":[],"to":"c"}`,
		`{"doubleFromB":[],"singleFromB":[],"from":"a"}`,
	} {
		require.NoError(t, a.HandleStep2([]byte(payload)))
		assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
	}

	require.NoError(t, a.HandleStep2([]byte(`{"doubleFromB":[],"singleFromB":[],"to":"a"}`)))
	empty, ok := s.IntersectionEmpty()
	assert.True(t, ok)
	assert.True(t, empty)
}

func TestResponderIgnoresOwnStep1(t *testing.T) {
	bus := newBus(t)
	answers := record(t, bus, emptiness.EventStep2)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Respond: true})
	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))
	assert.Empty(t, answers.all())
	assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
}

func TestResponderAnswer(t *testing.T) {
	bus := newBus(t)
	answers := record(t, bus, emptiness.EventStep2)
	b := newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set2...), Transport: bus, Respond: true})

	l := newLabeler(t, emptiness.Commutative{})
	fromA := []string{l.Label("x"), l.Label("y"), l.Label("z")}
	payload, err := json.Marshal(emptiness.Step1{FromA: fromA, Session: "s1", From: "a"})
	require.NoError(t, err)
	require.NoError(t, b.HandleStep1(payload))
	require.NoError(t, bus.Flush(ctx(t)))

	all := answers.all()
	require.Len(t, all, 1)
	msg, err := emptiness.DecodeStep2(all[0])
	require.NoError(t, err)
	assert.Len(t, msg.DoubleFromB, 3)
	assert.Len(t, msg.SingleFromB, 2)
	assert.IsIncreasing(t, msg.DoubleFromB)
	assert.IsIncreasing(t, msg.SingleFromB)
	assert.Equal(t, "s1", msg.Session)
	assert.Equal(t, party.ID("b"), msg.From)
	assert.Equal(t, party.ID("a"), msg.To)

	assert.ErrorIs(t, b.HandleStep1([]byte(`{"fromA":["nothex"]}`)), emptiness.ErrProtocolMessageMalformed)
	assert.ErrorIs(t, b.HandleStep1([]byte(`{}`)), emptiness.ErrProtocolMessageMalformed)
}

func TestOnError(t *testing.T) {
	bus := newBus(t)
	errs := make(chan error, 4)
	newParty(t, emptiness.Config{SelfID: "b", Transport: bus, Respond: true, OnError: func(err error) { errs <- err }})
	require.NoError(t, bus.Publish(ctx(t), emptiness.EventStep1, []byte(`{"fromB":[]}`)))
	require.NoError(t, bus.Publish(ctx(t), emptiness.EventStep2, []byte(`[]`)))
	require.NoError(t, bus.Flush(ctx(t)))
	require.Len(t, errs, 2)
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, emptiness.ErrProtocolMessageMalformed)
	}
}

func TestClock(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	clock := clockwork.NewFakeClock()
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Clock: clock})

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), s.StartedAt())
	require.NoError(t, bus.Flush(ctx(t)))

	clock.Advance(5 * time.Second)
	require.NoError(t, a.HandleStep2(answer(t, emptiness.Commutative{}, steps.step1(t, 0), set3, s.ID())))
	assert.Equal(t, 5*time.Second, s.ResolvedAt().Sub(s.StartedAt()))
}

func TestRunRetries(t *testing.T) {
	bus := newBus(t)
	steps := record(t, bus, emptiness.EventStep1)
	clock := clockwork.NewFakeClock()
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Clock: clock})

	c := ctx(t)
	done := make(chan error, 1)
	go func() {
		_, err := a.Run(c, time.Minute, 1)
		done <- err
	}()
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
	}
	assert.ErrorIs(t, <-done, emptiness.ErrTimeout)
	require.NoError(t, bus.Flush(ctx(t)))
	require.Len(t, steps.all(), 2)
	assert.NotEqual(t, steps.step1(t, 0).Session, steps.step1(t, 1).Session)
}

func TestRunAnswered(t *testing.T) {
	bus := newBus(t)
	clock := clockwork.NewFakeClock()
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Clock: clock})
	newParty(t, emptiness.Config{SelfID: "b", Set: set.New(set3...), Transport: bus, Respond: true})

	empty, err := a.Run(ctx(t), time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestRandomnessUnavailable(t *testing.T) {
	bus := newBus(t)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Rand: test.FailingReader{}})
	_, err := a.Start(ctx(t))
	assert.ErrorIs(t, err, sample.ErrRandomnessUnavailable)
	assert.Equal(t, emptiness.Idle, a.Current().State())
}

func TestRandomnessRecovers(t *testing.T) {
	bus := newBus(t)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Rand: &flakyReader{failures: 1}})
	broken := a.Current()

	_, err := a.Start(ctx(t))
	assert.ErrorIs(t, err, sample.ErrRandomnessUnavailable)
	assert.NotEqual(t, broken.ID(), a.Current().ID(), "a session whose key failed is replaced")
	assert.Equal(t, emptiness.Idle, broken.State())

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
	s2, err := a.Start(ctx(t))
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), s2.ID())
}

func TestLoneResponder(t *testing.T) {
	bus := newBus(t)
	answers := record(t, bus, emptiness.EventStep2)
	a := newParty(t, emptiness.Config{Set: set.New(set1...), Transport: bus, Respond: true})
	assert.NotEmpty(t, a.ID())

	s, err := a.Start(ctx(t))
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx(t)))

	assert.Empty(t, answers.all(), "own step1 is not answered")
	assert.Equal(t, emptiness.AwaitingPeerStep2, s.State())
	_, ok := s.IntersectionEmpty()
	assert.False(t, ok)
}

func TestRandomIDsDiffer(t *testing.T) {
	bus := newBus(t)
	a := newParty(t, emptiness.Config{Set: set.New(set1...), Transport: bus})
	b := newParty(t, emptiness.Config{Set: set.New(set2...), Transport: bus, Respond: true})
	assert.NotEqual(t, a.ID(), b.ID())

	empty, err := a.Run(ctx(t), 10*time.Second, 0)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestKeyNotReady(t *testing.T) {
	bus := newBus(t)
	release := make(chan struct{})
	defer close(release)
	a := newParty(t, emptiness.Config{SelfID: "a", Set: set.New(set1...), Transport: bus, Rand: blockingReader(release)})

	err := a.HandleStep2([]byte(`{"doubleFromB":[],"singleFromB":[]}`))
	assert.ErrorIs(t, err, emptiness.ErrSessionKeyNotReady)

	c, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Start(c)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, emptiness.Idle, a.Current().State())
}

func TestClose(t *testing.T) {
	bus := newBus(t)
	a, err := emptiness.New(emptiness.Config{SelfID: "a", Transport: bus, Respond: true})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers(emptiness.EventStep1))
	assert.Equal(t, 1, bus.Subscribers(emptiness.EventStep2))
	a.Close()
	a.Close()
	assert.Zero(t, bus.Subscribers(emptiness.EventStep1))
	assert.Zero(t, bus.Subscribers(emptiness.EventStep2))
	_, err = a.Start(ctx(t))
	assert.ErrorIs(t, err, transport.ErrClosed)

	_, err = emptiness.New(emptiness.Config{})
	assert.Error(t, err)
}

// flakyReader fails its first reads, then reads from crypto/rand.
type flakyReader struct {
	failures int64
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if atomic.AddInt64(&r.failures, -1) >= 0 {
		return 0, test.ErrEntropy
	}
	return rand.Read(p)
}

type blockingReader chan struct{}

func (r blockingReader) Read(p []byte) (int, error) {
	<-r
	return len(p), nil
}
