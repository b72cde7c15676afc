package blind_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ktopiwo/psi/internal/test"
	"github.com/ktopiwo/psi/pkg/blind"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/math/sample"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBlinder(t *testing.T, g *group.Group, pl *pool.Pool) *blind.Blinder {
	b, err := blind.New(g, rand.Reader, pl)
	require.NoError(t, err)
	return b
}

func TestCommutativity(t *testing.T) {
	pl := pool.NewPool(0)
	defer pl.TearDown()
	g := group.Default()
	a := newBlinder(t, g, pl)
	b := newBlinder(t, g, nil)

	s := set.New("alice", "bob", "charlie", "")
	encA, err := a.Encode(s)
	require.NoError(t, err)
	encB, err := b.Encode(s)
	require.NoError(t, err)

	ab, err := b.ReBlind(encA.Blinded)
	require.NoError(t, err)
	ba, err := a.ReBlind(encB.Blinded)
	require.NoError(t, err)

	sort.Strings(ab)
	sort.Strings(ba)
	assert.Equal(t, ab, ba)
}

func TestEncodeOwnSet(t *testing.T) {
	g := group.Default()
	b := newBlinder(t, g, nil)
	s := set.New("alice", "bob", "charlie")

	blinded, err := b.EncodeOwnSet(s)
	require.NoError(t, err)
	require.Len(t, blinded, 3)
	for _, v := range blinded {
		e, err := g.ParseElement(v)
		require.NoError(t, err)
		assert.Equal(t, v, e.String())
	}

	// the encoding is reproducible for a given secret
	again, err := b.EncodeOwnSet(s)
	require.NoError(t, err)
	assert.Equal(t, blinded, again)

	secret, err := b.Secret()
	require.NoError(t, err)
	enc, err := blind.FromSecret(g, secret, nil).Encode(s)
	require.NoError(t, err)
	assert.Equal(t, blinded, enc.Blinded)
	for i, origins := range enc.Origins {
		require.Len(t, origins, 1)
		want := g.Exp(g.HashToElement(origins[0]), secret)
		assert.Equal(t, want.String(), enc.Blinded[i])
	}

	empty, err := b.EncodeOwnSet(set.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncodeCollisions(t *testing.T) {
	// in a group of 5 elements, 20 distinct strings must collide
	g, err := group.New(big.NewInt(5))
	require.NoError(t, err)
	b := newBlinder(t, g, nil)
	var elements []string
	for i := 0; i < 20; i++ {
		elements = append(elements, string(rune('a'+i)))
	}
	enc, err := b.Encode(set.New(elements...))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(enc.Blinded), 5)
	assert.Equal(t, len(enc.Blinded), len(enc.Origins))

	total := 0
	seen := map[string]bool{}
	for i, origins := range enc.Origins {
		total += len(origins)
		assert.False(t, seen[enc.Blinded[i]], "blinded values are distinct")
		seen[enc.Blinded[i]] = true
	}
	assert.Equal(t, 20, total)
}

func TestReBlindKeepsPositions(t *testing.T) {
	g := group.Default()
	b := newBlinder(t, g, nil)
	secret, err := b.Secret()
	require.NoError(t, err)

	in := blind.BlindedSet{"2", "3", "2", "0"}
	out, err := b.ReBlind(in)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, out[0], out[2])
	assert.Equal(t, "0", out[3])
	want := new(big.Int).Exp(big.NewInt(3), secret.Big(), g.Modulus())
	assert.Equal(t, want.String(), out[1])
}

func TestReBlindMalformed(t *testing.T) {
	g, err := group.New(big.NewInt(1019))
	require.NoError(t, err)
	b := newBlinder(t, g, nil)

	for _, in := range []blind.BlindedSet{
		{"12", "abc"},
		{"1019"},
		{"-4"},
		{""},
		{"5", "x", "y"},
	} {
		_, err := b.ReBlind(in)
		assert.ErrorIs(t, err, blind.ErrMalformedGroupElement, "%v", in)
	}

	_, err = b.ReBlind(blind.BlindedSet{"1", "x", "2", "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1")
	assert.Contains(t, err.Error(), "entry 3")
}

func TestSecretNotInitialized(t *testing.T) {
	g := group.Default()
	block := make(chan struct{})
	b := blind.NewAsync(g, &blockingReader{release: block}, nil)
	assert.False(t, b.Ready())

	_, err := b.EncodeOwnSet(set.New("alice"))
	assert.ErrorIs(t, err, blind.ErrSecretNotInitialized)
	_, err = b.ReBlind(blind.BlindedSet{"1"})
	assert.ErrorIs(t, err, blind.ErrSecretNotInitialized)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, b.Wait(context.Background()))
	assert.True(t, b.Ready())
	_, err = b.EncodeOwnSet(set.New("alice"))
	assert.NoError(t, err)
}

func TestRandomnessUnavailable(t *testing.T) {
	_, err := blind.New(group.Default(), test.FailingReader{}, nil)
	assert.ErrorIs(t, err, sample.ErrRandomnessUnavailable)

	b := blind.NewAsync(group.Default(), test.FailingReader{}, nil)
	assert.ErrorIs(t, b.Wait(context.Background()), sample.ErrRandomnessUnavailable)
	_, err = b.EncodeOwnSet(set.New("alice"))
	assert.ErrorIs(t, err, sample.ErrRandomnessUnavailable)
}

func TestProgress(t *testing.T) {
	pl := pool.NewPool(2)
	defer pl.TearDown()
	b := newBlinder(t, group.Default(), pl)
	var calls, last int64
	b.OnProgress(func(done, total int) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, 4, total)
		if done == total {
			atomic.StoreInt64(&last, 1)
		}
	})
	_, err := b.EncodeOwnSet(set.New("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&last))
}

// blockingReader waits for release before reading from crypto/rand.
type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	return rand.Read(p)
}
