package sample

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"testing"

	"github.com/cronokirby/saferith"
	"github.com/ktopiwo/psi/internal/test"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModN(t *testing.T) {
	n := saferith.ModulusFromUint64(3 * 11 * 65519)
	for i := 0; i < 100; i++ {
		x, err := ModN(rand.Reader, n)
		require.NoError(t, err)
		_, _, lt := x.CmpMod(n)
		if lt != 1 {
			t.Errorf("ModN generated a number >= %v: %v", n, x)
		}
	}
}

func TestScalarRange(t *testing.T) {
	g, err := group.New(big.NewInt(23))
	require.NoError(t, err)
	r := mrand.New(mrand.NewSource(1))
	seen := map[int64]bool{}
	for i := 0; i < 2000; i++ {
		s, err := Scalar(r, g)
		require.NoError(t, err)
		v := s.Big().Int64()
		require.GreaterOrEqual(t, v, int64(1))
		require.Less(t, v, int64(22))
		seen[v] = true
	}
	// every value in [1, 22) should appear
	assert.Len(t, seen, 21)
}

func TestScalarDefaultGroup(t *testing.T) {
	g := group.Default()
	pMinusOne := new(big.Int).Sub(g.Modulus(), big.NewInt(1))
	for i := 0; i < 20; i++ {
		s, err := Scalar(rand.Reader, g)
		require.NoError(t, err)
		assert.Equal(t, 1, s.Big().Cmp(big.NewInt(0)))
		assert.Equal(t, -1, s.Big().Cmp(pMinusOne))
	}
}

func TestRandomnessUnavailable(t *testing.T) {
	_, err := Scalar(test.FailingReader{}, group.Default())
	require.ErrorIs(t, err, ErrRandomnessUnavailable)

	_, err = SessionKey(test.FailingReader{})
	require.ErrorIs(t, err, ErrRandomnessUnavailable)
}

func TestSessionKeyFresh(t *testing.T) {
	k1, err := SessionKey(rand.Reader)
	require.NoError(t, err)
	k2, err := SessionKey(rand.Reader)
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.NotEqual(t, k1, k2)
}

func TestSource(t *testing.T) {
	for _, name := range []string{"", "system", "frand"} {
		r, err := Source(name)
		require.NoError(t, err, name)
		_, err = Scalar(r, group.Default())
		require.NoError(t, err, name)
	}
	_, err := Source("dice")
	require.Error(t, err)
}

// This exists to save the results of functions we want to benchmark, to avoid
// having them optimized away.
var resultScalar *group.Scalar

func BenchmarkScalar(b *testing.B) {
	g := group.Default()
	for i := 0; i < b.N; i++ {
		resultScalar, _ = Scalar(rand.Reader, g)
	}
}
