package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	in := []string{"charlie", "alice", "bob", "alice"}
	s := New(in...)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"alice", "bob", "charlie"}, s.Sorted())

	in[0] = "mallory"
	assert.False(t, s.Contains("mallory"))
	assert.True(t, s.Contains("alice", "charlie"))
}

func TestEmpty(t *testing.T) {
	var nilSet *Set
	assert.True(t, nilSet.Empty())
	assert.True(t, New().Empty())
	assert.False(t, nilSet.Contains("x"))
	assert.Equal(t, []string{}, nilSet.Sorted())
	assert.True(t, New().Equal(nilSet))
	assert.Equal(t, "{}", New().String())
}

func TestEqualAndSubset(t *testing.T) {
	a := New("x", "y")
	b := New("y", "x", "y")
	c := New("x", "y", "z")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.IsSubsetOf(c))
	assert.False(t, c.IsSubsetOf(a))
}

func TestIntersect(t *testing.T) {
	a := New("alice", "bob", "charlie")
	assert.True(t, a.Intersect(New("bob", "oscar")).Equal(New("bob")))
	assert.True(t, a.Intersect(New("greta", "donald", "oscar")).Empty())
	assert.Equal(t, "{alice, bob, charlie}", a.String())
}
