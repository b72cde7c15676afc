package party

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDSlice_Valid(t *testing.T) {
	tests := []struct {
		name     string
		partyIDs IDSlice
		want     bool
	}{
		{"empty", IDSlice{}, true},
		{"sorted", IDSlice{"a", "b"}, true},
		{"unsorted", IDSlice{"b", "a"}, false},
		{"duplicate", IDSlice{"a", "a"}, false},
		{"empty id", IDSlice{"", "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.partyIDs.Valid())
		})
	}
}

func TestNewIDSlice(t *testing.T) {
	in := []ID{"bob", "alice"}
	ids := NewIDSlice(in)
	assert.Equal(t, IDSlice{"alice", "bob"}, ids)
	// input is not modified
	assert.Equal(t, []ID{"bob", "alice"}, in)
	assert.True(t, ids.Contains("alice", "bob"))
	assert.False(t, ids.Contains("carol"))
	assert.Equal(t, IDSlice{"bob"}, ids.Remove("alice"))
}
