package party

import (
	"encoding/binary"
	"io"
	"sort"
)

// IDSlice is a sorted list of party IDs.
type IDSlice []ID

// NewIDSlice returns a sorted slice from partyIDs.
func NewIDSlice(partyIDs []ID) IDSlice {
	ids := IDSlice(partyIDs).Copy()
	ids.sort()
	return ids
}

// Contains returns true if partyIDs contains all ids.
func (partyIDs IDSlice) Contains(ids ...ID) bool {
	for _, id := range ids {
		if _, found := partyIDs.search(id); !found {
			return false
		}
	}
	return true
}

// Valid returns true if the IDSlice is sorted and does not contain any duplicates or empty IDs.
func (partyIDs IDSlice) Valid() bool {
	n := len(partyIDs)
	for i := 0; i < n; i++ {
		if partyIDs[i] == "" {
			return false
		}
		if i > 0 && partyIDs[i-1] >= partyIDs[i] {
			return false
		}
	}
	return true
}

// Copy returns an identical copy of the received.
func (partyIDs IDSlice) Copy() IDSlice {
	a := make(IDSlice, len(partyIDs))
	copy(a, partyIDs)
	return a
}

// Remove finds id in partyIDs and returns a copy of the slice if it was found.
func (partyIDs IDSlice) Remove(id ID) IDSlice {
	newPartyIDs := make(IDSlice, 0, len(partyIDs))
	for _, partyID := range partyIDs {
		if partyID != id {
			newPartyIDs = append(newPartyIDs, partyID)
		}
	}
	return newPartyIDs
}

// Len, Less and Swap implement sort.Interface.
func (partyIDs IDSlice) Len() int           { return len(partyIDs) }
func (partyIDs IDSlice) Less(i, j int) bool { return partyIDs[i] < partyIDs[j] }
func (partyIDs IDSlice) Swap(i, j int)      { partyIDs[i], partyIDs[j] = partyIDs[j], partyIDs[i] }

func (partyIDs IDSlice) sort() { sort.Sort(partyIDs) }

// search returns the index of id, and whether it was present.
func (partyIDs IDSlice) search(x ID) (int, bool) {
	index := sort.Search(len(partyIDs), func(i int) bool { return partyIDs[i] >= x })
	if index >= 0 && index < len(partyIDs) && partyIDs[index] == x {
		return index, true
	}
	return 0, false
}

// WriteTo writes the count, then every ID prefixed by its length.
func (partyIDs IDSlice) WriteTo(w io.Writer) (int64, error) {
	if partyIDs == nil {
		return 0, io.ErrUnexpectedEOF
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(partyIDs))); err != nil {
		return 0, err
	}
	nAll := int64(4)
	for _, id := range partyIDs {
		if err := binary.Write(w, binary.BigEndian, uint32(len(id))); err != nil {
			return nAll, err
		}
		nAll += 4
		n, err := id.WriteTo(w)
		nAll += n
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.Domained.
func (IDSlice) Domain() string {
	return "IDSlice"
}
