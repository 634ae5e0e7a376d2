package caption

import (
	"strconv"
	"strings"
)

// EventID identifies an utterance. Producers may reuse an id after it was
// finalized; the lane then re-enters late text under a synthetic id derived
// from the original: "e1" → "e1#2" → "e1#3".
//
// The zero value is the empty original id.
type EventID struct {
	base string
	// n is 0 for an original id and >= 2 for a synthetic one.
	n uint32
}

// Original returns the producer-assigned id base.
func Original(base string) EventID { return EventID{base: base} }

// Synthetic returns the n-th synthetic id for base. n below 2 yields the
// original id.
func Synthetic(base string, n uint32) EventID {
	if n < 2 {
		return EventID{base: base}
	}
	return EventID{base: base, n: n}
}

// ParseEventID parses a wire id. A "#n" suffix with n >= 2 yields a
// synthetic id; anything else is an original id verbatim.
func ParseEventID(s string) EventID {
	i := strings.LastIndexByte(s, '#')
	if i <= 0 {
		return Original(s)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || n < 2 {
		return Original(s)
	}
	return Synthetic(s[:i], uint32(n))
}

// Next returns the synthetic id following id.
func (id EventID) Next() EventID {
	if id.n == 0 {
		return EventID{base: id.base, n: 2}
	}
	return EventID{base: id.base, n: id.n + 1}
}

// Base returns the producer-assigned part of the id.
func (id EventID) Base() string { return id.base }

// Counter returns the synthetic counter, 0 for original ids.
func (id EventID) Counter() uint32 { return id.n }

// IsSynthetic reports whether the id was derived by the lane.
func (id EventID) IsSynthetic() bool { return id.n != 0 }

// IsZero reports whether id is the empty original id.
func (id EventID) IsZero() bool { return id.base == "" && id.n == 0 }

// String renders the wire form.
func (id EventID) String() string {
	if id.n == 0 {
		return id.base
	}
	return id.base + "#" + strconv.FormatUint(uint64(id.n), 10)
}
