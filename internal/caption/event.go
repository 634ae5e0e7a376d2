package caption

import (
	"fmt"
	"time"
)

// Kind discriminates caption events.
type Kind int

const (
	// KindBegin opens an utterance.
	KindBegin Kind = iota + 1
	// KindUpdate carries the current (cumulative) interim text.
	KindUpdate
	// KindFinalize closes an utterance with its final text.
	KindFinalize
	// KindClear is emitted by Tick when an idle lane drops its text.
	KindClear
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindUpdate:
		return "update"
	case KindFinalize:
		return "finalize"
	case KindClear:
		return "clear"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one caption event for a speaker lane.
type Event struct {
	Kind      Kind
	ID        EventID
	SpeakerID string
	// Seq is the producer's monotonic sequence number for ID. Zero means
	// the event carries none and is never dropped as out of order.
	Seq  int
	Text string
	// HasText distinguishes a finalize with empty text from one without.
	HasText bool
	Lang    string
	At      time.Time
	// Synthetic marks a finalize produced by the lane itself.
	Synthetic bool
}

// Begin builds a begin event.
func Begin(speakerID string, id EventID, at time.Time) Event {
	return Event{Kind: KindBegin, ID: id, SpeakerID: speakerID, At: at}
}

// Update builds an update event.
func Update(speakerID string, id EventID, seq int, text string, at time.Time) Event {
	return Event{Kind: KindUpdate, ID: id, SpeakerID: speakerID, Seq: seq, Text: text, HasText: true, At: at}
}

// Finalize builds a finalize event carrying text.
func Finalize(speakerID string, id EventID, text string, at time.Time) Event {
	return Event{Kind: KindFinalize, ID: id, SpeakerID: speakerID, Text: text, HasText: true, At: at}
}
