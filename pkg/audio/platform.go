// Package audio defines the capture side of a voice channel: a [Platform]
// joins a channel and returns a [Connection] that delivers decoded,
// speaker-tagged PCM frames together with participant lifecycle events.
//
// Implementations are provided by platform adapter packages (audio/discord).
// The interfaces live under pkg/ because third-party adapters are expected
// to implement them.
package audio

import "context"

// EventType classifies participant events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave

	// EventSpeakingStart is emitted when audio from a participant resumes.
	EventSpeakingStart

	// EventSpeakingStop is emitted when a participant's audio pauses.
	EventSpeakingStop
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventSpeakingStart:
		return "SPEAKING_START"
	case EventSpeakingStop:
		return "SPEAKING_STOP"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant change on a voice channel.
type Event struct {
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the display name, when the platform knows it.
	Username string

	// AvatarURL is optional.
	AvatarURL string
}

// Connection is an active capture session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Frames returns the channel of decoded frames from all participants. Each
	// frame carries the SpeakerID it was captured from. The channel is closed
	// when the connection terminates.
	Frames() <-chan AudioFrame

	// OnParticipantChange registers cb for participant events. Only one
	// callback is kept; later calls replace earlier ones. The callback runs on
	// an internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// Done is closed when the connection ends, whether by Disconnect or by
	// the transport dropping.
	Done() <-chan struct{}

	// Disconnect tears the connection down. Calling it more than once is a
	// no-op that returns nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
type Platform interface {
	// Connect joins the voice channel identified by channelID. ctx governs the
	// connection attempt only; the returned Connection lives until Disconnect
	// or a transport failure.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
