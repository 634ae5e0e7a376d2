// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A streaming provider wraps a real-time transcription socket (e.g. Deepgram)
// and exposes it as a SessionHandle: once StartStream returns, the socket is
// open and accepts raw PCM frames; interim and final Transcript values arrive on
// a single ordered channel. Batch providers (e.g. a whisper.cpp server)
// implement ClipTranscriber instead and transcribe one bounded audio clip per
// call.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedConfig is returned (wrapped) by providers when the remote side
// rejects the requested configuration, for example a model the account is not
// entitled to. Callers may retry once with a degraded StreamConfig.
var ErrUnsupportedConfig = errors.New("stt: unsupported configuration")

// ErrSessionClosed is returned by SessionHandle methods after the session ended.
var ErrSessionClosed = errors.New("stt: session closed")

// LanguageAuto requests provider-side language detection.
const LanguageAuto = "auto"

// StreamConfig describes the audio format and recognition options for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Discord decode output is 48000.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is a BCP-47 style tag ("en", "pt-BR"). Empty or LanguageAuto lets
	// the provider detect the language.
	Language string

	// Model selects a provider model. Empty uses the provider default.
	Model string

	// InterimResults enables low-latency interim hypotheses.
	InterimResults bool

	// Endpointing is the trailing silence after which the provider marks an
	// utterance speech-final. Zero uses the provider default.
	Endpointing time.Duration

	// Keywords boost recognition of uncommon vocabulary (speaker names, jargon).
	Keywords []KeywordBoost
}

// SessionHandle represents one open provider socket.
//
// Transcripts is closed once the socket has terminated; Err then reports why
// (nil after a graceful Finish or Close). All methods must be safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio queues a chunk of raw PCM for the provider. Returns
	// ErrSessionClosed after the session ended.
	SendAudio(chunk []byte) error

	// Transcripts delivers interim and final results in provider order.
	Transcripts() <-chan Transcript

	// KeepAlive sends a no-op control message so idle transports stay open.
	KeepAlive() error

	// Finish asks the provider to flush final results for the audio already
	// sent and then close the socket (graceful half-close). Safe to call more
	// than once.
	Finish() error

	// Close terminates the socket immediately. Safe to call more than once.
	Close() error

	// Done is closed when the session has fully terminated.
	Done() <-chan struct{}

	// Err returns the terminal error, if any. Only meaningful after Done.
	Err() error
}

// Provider opens streaming STT sessions.
type Provider interface {
	// StartStream dials the provider and returns once the socket is open, so a
	// successful return is the open acknowledgment. ctx bounds the dial only.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// ClipTranscriber transcribes one bounded clip of 16-bit PCM per call.
type ClipTranscriber interface {
	TranscribeClip(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error)
}
