package stt

import "time"

// Transcript is a single recognition result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports that the provider will not revise this span of audio.
	IsFinal bool

	// SpeechFinal reports that the provider detected the end of an utterance
	// (endpointing). It implies IsFinal for providers that report it.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when unknown.
	Confidence float64

	// Language is the detected language, when the provider reports one.
	Language string

	// Start marks when the utterance started, relative to session start.
	Start time.Duration

	// Duration is the length of the audio span covered.
	Duration time.Duration
}

// KeywordBoost is a vocabulary hint with a provider-specific intensity.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
