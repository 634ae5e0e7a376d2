package audio

import "time"

// AudioFrame is one chunk of little-endian 16-bit PCM captured from a single
// participant.
type AudioFrame struct {
	// SpeakerID is the platform user the audio belongs to.
	SpeakerID string

	Data       []byte
	SampleRate int
	Channels   int

	// Timestamp is the capture position relative to the speaker's stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f at 16 bits per sample.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// FrameBytes returns the size of a frame of duration d in f, rounded down to
// whole sample frames.
func (f Format) FrameBytes(d time.Duration) int {
	align := f.Channels * 2
	if align <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%align
}
