package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Converter brings captured frames into the pipeline's capture format:
// channel down-mix first, then linear resampling. Create one per stream; a
// Converter is not meant to be shared across goroutines.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned unchanged. A frame whose byte count does not divide
// into whole sample frames comes back with nil Data.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM frame dropped",
				"speaker", frame.SpeakerID,
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		out := frame
		out.Data = nil
		out.SampleRate, out.Channels = c.Target.SampleRate, c.Target.Channels
		return out
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting capture format",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	if channels > 1 && c.Target.Channels == 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if frame.SampleRate != c.Target.SampleRate && channels == 1 {
		pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	}

	out := frame
	out.Data = pcm
	out.SampleRate = c.Target.SampleRate
	out.Channels = channels
	return out
}

func sampleAt(pcm []byte, i int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
}

func putSample(pcm []byte, i int, v int32) {
	v = max(-32768, min(32767, v))
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
}

// Downmix averages the interleaved channels of 16-bit PCM into mono.
// Trailing bytes that do not form a whole sample frame are ignored.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for ch := range channels {
			sum += sampleAt(pcm, f*channels+ch)
		}
		putSample(out, f, sum/int32(channels))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate with
// linear interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < n {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int32(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
