package audio

import (
	"sync"
	"time"
)

// Framer re-slices each speaker's PCM into fixed-duration frames. Bytes that
// do not fill a frame are carried over to the speaker's next Push, so the
// frames handed downstream are always sample aligned and of equal length.
//
// Framer is safe for concurrent use.
type Framer struct {
	size int

	mu    sync.Mutex
	carry map[string][]byte
}

// NewFramer returns a Framer producing frames of duration d in format f.
// Twenty milliseconds is the usual choice.
func NewFramer(f Format, d time.Duration) *Framer {
	size := f.FrameBytes(d)
	if size <= 0 {
		size = 2
	}
	return &Framer{size: size, carry: make(map[string][]byte)}
}

// FrameSize returns the byte length of every emitted frame.
func (fr *Framer) FrameSize() int { return fr.size }

// Push appends pcm to speakerID's carry buffer and returns all complete
// frames. The returned slices do not alias pcm.
func (fr *Framer) Push(speakerID string, pcm []byte) [][]byte {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	buf := append(fr.carry[speakerID], pcm...)
	var frames [][]byte
	for len(buf) >= fr.size {
		frame := make([]byte, fr.size)
		copy(frame, buf[:fr.size])
		frames = append(frames, frame)
		buf = buf[fr.size:]
	}
	if len(buf) == 0 {
		delete(fr.carry, speakerID)
	} else {
		fr.carry[speakerID] = append([]byte(nil), buf...)
	}
	return frames
}

// Pending returns the number of carried bytes for speakerID.
func (fr *Framer) Pending(speakerID string) int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.carry[speakerID])
}

// Flush returns and clears speakerID's partial frame, zero padded to a full
// frame. It returns nil when nothing is carried.
func (fr *Framer) Flush(speakerID string) []byte {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	buf := fr.carry[speakerID]
	delete(fr.carry, speakerID)
	if len(buf) == 0 {
		return nil
	}
	frame := make([]byte, fr.size)
	copy(frame, buf)
	return frame
}

// Forget drops speakerID's carry buffer.
func (fr *Framer) Forget(speakerID string) {
	fr.mu.Lock()
	delete(fr.carry, speakerID)
	fr.mu.Unlock()
}
