// Package chunker turns a speaker's continuous PCM stream into bounded clips
// suitable for batch speech-to-text.
//
// Each speaker owns an accumulation buffer and a rolling pre-roll ring. When a
// new accumulation cycle starts, the ring is snapshotted and later prepended to
// the clip handed to STT, so leading phonemes cut off by voice activity
// detection are not lost. A ring that has not been fed recently is discarded
// instead, which keeps audio from an earlier utterance out of the next one.
//
// At most one clip per speaker is in flight. Until the caller releases it,
// audio keeps accumulating but no further clip is cut.
//
// All methods are safe for concurrent use.
package chunker

import (
	"sync"
	"time"
)

// Config holds chunking parameters. Zero fields are replaced by the defaults
// from [DefaultConfig].
type Config struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int
	// BytesPerSample is the byte width of one sample (2 for 16-bit PCM).
	BytesPerSample int
	// MinDuration is the elapsed time after which a clip may be cut.
	MinDuration time.Duration
	// MaxDuration bounds a clip for speakers who never pause.
	MaxDuration time.Duration
	// PreRoll is how much recent audio is kept in the rolling ring.
	PreRoll time.Duration
	// PreRollStaleness is the maximum gap since the last ingest for which
	// the ring is still considered part of the current utterance.
	PreRollStaleness time.Duration
}

// DefaultConfig returns the defaults used for Discord voice audio.
func DefaultConfig() Config {
	return Config{
		SampleRate:       48000,
		BytesPerSample:   2,
		MinDuration:      800 * time.Millisecond,
		MaxDuration:      1600 * time.Millisecond,
		PreRoll:          300 * time.Millisecond,
		PreRollStaleness: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BytesPerSample <= 0 {
		c.BytesPerSample = d.BytesPerSample
	}
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.PreRoll < 0 {
		c.PreRoll = 0
	}
	if c.PreRollStaleness <= 0 {
		c.PreRollStaleness = d.PreRollStaleness
	}
	return c
}

// bytesFor returns the byte length of d worth of audio.
func (c Config) bytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	samples := int(int64(c.SampleRate) * int64(d) / int64(time.Second))
	return samples * c.BytesPerSample
}

// Option is a functional option for [New].
type Option func(*Chunker)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chunker) {
		c.now = now
	}
}

// Clip is one cut of a speaker's audio.
type Clip struct {
	SpeakerID string
	// Audio is the bare clip without pre-roll.
	Audio []byte
	// STT is the pre-roll followed by Audio. It aliases Audio when there was
	// no pre-roll.
	STT []byte
	// PreRollBytes is the length of the prepended pre-roll.
	PreRollBytes int
	// Duration is the playback duration of Audio.
	Duration time.Duration

	release func()
	once    sync.Once
}

// Release clears the speaker's in-flight lock. It is idempotent.
func (c *Clip) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Stats is a snapshot of chunker counters.
type Stats struct {
	Speakers        int
	InFlight        int
	ClipsEmitted    int64
	BytesEmitted    int64
	PreRollsApplied int64
	PreRollsStale   int64
}

type speakerState struct {
	bufs       [][]byte
	started    time.Time
	inFlight   bool
	gen        uint64
	preRoll    [][]byte
	preRollLen int
	prepend    []byte
	lastIngest time.Time
}

// Chunker cuts per-speaker clips. The zero value is not usable; call [New].
type Chunker struct {
	cfg          Config
	preRollBytes int
	now          func() time.Time

	mu       sync.Mutex
	speakers map[string]*speakerState
	stats    Stats
}

// New creates a Chunker.
func New(cfg Config, opts ...Option) *Chunker {
	cfg = cfg.withDefaults()
	c := &Chunker{
		cfg:          cfg,
		preRollBytes: cfg.bytesFor(cfg.PreRoll),
		now:          time.Now,
		speakers:     make(map[string]*speakerState),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ingest appends pcm to the speaker's buffer and returns a clip when the cut
// rule fires, or nil. The caller must eventually call [Clip.Release].
//
// pcm is copied. Odd-length input is accepted as is and never split.
func (c *Chunker) Ingest(speakerID string, pcm []byte) *Clip {
	if len(pcm) == 0 {
		return nil
	}
	data := append([]byte(nil), pcm...)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.speakers[speakerID]
	if s == nil {
		s = &speakerState{}
		c.speakers[speakerID] = s
	}

	if len(s.bufs) == 0 {
		s.started = now
		if s.preRollLen > 0 && !s.lastIngest.IsZero() && now.Sub(s.lastIngest) < c.cfg.PreRollStaleness {
			s.prepend = concat(s.preRoll, s.preRollLen)
			c.stats.PreRollsApplied++
		} else {
			if s.preRollLen > 0 {
				c.stats.PreRollsStale++
			}
			s.prepend = nil
			s.preRoll = nil
			s.preRollLen = 0
		}
	}

	s.bufs = append(s.bufs, data)
	s.lastIngest = now
	c.pushPreRoll(s, data)

	elapsed := now.Sub(s.started)
	if s.inFlight || (elapsed < c.cfg.MinDuration && elapsed <= c.cfg.MaxDuration) {
		return nil
	}
	return c.cutLocked(speakerID, s)
}

// Flush cuts whatever audio is accumulated for the speaker regardless of
// elapsed time, typically at end of speech. It returns nil when nothing is
// buffered or a clip is still in flight.
func (c *Chunker) Flush(speakerID string) *Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.speakers[speakerID]
	if s == nil || s.inFlight || len(s.bufs) == 0 {
		return nil
	}
	return c.cutLocked(speakerID, s)
}

// Forget drops all state for the speaker. A clip still in flight may be
// released afterwards without effect.
func (c *Chunker) Forget(speakerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.speakers, speakerID)
}

// InFlight reports whether the speaker has an unreleased clip.
func (c *Chunker) InFlight(speakerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.speakers[speakerID]
	return s != nil && s.inFlight
}

// Stats returns a snapshot of the chunker counters.
func (c *Chunker) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Speakers = len(c.speakers)
	for _, s := range c.speakers {
		if s.inFlight {
			st.InFlight++
		}
	}
	return st
}

// cutLocked must be called with c.mu held.
func (c *Chunker) cutLocked(speakerID string, s *speakerState) *Clip {
	n := 0
	for _, b := range s.bufs {
		n += len(b)
	}
	audio := concat(s.bufs, n)
	s.bufs = nil

	sttAudio := audio
	pre := len(s.prepend)
	if pre > 0 {
		sttAudio = make([]byte, 0, pre+len(audio))
		sttAudio = append(sttAudio, s.prepend...)
		sttAudio = append(sttAudio, audio...)
	}
	s.prepend = nil
	s.inFlight = true
	s.gen++
	gen := s.gen

	c.stats.ClipsEmitted++
	c.stats.BytesEmitted += int64(len(audio))

	return &Clip{
		SpeakerID:    speakerID,
		Audio:        audio,
		STT:          sttAudio,
		PreRollBytes: pre,
		Duration:     c.duration(len(audio)),
		release:      func() { c.release(speakerID, s, gen) },
	}
}

func (c *Chunker) release(speakerID string, s *speakerState, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A forgotten or recreated speaker must not be unlocked by an old clip.
	if c.speakers[speakerID] != s || s.gen != gen {
		return
	}
	s.inFlight = false
}

// pushPreRoll appends data to the ring and trims it from the front.
func (c *Chunker) pushPreRoll(s *speakerState, data []byte) {
	if c.preRollBytes == 0 {
		s.preRoll = nil
		s.preRollLen = 0
		return
	}
	s.preRoll = append(s.preRoll, data)
	s.preRollLen += len(data)
	for s.preRollLen > c.preRollBytes {
		head := s.preRoll[0]
		excess := s.preRollLen - c.preRollBytes
		if len(head) <= excess {
			s.preRoll = s.preRoll[1:]
			s.preRollLen -= len(head)
			continue
		}
		s.preRoll[0] = head[excess:]
		s.preRollLen -= excess
	}
}

func (c *Chunker) duration(n int) time.Duration {
	perSec := c.cfg.SampleRate * c.cfg.BytesPerSample
	if perSec == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(perSec)
}

func concat(parts [][]byte, n int) []byte {
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
