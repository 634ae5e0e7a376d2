package chunker

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// frame returns n bytes all set to b.
func frame(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

const frame20ms = 1920 // 20 ms of 48 kHz mono 16-bit PCM

func newTestChunker(clk *fakeClock) *Chunker {
	return New(DefaultConfig(), WithClock(clk.Now))
}

func TestIngest_CutsAfterMinDuration(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newTestChunker(clk)

	var clip *Clip
	for i := 0; i < 41 && clip == nil; i++ {
		clip = c.Ingest("alice", frame(byte(i), frame20ms))
		clk.Advance(20 * time.Millisecond)
	}
	if clip == nil {
		t.Fatal("expected a clip after min duration")
	}
	// Frames at t=0..800ms inclusive: 41 frames.
	if got, want := len(clip.Audio), 41*frame20ms; got != want {
		t.Errorf("clip length: want %d, got %d", want, got)
	}
	if clip.PreRollBytes != 0 {
		t.Errorf("first clip must not carry pre-roll, got %d bytes", clip.PreRollBytes)
	}
	if !bytes.Equal(clip.STT, clip.Audio) {
		t.Error("STT audio must equal bare audio without pre-roll")
	}
	if clip.Duration != 41*20*time.Millisecond {
		t.Errorf("duration: got %v", clip.Duration)
	}
}

func TestIngest_NoSecondClipWhileInFlight(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newTestChunker(clk)

	c.Ingest("alice", frame(1, frame20ms))
	clk.Advance(800 * time.Millisecond)
	first := c.Ingest("alice", frame(2, frame20ms))
	if first == nil {
		t.Fatal("expected first clip")
	}

	// Way past max duration, still nothing while the first clip is unreleased.
	for range 200 {
		clk.Advance(20 * time.Millisecond)
		if got := c.Ingest("alice", frame(3, frame20ms)); got != nil {
			t.Fatal("clip cut while another is in flight")
		}
	}
	if !c.InFlight("alice") {
		t.Error("expected alice in flight")
	}

	first.Release()
	first.Release() // idempotent
	if c.InFlight("alice") {
		t.Error("expected in-flight lock cleared")
	}

	clk.Advance(20 * time.Millisecond)
	second := c.Ingest("alice", frame(4, frame20ms))
	if second == nil {
		t.Fatal("expected second clip after release")
	}
	// Accumulated audio kept growing while the first clip was in flight.
	if got, want := len(second.Audio), 201*frame20ms; got != want {
		t.Errorf("second clip length: want %d, got %d", want, got)
	}
}

func TestIngest_PreRollFreshAndStale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		gap         time.Duration
		wantPreRoll int
	}{
		{name: "fresh ring is prepended", gap: 200 * time.Millisecond, wantPreRoll: 28800},
		{name: "stale ring is discarded", gap: 1500 * time.Millisecond, wantPreRoll: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := newFakeClock()
			c := newTestChunker(clk)

			var first *Clip
			for i := 0; first == nil; i++ {
				first = c.Ingest("bob", frame(0xAA, frame20ms))
				clk.Advance(20 * time.Millisecond)
			}
			first.Release()

			clk.Advance(tt.gap)
			var second *Clip
			for second == nil {
				second = c.Ingest("bob", frame(0xBB, frame20ms))
				clk.Advance(20 * time.Millisecond)
			}

			if second.PreRollBytes != tt.wantPreRoll {
				t.Fatalf("pre-roll: want %d, got %d", tt.wantPreRoll, second.PreRollBytes)
			}
			if len(second.STT) != len(second.Audio)+tt.wantPreRoll {
				t.Errorf("STT length: want %d, got %d", len(second.Audio)+tt.wantPreRoll, len(second.STT))
			}
			if tt.wantPreRoll > 0 {
				// The pre-roll is the tail of the previous utterance.
				if !bytes.Equal(second.STT[:tt.wantPreRoll], frame(0xAA, tt.wantPreRoll)) {
					t.Error("pre-roll does not match previous audio tail")
				}
				if !bytes.Equal(second.STT[tt.wantPreRoll:], second.Audio) {
					t.Error("STT audio must end with the bare clip")
				}
			}
		})
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newTestChunker(clk)

	if c.Flush("nobody") != nil {
		t.Error("flush of unknown speaker must return nil")
	}

	c.Ingest("carol", frame(1, 100))
	c.Ingest("carol", frame(2, 101)) // odd length accepted
	clip := c.Flush("carol")
	if clip == nil {
		t.Fatal("expected flushed clip")
	}
	if len(clip.Audio) != 201 {
		t.Errorf("flushed length: want 201, got %d", len(clip.Audio))
	}
	c.Ingest("carol", frame(3, 100))
	if c.Flush("carol") != nil {
		t.Error("flush must respect the in-flight lock")
	}
	clip.Release()
	if c.Flush("carol") == nil {
		t.Error("expected flush after release")
	}
}

func TestForget_OldReleaseIsIgnored(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newTestChunker(clk)

	c.Ingest("dave", frame(1, 10))
	old := c.Flush("dave")
	c.Forget("dave")

	c.Ingest("dave", frame(2, 10))
	fresh := c.Flush("dave")
	if fresh == nil {
		t.Fatal("expected clip for recreated speaker")
	}
	old.Release()
	if !c.InFlight("dave") {
		t.Error("releasing a clip from before Forget must not unlock the new state")
	}
	fresh.Release()
	if c.InFlight("dave") {
		t.Error("expected unlock after releasing the current clip")
	}
}

func TestSpeakersAreIndependent(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newTestChunker(clk)

	c.Ingest("a", frame(1, 10))
	c.Ingest("b", frame(2, 10))
	a := c.Flush("a")
	if a == nil {
		t.Fatal("expected clip for a")
	}
	if c.Flush("b") == nil {
		t.Error("in-flight clip of a must not block b")
	}

	st := c.Stats()
	if st.Speakers != 2 || st.InFlight != 2 || st.ClipsEmitted != 2 || st.BytesEmitted != 20 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestPreRollRingTrim(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := New(Config{PreRoll: 10 * time.Millisecond}, WithClock(clk.Now))

	// 10 ms at 48 kHz mono 16-bit = 960 bytes.
	c.Ingest("e", frame(1, 700))
	c.Ingest("e", frame(2, 700))
	c.mu.Lock()
	s := c.speakers["e"]
	got := concat(s.preRoll, s.preRollLen)
	c.mu.Unlock()

	if len(got) != 960 {
		t.Fatalf("ring length: want 960, got %d", len(got))
	}
	want := append(frame(1, 260), frame(2, 700)...)
	if !bytes.Equal(got, want) {
		t.Error("ring must hold the most recent bytes in order")
	}
}

func TestIngest_Empty(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	if c.Ingest("x", nil) != nil {
		t.Error("empty ingest must not cut")
	}
	if c.Stats().Speakers != 0 {
		t.Error("empty ingest must not create state")
	}
}
