package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "stereo average", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "no overflow at the rails", in: []int16{32767, 32767, -32768, -32768}, channels: 2, want: []int16{32767, -32768}},
		{name: "mono passthrough", in: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
		{name: "trailing half frame ignored", in: []int16{10, 20, 30}, channels: 2, want: []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equalSamples(t, bytesToSamples(audio.Downmix(samplesToBytes(tt.in), tt.channels)), tt.want)
		})
	}
}

func TestResampleMono16(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 300, 600, 900, 1200, 1500})

	if out := audio.ResampleMono16(pcm, 48000, 48000); len(out) != len(pcm) {
		t.Fatalf("same rate changed length: %d", len(out))
	}
	down := bytesToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	equalSamples(t, down, []int16{0, 900})

	up := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 100}), 8000, 16000))
	equalSamples(t, up, []int16{0, 50, 100, 100})
}

func TestConverter_Convert(t *testing.T) {
	c := &audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	stereo48 := make([]int16, 960*2)
	for i := range stereo48 {
		stereo48[i] = 1000
	}
	out := c.Convert(audio.AudioFrame{SpeakerID: "u1", Data: samplesToBytes(stereo48), SampleRate: 48000, Channels: 2})
	if out.SampleRate != 16000 || out.Channels != 1 || out.SpeakerID != "u1" {
		t.Fatalf("unexpected format %+v", out)
	}
	if len(out.Data) != 320*2 {
		t.Errorf("20ms at 16kHz mono should be 640 bytes, got %d", len(out.Data))
	}

	same := audio.AudioFrame{Data: []byte{1, 0}, SampleRate: 16000, Channels: 1}
	if got := c.Convert(same); &got.Data[0] != &same.Data[0] {
		t.Error("matching format must not copy")
	}

	bad := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 2})
	if bad.Data != nil {
		t.Error("misaligned frame must be dropped")
	}
}

func TestFormat_FrameBytes(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 1}
	if got := f.FrameBytes(20 * time.Millisecond); got != 1920 {
		t.Errorf("20ms mono 48k: got %d", got)
	}
	if got := f.BytesPerSecond(); got != 96000 {
		t.Errorf("bytes per second: %d", got)
	}
	st := audio.Format{SampleRate: 44100, Channels: 2}
	if got := st.FrameBytes(10 * time.Millisecond); got%4 != 0 {
		t.Errorf("stereo frame must be aligned to 4 bytes, got %d", got)
	}
}

func TestFramer(t *testing.T) {
	fr := audio.NewFramer(audio.Format{SampleRate: 8000, Channels: 1}, 10*time.Millisecond)
	if fr.FrameSize() != 160 {
		t.Fatalf("frame size: %d", fr.FrameSize())
	}

	if frames := fr.Push("a", make([]byte, 100)); len(frames) != 0 {
		t.Fatalf("partial push produced %d frames", len(frames))
	}
	frames := fr.Push("a", make([]byte, 250))
	if len(frames) != 2 || fr.Pending("a") != 30 {
		t.Fatalf("frames=%d pending=%d", len(frames), fr.Pending("a"))
	}
	for _, f := range frames {
		if len(f) != 160 {
			t.Errorf("frame length %d", len(f))
		}
	}

	// Speakers are independent.
	if frames := fr.Push("b", make([]byte, 160)); len(frames) != 1 || fr.Pending("b") != 0 {
		t.Errorf("speaker b: frames=%d pending=%d", len(frames), fr.Pending("b"))
	}

	tail := fr.Flush("a")
	if len(tail) != 160 || fr.Pending("a") != 0 {
		t.Errorf("flush: len=%d pending=%d", len(tail), fr.Pending("a"))
	}
	if fr.Flush("a") != nil {
		t.Error("second flush must be empty")
	}

	fr.Push("c", []byte{1, 2, 3})
	fr.Forget("c")
	if fr.Pending("c") != 0 {
		t.Error("forget must drop carried bytes")
	}
}

func TestFramer_NoAliasing(t *testing.T) {
	fr := audio.NewFramer(audio.Format{SampleRate: 8000, Channels: 1}, 10*time.Millisecond)
	in := make([]byte, 160)
	frames := fr.Push("a", in)
	in[0] = 42
	if frames[0][0] == 42 {
		t.Error("frame aliases caller buffer")
	}
}
