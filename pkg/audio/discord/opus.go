package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord voice is 48 kHz stereo Opus in 20 ms packets.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is samples per channel per packet.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000
)

// opusDecoder holds the decoder state of one SSRC. Opus is stateful across
// packets, so decoders are never shared between speakers.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns interleaved little-endian 16-bit stereo PCM.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}
