package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/glyphcap/internal/chunker"
	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/speech"
	"github.com/MrWong99/glyphcap/pkg/audio"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// clipTimeout bounds one batch transcription request.
const clipTimeout = 20 * time.Second

// HandleFrame routes one captured frame to the speaker's recogniser.
func (a *App) HandleFrame(f audio.AudioFrame) {
	if f.SpeakerID == "" || len(f.Data) == 0 {
		return
	}
	f = a.converterFor(f.SpeakerID).Convert(f)
	if len(f.Data) == 0 {
		return
	}
	a.speakerFor(f.SpeakerID)

	if a.chunker != nil {
		if clip := a.chunker.Ingest(f.SpeakerID, f.Data); clip != nil {
			a.transcribeAsync(clip)
		}
		return
	}
	if err := a.speech.Send(f.SpeakerID, f.Data); err != nil && !errors.Is(err, speech.ErrManagerClosed) {
		observe.Logger(a.ctx).Debug("stt send failed", "speaker", f.SpeakerID, "err", err)
	}
}

func (a *App) converterFor(id string) *audio.Converter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.convert[id]
	if !ok {
		c = &audio.Converter{Target: audio.Format{SampleRate: captureRate, Channels: captureChannels}}
		a.convert[id] = c
	}
	return c
}

// HandleEvent applies a participant change to the roster and the speaker's
// pipeline.
func (a *App) HandleEvent(ev audio.Event) {
	switch ev.Type {
	case audio.EventJoin:
		a.roster.Join(ev.UserID, ev.Username, ev.AvatarURL)
	case audio.EventLeave:
		if clip := a.cutClip(ev.UserID); clip != nil {
			// The last words are still in flight; leave once they landed.
			a.clips.Add(1)
			go func() {
				defer a.clips.Done()
				a.transcribeClip(a.ctx, clip)
				a.leave(ev.UserID)
			}()
			return
		}
		a.leave(ev.UserID)
	case audio.EventSpeakingStart:
		a.roster.SetSpeaking(ev.UserID, true)
		if a.speech != nil {
			a.speech.MarkActivity(ev.UserID)
		}
	case audio.EventSpeakingStop:
		a.roster.SetSpeaking(ev.UserID, false)
		a.flushClip(ev.UserID)
	}
}

func (a *App) leave(id string) {
	a.retire(id)
	a.roster.Leave(id)
}

// SessionEnded finalizes every speaker when the voice session stops.
func (a *App) SessionEnded() {
	for _, sp := range a.speakerList() {
		a.flushClip(sp.id)
		a.roster.SetSpeaking(sp.id, false)
		a.flushSpeaker(a.ctx, sp)
		if a.speech != nil {
			a.speech.ForceClose(sp.id)
		}
	}
}

// flushClip cuts and transcribes the speaker's partial clip in clip mode.
func (a *App) flushClip(id string) {
	if clip := a.cutClip(id); clip != nil {
		a.transcribeAsync(clip)
	}
}

func (a *App) cutClip(id string) *chunker.Clip {
	if a.chunker == nil {
		return nil
	}
	return a.chunker.Flush(id)
}

func (a *App) transcribeAsync(clip *chunker.Clip) {
	a.clips.Add(1)
	go func() {
		defer a.clips.Done()
		a.transcribeClip(a.ctx, clip)
	}()
}

// transcribeClip sends one clip to the batch recogniser and feeds the result
// through the speaker's pipeline as a final. The clip is released when the
// request ends, whatever the outcome.
func (a *App) transcribeClip(ctx context.Context, clip *chunker.Clip) {
	defer clip.Release()

	cfg := stt.StreamConfig{
		SampleRate: captureRate,
		Channels:   captureChannels,
		Language:   a.languageFor(clip.SpeakerID),
		Model:      a.cfg.Providers.Clip.Model,
	}
	cctx, cancel := context.WithTimeout(ctx, clipTimeout)
	defer cancel()

	start := time.Now()
	var t stt.Transcript
	err := observe.Traced(cctx, "stt.clip", func(ctx context.Context) error {
		var err error
		t, err = a.providers.Clip.TranscribeClip(ctx, clip.STT, cfg)
		return err
	}, attribute.String("speaker", clip.SpeakerID), attribute.Int64("clip_ms", clip.Duration.Milliseconds()))
	a.latencies.Record(observe.StageClip, time.Since(start))

	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.Clips.Add(ctx, 1)
	a.metrics.RecordProviderRequest(ctx, "stt", "clip", status)
	if err != nil {
		a.metrics.RecordProviderError(ctx, "stt", "clip")
		observe.Logger(ctx).Warn("clip transcription failed", "speaker", clip.SpeakerID, "duration", clip.Duration, "err", err)
		return
	}

	t.IsFinal, t.SpeechFinal = true, true
	a.handleTranscript(ctx, clip.SpeakerID, t)
}
