package app

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/internal/archive"
	"github.com/MrWong99/glyphcap/internal/broadcast"
	"github.com/MrWong99/glyphcap/internal/caption"
	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/publish"
	"github.com/MrWong99/glyphcap/internal/transcript"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// speaker is one participant's caption pipeline: the assembler turns
// transcripts into events, the lane orders and pages them.
type speaker struct {
	id  string
	asm *transcript.Assembler

	// mu orders lane application and hub delivery for this speaker.
	mu        sync.Mutex
	lane      *caption.Lane
	seen      caption.Metrics
	lastFinal string
}

// speakerFor returns the pipeline of id, creating it on first use.
func (a *App) speakerFor(id string) *speaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sp, ok := a.speakers[id]; ok {
		return sp
	}

	opts := []transcript.AssemblerOption{transcript.WithLanguage(a.languageFor(id))}
	if a.chunker != nil && (a.cfg.Chunker.OverlapTrim == nil || *a.cfg.Chunker.OverlapTrim) {
		opts = append(opts, transcript.WithOverlapTrim())
	}
	sp := &speaker{
		id:   id,
		asm:  transcript.NewAssembler(id, a.pipeline, opts...),
		lane: caption.NewLane(id, a.laneCfg, caption.WithMeasurer(a.measurer), caption.WithLaneClock(a.now)),
	}
	a.speakers[id] = sp
	if a.speech != nil {
		a.speech.EnsureSession(id, a.onTranscript, a.onSTTError)
	}
	a.metrics.ActiveSpeakers.Add(context.Background(), 1)
	return sp
}

func (a *App) lookupSpeaker(id string) (*speaker, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sp, ok := a.speakers[id]
	return sp, ok
}

func (a *App) speakerList() []*speaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*speaker, 0, len(a.speakers))
	for _, sp := range a.speakers {
		out = append(out, sp)
	}
	return out
}

// languageFor resolves the recognition language of id: its pin, else the
// configured default.
func (a *App) languageFor(id string) string {
	var pin string
	if s, ok := a.roster.Get(id); ok {
		pin = s.PinnedInputLang
	}
	return stt.ResolveLanguage(pin, a.cfg.STT.DefaultLanguage)
}

// onTranscript is the speech manager callback.
func (a *App) onTranscript(speakerID string, t stt.Transcript) {
	a.handleTranscript(a.ctx, speakerID, t)
}

func (a *App) onSTTError(speakerID string, err error) {
	observe.Logger(a.ctx).Warn("stt session error", "speaker", speakerID, "err", err)
	a.metrics.RecordProviderError(a.ctx, "stt", "stream")
}

// handleTranscript runs one transcript through the speaker's pipeline.
func (a *App) handleTranscript(ctx context.Context, speakerID string, t stt.Transcript) {
	sp := a.speakerFor(speakerID)
	if t.Text != "" {
		lang := t.Language
		if lang == stt.LanguageAuto {
			lang = ""
		}
		a.roster.Heard(speakerID, lang)
	}
	step := sp.asm.Handle(ctx, t)
	sp.apply(ctx, a, step)
}

// flushSpeaker finalizes whatever the speaker has on screen.
func (a *App) flushSpeaker(ctx context.Context, sp *speaker) {
	sp.apply(ctx, a, sp.asm.Flush(ctx))
}

// retire finalizes and removes a speaker's pipeline. The roster entry is
// left to the caller.
func (a *App) retire(id string) {
	sp, ok := a.lookupSpeaker(id)
	if !ok {
		return
	}
	a.flushSpeaker(a.ctx, sp)

	a.mu.Lock()
	delete(a.speakers, id)
	delete(a.convert, id)
	a.mu.Unlock()

	if a.speech != nil {
		a.speech.Destroy(id)
	}
	if a.chunker != nil {
		a.chunker.Forget(id)
	}
	a.metrics.ActiveSpeakers.Add(context.Background(), -1)
}

// apply feeds a step's events through the lane and forwards what the lane
// accepted to subscribers.
func (sp *speaker) apply(ctx context.Context, a *App, step transcript.Step) {
	if len(step.Events) == 0 {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, ev := range step.Events {
		res := sp.lane.Apply(ev)
		sp.forward(ctx, a, ev, res, step.Utterance)
	}
	sp.recordLaneLocked(ctx, a)
}

// tick advances the lane clock and publishes promoted finals.
func (sp *speaker) tick(a *App, now time.Time) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, ev := range sp.lane.Tick(now) {
		if ev.Kind == caption.KindFinalize {
			sp.finalize(a.ctx, a, ev.ID, ev.Text, ev.Lang)
		}
	}
	sp.recordLaneLocked(a.ctx, a)
}

func (sp *speaker) forward(ctx context.Context, a *App, ev caption.Event, res caption.Result, utt int) {
	id := res.ID.String()
	switch res.Action {
	case caption.ActionApplied:
		switch ev.Kind {
		case caption.KindBegin:
			a.hub.Begin(sp.caption(a, id, ev.Text, utt))
		case caption.KindUpdate:
			a.hub.Update(broadcast.Update{EventID: id, UserID: sp.id, Seq: ev.Seq, Text: ev.Text})
		case caption.KindFinalize:
			sp.finalize(ctx, a, res.ID, ev.Text, ev.Lang)
		}
	case caption.ActionRespawned:
		// A late update reopens under a synthetic id the subscribers have
		// not seen yet.
		a.hub.Begin(sp.caption(a, id, ev.Text, utt))
		a.hub.Update(broadcast.Update{EventID: id, UserID: sp.id, Seq: ev.Seq, Text: ev.Text})
	}
}

func (sp *speaker) caption(a *App, id, text string, utt int) broadcast.Caption {
	c := broadcast.Caption{EventID: id, UserID: sp.id, Text: text, UttSeq: utt}
	if s, ok := a.roster.Get(sp.id); ok {
		c.Username, c.Color, c.Avatar = s.Username, s.Color, s.Avatar
	} else {
		c.Username, c.Color = a.roster.Name(sp.id)
	}
	return c
}

// finalize delivers a final to subscribers and, once per event id, to the
// archive and the publisher.
func (sp *speaker) finalize(ctx context.Context, a *App, id caption.EventID, text, lang string) {
	if lang == stt.LanguageAuto {
		lang = ""
	}
	username, color := a.roster.Name(sp.id)
	eventID := id.String()
	a.hub.Finalize(ctx, broadcast.Final{
		EventID:  eventID,
		UserID:   sp.id,
		Username: username,
		Color:    color,
		Text:     text,
		SrcLang:  lang,
	})
	if text == "" || eventID == sp.lastFinal {
		return
	}
	sp.lastFinal = eventID

	at := a.now().UTC()
	log := observe.Logger(ctx)
	if a.archive != nil {
		err := a.archive.Append(ctx, archive.Entry{
			EventID:   eventID,
			SpeakerID: sp.id,
			Username:  username,
			Text:      text,
			SrcLang:   lang,
			At:        at,
		})
		if err != nil {
			log.Warn("archive append failed", "speaker", sp.id, "event_id", eventID, "err", err)
		}
	}
	err := a.publisher.Publish(ctx, publish.Caption{
		EventID:   eventID,
		SpeakerID: sp.id,
		Username:  username,
		Text:      text,
		SrcLang:   lang,
		At:        at,
	})
	if err != nil {
		log.Warn("caption publish failed", "speaker", sp.id, "event_id", eventID, "err", err)
	}
}

// recordLaneLocked exports lane counters that moved since the last call.
func (sp *speaker) recordLaneLocked(ctx context.Context, a *App) {
	m := sp.lane.Metrics()
	prev := sp.seen
	sp.seen = m
	a.metrics.RecordLaneEvents(ctx, "page_flip", m.PageFlips-prev.PageFlips)
	a.metrics.RecordLaneEvents(ctx, "late_respawn", m.LateRespawns-prev.LateRespawns)
	a.metrics.RecordLaneEvents(ctx, "overflow_prevent", m.OverflowPrevents-prev.OverflowPrevents)
	a.metrics.RecordLaneEvents(ctx, "out_of_order_drop", m.OutOfOrderDrops-prev.OutOfOrderDrops)
	a.metrics.RecordLaneEvents(ctx, "queue_flush", m.QueueFlushes-prev.QueueFlushes)
	a.metrics.RecordLaneEvents(ctx, "queue_drop", m.QueueDrops-prev.QueueDrops)
	a.metrics.RecordLaneEvents(ctx, "synthetic_final", m.SyntheticFinals-prev.SyntheticFinals)
	a.metrics.RecordLaneEvents(ctx, "suppressed_final", m.SuppressedFinals-prev.SuppressedFinals)
}
