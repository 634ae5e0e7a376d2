package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/glyphcap/internal/caption"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// AssemblerOption configures an [Assembler].
type AssemblerOption func(*Assembler)

// WithIDFunc overrides event id generation. Default: random UUIDs.
func WithIDFunc(fn func() string) AssemblerOption {
	return func(a *Assembler) {
		a.newID = fn
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithLanguage sets the source language reported when the provider does
// not detect one.
func WithLanguage(lang string) AssemblerOption {
	return func(a *Assembler) {
		a.lang = lang
	}
}

// WithOverlapTrim drops words a final repeats from the end of the previous
// final. Used for clip transcription, where clips overlap by the pre-roll.
func WithOverlapTrim() AssemblerOption {
	return func(a *Assembler) {
		a.trimOverlap = true
	}
}

// Step is what one transcript produced.
type Step struct {
	Events []caption.Event
	// Utterance is the speaker's utterance counter, starting at 1.
	Utterance int
	// Final is set when the step closed an utterance.
	Final *Result
}

// Assembler converts one speaker's transcripts into caption events. Calls
// are serialized; a final blocks for as long as the pipeline's cleanup.
type Assembler struct {
	speakerID   string
	pipeline    *Pipeline
	newID       func() string
	now         func() time.Time
	lang        string
	trimOverlap bool

	mu         sync.Mutex
	open       bool
	id         caption.EventID
	seq        int
	utterances int
	committed  []string
	prev       []string
	visible    string
	tail       []string
}

// NewAssembler returns an assembler for speakerID. A nil pipeline only
// polishes.
func NewAssembler(speakerID string, p *Pipeline, opts ...AssemblerOption) *Assembler {
	if p == nil {
		p = NewPipeline()
	}
	a := &Assembler{
		speakerID: speakerID,
		pipeline:  p,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetLanguage changes the fallback source language, for example after the
// speaker's input language was pinned.
func (a *Assembler) SetLanguage(lang string) {
	a.mu.Lock()
	a.lang = lang
	a.mu.Unlock()
}

// Open reports whether an utterance is in progress.
func (a *Assembler) Open() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Handle feeds one provider transcript.
func (a *Assembler) Handle(ctx context.Context, t stt.Transcript) Step {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(t.Text)
	final := t.IsFinal || t.SpeechFinal
	lang := t.Language
	if lang == "" {
		lang = a.lang
	}

	if text == "" {
		// End of speech with nothing new: settle what is on screen.
		if t.SpeechFinal && a.open && a.visible != Placeholder {
			return a.finalizeLocked(ctx, a.visible, lang, Step{Utterance: a.utterances})
		}
		return Step{Utterance: a.utterances}
	}
	if final && a.trimOverlap && !a.open {
		if text = trimOverlap(a.tail, text); text == "" {
			return Step{Utterance: a.utterances}
		}
	}

	var st Step
	if !a.open {
		st.Events = append(st.Events, a.beginLocked(lang))
	}
	st.Utterance = a.utterances
	if final {
		return a.finalizeLocked(ctx, text, lang, st)
	}
	if ev, ok := a.interimLocked(text, lang); ok {
		st.Events = append(st.Events, ev)
	}
	return st
}

// Flush finalizes an open utterance with the text currently shown, for a
// speaker that left mid-sentence.
func (a *Assembler) Flush(ctx context.Context) Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return Step{Utterance: a.utterances}
	}
	if a.visible == Placeholder {
		a.open = false
		return Step{Utterance: a.utterances}
	}
	return a.finalizeLocked(ctx, a.visible, a.lang, Step{Utterance: a.utterances})
}

func (a *Assembler) beginLocked(lang string) caption.Event {
	a.open = true
	a.id = caption.Original(a.newID())
	a.seq = 0
	a.committed = nil
	a.prev = nil
	a.visible = Placeholder
	a.utterances++

	ev := caption.Begin(a.speakerID, a.id, a.now())
	ev.Text = Placeholder
	ev.Lang = lang
	return ev
}

// interimLocked applies stable-prefix commitment: words on which two
// consecutive hypotheses agree are fixed and later hypotheses only change
// what follows them.
func (a *Assembler) interimLocked(text, lang string) (caption.Event, bool) {
	words := strings.Fields(text)
	if stable := commonPrefix(a.prev, words); stable > len(a.committed) {
		a.committed = append([]string(nil), words[:stable]...)
	}
	a.prev = words

	shown := append([]string(nil), a.committed...)
	if len(words) > len(a.committed) {
		shown = append(shown, words[len(a.committed):]...)
	}
	visible := PolishInterim(strings.Join(shown, " "))
	if visible == "" || visible == a.visible {
		return caption.Event{}, false
	}
	a.visible = visible
	a.seq++

	ev := caption.Update(a.speakerID, a.id, a.seq, visible, a.now())
	ev.Lang = lang
	return ev, true
}

func (a *Assembler) finalizeLocked(ctx context.Context, text, lang string, st Step) Step {
	res := a.pipeline.Final(ctx, text)
	ev := caption.Finalize(a.speakerID, a.id, res.Text, a.now())
	ev.HasText = res.Text != ""
	ev.Lang = lang
	st.Events = append(st.Events, ev)
	st.Final = &res

	a.open = false
	if res.Text != "" {
		a.tail = lastWords(res.Text, tailWords)
	}
	return st
}
