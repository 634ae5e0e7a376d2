package transcript_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/glyphcap/internal/caption"
	"github.com/MrWong99/glyphcap/internal/transcript"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

func newTestAssembler(opts ...transcript.AssemblerOption) *transcript.Assembler {
	n := 0
	clock := time.Unix(1_700_000_000, 0)
	opts = append([]transcript.AssemblerOption{
		transcript.WithIDFunc(func() string { n++; return fmt.Sprintf("e%d", n) }),
		transcript.WithClock(func() time.Time { return clock }),
		transcript.WithLanguage("en"),
	}, opts...)
	return transcript.NewAssembler("u1", nil, opts...)
}

type wantEvent struct {
	kind caption.Kind
	id   string
	seq  int
	text string
}

func checkEvents(t *testing.T, step string, got []caption.Event, want []wantEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: events = %+v, want %d events", step, got, len(want))
	}
	for i, w := range want {
		g := got[i]
		if g.Kind != w.kind || g.ID.String() != w.id || g.Seq != w.seq || g.Text != w.text || g.SpeakerID != "u1" {
			t.Errorf("%s: event[%d] = {%v %v seq=%d %q}, want {%v %s seq=%d %q}",
				step, i, g.Kind, g.ID, g.Seq, g.Text, w.kind, w.id, w.seq, w.text)
		}
	}
}

func TestAssembler_Utterance(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	ctx := context.Background()
	interim := func(s string) stt.Transcript { return stt.Transcript{Text: s} }

	steps := []struct {
		name string
		in   stt.Transcript
		want []wantEvent
	}{
		{name: "first interim opens", in: interim("hello"), want: []wantEvent{
			{kind: caption.KindBegin, id: "e1", text: transcript.Placeholder},
			{kind: caption.KindUpdate, id: "e1", seq: 1, text: "Hello"},
		}},
		{name: "growing", in: interim("hello world"), want: []wantEvent{
			{kind: caption.KindUpdate, id: "e1", seq: 2, text: "Hello world"},
		}},
		{name: "revised tail", in: interim("hello word is"), want: []wantEvent{
			{kind: caption.KindUpdate, id: "e1", seq: 3, text: "Hello word is"},
		}},
		{name: "duplicate skipped", in: interim("hello word is")},
		{name: "committed prefix holds", in: interim("yellow word is here"), want: []wantEvent{
			{kind: caption.KindUpdate, id: "e1", seq: 4, text: "Hello word is here"},
		}},
		{name: "final", in: stt.Transcript{Text: "hello world is here", IsFinal: true}, want: []wantEvent{
			{kind: caption.KindFinalize, id: "e1", text: "Hello world is here."},
		}},
		{name: "empty result ignored", in: stt.Transcript{Text: "  ", IsFinal: true}},
		{name: "next utterance", in: interim("next"), want: []wantEvent{
			{kind: caption.KindBegin, id: "e2", text: transcript.Placeholder},
			{kind: caption.KindUpdate, id: "e2", seq: 1, text: "Next"},
		}},
	}
	for _, s := range steps {
		st := a.Handle(ctx, s.in)
		checkEvents(t, s.name, st.Events, s.want)
	}
	if !a.Open() {
		t.Error("utterance e2 should be open")
	}
}

func TestAssembler_FinalOnly(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	st := a.Handle(context.Background(), stt.Transcript{Text: "ok", SpeechFinal: true, Language: "de"})
	checkEvents(t, "final", st.Events, []wantEvent{
		{kind: caption.KindBegin, id: "e1", text: transcript.Placeholder},
		{kind: caption.KindFinalize, id: "e1", text: "Ok"},
	})
	if st.Utterance != 1 || st.Final == nil || st.Final.Text != "Ok" {
		t.Errorf("step = %+v", st)
	}
	if lang := st.Events[1].Lang; lang != "de" {
		t.Errorf("Lang = %q, want detected language", lang)
	}
	if !st.Events[1].HasText {
		t.Error("finalize without text")
	}
}

func TestAssembler_SpeechFinalSettlesVisibleText(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	ctx := context.Background()
	a.Handle(ctx, stt.Transcript{Text: "so where are we"})
	st := a.Handle(ctx, stt.Transcript{SpeechFinal: true})
	checkEvents(t, "speech final", st.Events, []wantEvent{
		{kind: caption.KindFinalize, id: "e1", text: "So where are we"},
	})
	if st.Events[0].Lang != "en" {
		t.Errorf("Lang = %q, want fallback language", st.Events[0].Lang)
	}
	if a.Open() {
		t.Error("utterance still open")
	}
}

func TestAssembler_Flush(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	ctx := context.Background()
	if st := a.Flush(ctx); len(st.Events) != 0 {
		t.Errorf("flush without utterance = %+v", st.Events)
	}
	a.Handle(ctx, stt.Transcript{Text: "wait for me"})
	checkEvents(t, "flush", a.Flush(ctx).Events, []wantEvent{
		{kind: caption.KindFinalize, id: "e1", text: "Wait for me"},
	})
}

func TestAssembler_OverlapTrim(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(transcript.WithOverlapTrim())
	ctx := context.Background()
	final := func(s string) stt.Transcript { return stt.Transcript{Text: s, IsFinal: true} }

	checkEvents(t, "first clip", a.Handle(ctx, final("we go to the tower")).Events, []wantEvent{
		{kind: caption.KindBegin, id: "e1", text: transcript.Placeholder},
		{kind: caption.KindFinalize, id: "e1", text: "We go to the tower."},
	})
	checkEvents(t, "overlapping clip", a.Handle(ctx, final("the tower then we rest")).Events, []wantEvent{
		{kind: caption.KindBegin, id: "e2", text: transcript.Placeholder},
		{kind: caption.KindFinalize, id: "e2", text: "Then we rest"},
	})
	checkEvents(t, "pure repeat", a.Handle(ctx, final("rest")).Events, nil)
}
