package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// interimState tracks one speaker's in-flight utterance.
type interimState struct {
	eventID string
	seq     int
	text    string
	sent    string
	timer   *time.Timer
	gen     uint64
	// req numbers the requests fired for the utterance; delivered holds the
	// newest request delivered per target language.
	req       uint64
	delivered map[string]uint64
}

// interimTranslator throttles interim translation to one request per
// speaker per window, always translating the latest text. Results that
// arrive after the utterance finalized or moved on, or after a newer result
// for the same language, are discarded.
type interimTranslator struct {
	hub    *Hub
	window time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	speakers map[string]*interimState
	gens     uint64
	stopped  bool
}

func newInterimTranslator(h *Hub, window time.Duration) *interimTranslator {
	ctx, cancel := context.WithCancel(context.Background())
	return &interimTranslator{
		hub:      h,
		window:   window,
		ctx:      ctx,
		cancel:   cancel,
		speakers: make(map[string]*interimState),
	}
}

func (t *interimTranslator) observe(userID, eventID string, seq int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	st, ok := t.speakers[userID]
	if !ok {
		st = &interimState{}
		t.speakers[userID] = st
	}
	if st.eventID != eventID {
		t.gens++
		st.eventID, st.gen = eventID, t.gens
		st.sent = ""
		st.req = 0
		st.delivered = make(map[string]uint64)
	}
	st.text, st.seq = text, seq
	if text == st.sent || strings.TrimSpace(text) == "" || st.timer != nil {
		return
	}
	st.timer = time.AfterFunc(t.window, func() { t.fire(userID) })
}

func (t *interimTranslator) fire(userID string) {
	t.mu.Lock()
	st, ok := t.speakers[userID]
	if !ok || t.stopped {
		t.mu.Unlock()
		return
	}
	st.timer = nil
	if st.text == st.sent {
		t.mu.Unlock()
		return
	}
	st.sent = st.text
	st.req++
	eventID, seq, text, gen, req := st.eventID, st.seq, st.text, st.gen, st.req
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	byLang := make(map[string][]*subscriber)
	for _, s := range t.hub.snapshot() {
		if p := s.getPrefs(); p.wantsTranslation() {
			byLang[p.TargetLang] = append(byLang[p.TargetLang], s)
		}
	}

	var g errgroup.Group
	g.SetLimit(defaultTranslateWorkers)
	for lang, group := range byLang {
		g.Go(func() error {
			out, ok := t.hub.translate(t.ctx, "interim", text, lang)
			if !ok {
				return nil
			}
			msg := t.hub.encode(updateMsg{
				Type:       TypeUpdate,
				EventID:    eventID,
				Text:       text,
				Seq:        seq,
				Translated: out,
				TargetLang: lang,
			})
			t.mu.Lock()
			defer t.mu.Unlock()
			if !t.latestLocked(userID, gen, req, lang) {
				return nil
			}
			for _, s := range group {
				t.hub.deliver(s, msg)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// latestLocked reports whether request req of utterance gen is newer than
// anything delivered for lang, and records it as delivered if so.
func (t *interimTranslator) latestLocked(userID string, gen, req uint64, lang string) bool {
	st, ok := t.speakers[userID]
	if !ok || t.stopped || st.gen != gen || req <= st.delivered[lang] {
		return false
	}
	st.delivered[lang] = req
	return true
}

// finish drops the speaker's state so pending results are discarded.
func (t *interimTranslator) finish(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.speakers[userID]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(t.speakers, userID)
	}
}

func (t *interimTranslator) stop() {
	t.mu.Lock()
	t.stopped = true
	for _, st := range t.speakers {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	clear(t.speakers)
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}
