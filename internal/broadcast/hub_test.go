package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphcap/internal/roster"
	"github.com/MrWong99/glyphcap/pkg/provider/translate/mock"
)

type testClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

// serve starts h behind an httptest server and returns a dial function.
func serve(t *testing.T, h *Hub) func() *testClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return func() *testClient {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = c.CloseNow() })
		return &testClient{t: t, ctx: ctx, conn: c}
	}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) next() map[string]any {
	c.t.Helper()
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		c.t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func (c *testClient) expect(typ string) map[string]any {
	c.t.Helper()
	m := c.next()
	if m["type"] != typ {
		c.t.Fatalf("got message %v, want type %q", m, typ)
	}
	return m
}

// handshake consumes the prefs and snapshot sent on connect.
func (c *testClient) handshake() (prefs map[string]any, speakers []any) {
	c.t.Helper()
	p := c.expect(TypePrefs)
	s := c.expect(TypeSpeakersSnap)
	speakers, _ = s["speakers"].([]any)
	return p["prefs"].(map[string]any), speakers
}

func (c *testClient) enableTranslation(lang string) {
	c.t.Helper()
	c.send(map[string]any{"type": TypeSetPrefs, "prefs": map[string]any{"translate": true, "targetLang": lang}})
	p := c.expect(TypePrefs)["prefs"].(map[string]any)
	if p["translate"] != true || p["targetLang"] != lang {
		c.t.Fatalf("prefs echo = %v", p)
	}
}

func TestHub_ConnectHandshake(t *testing.T) {
	t.Parallel()

	r := roster.New()
	r.Join("u2", "bob", "")
	r.Join("u1", "alice", "https://cdn/a.png")
	h := NewHub(Prefs{Translate: true, TargetLang: "en"}, nil, WithRoster(r))
	dial := serve(t, h)

	c := dial()
	prefs, speakers := c.handshake()
	if prefs["translate"] != true || prefs["targetLang"] != "en" {
		t.Errorf("prefs = %v", prefs)
	}
	if len(speakers) != 2 {
		t.Fatalf("speakers = %v", speakers)
	}
	first := speakers[0].(map[string]any)
	if first["username"] != "alice" || first["avatar"] != "https://cdn/a.png" {
		t.Errorf("first speaker = %v", first)
	}

	h.SetDefaults(Prefs{TargetLang: "fr"})
	prefs, _ = dial().handshake()
	if prefs["translate"] != false || prefs["targetLang"] != "fr" {
		t.Errorf("prefs after SetDefaults = %v", prefs)
	}
	if n := h.Subscribers(); n != 2 {
		t.Errorf("Subscribers() = %d, want 2", n)
	}
}

func TestHub_BeginAndUpdate(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{}, nil)
	dial := serve(t, h)
	a, b := dial(), dial()
	a.handshake()
	b.handshake()

	h.Begin(Caption{EventID: "e1", UserID: "u1", Username: "alice", Color: "#fff", Text: "…", UttSeq: 3})
	h.Update(Update{EventID: "e1", UserID: "u1", Seq: 1, Text: "hello"})

	for _, c := range []*testClient{a, b} {
		cp := c.expect(TypeCaption)
		if cp["eventId"] != "e1" || cp["username"] != "alice" || cp["text"] != "…" || cp["uttSeq"] != float64(3) {
			t.Errorf("caption = %v", cp)
		}
		up := c.expect(TypeUpdate)
		if up["eventId"] != "e1" || up["text"] != "hello" || up["seq"] != float64(1) {
			t.Errorf("update = %v", up)
		}
		if _, ok := up["translated"]; ok {
			t.Errorf("plain update carries translation: %v", up)
		}
	}
}

func TestHub_Finalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tr       *mock.Provider
		timeout  time.Duration
		wantText string
	}{
		{name: "translated", tr: &mock.Provider{}, wantText: "[de] hello there"},
		{name: "provider error sends original", tr: &mock.Provider{Err: errors.New("boom")}, wantText: "hello there"},
		{name: "timeout sends original", tr: &mock.Provider{Delay: time.Second}, timeout: 20 * time.Millisecond, wantText: "hello there"},
		{name: "empty result sends original", tr: &mock.Provider{Fn: func(string, string) (string, error) { return " ", nil }}, wantText: "hello there"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := []Option{}
			if tt.timeout > 0 {
				opts = append(opts, WithTranslateTimeout(tt.timeout))
			}
			h := NewHub(Prefs{}, tt.tr, opts...)
			dial := serve(t, h)
			de1, de2, plain := dial(), dial(), dial()
			for _, c := range []*testClient{de1, de2, plain} {
				c.handshake()
			}
			de1.enableTranslation("de")
			de2.enableTranslation("de")

			h.Finalize(context.Background(), Final{
				EventID: "e1", UserID: "u1", Username: "alice", Color: "#fff",
				Text: "hello there", SrcLang: "en",
			})

			for _, c := range []*testClient{de1, de2} {
				f := c.expect(TypeFinalize)
				if f["text"] != tt.wantText {
					t.Errorf("translated subscriber text = %q, want %q", f["text"], tt.wantText)
				}
				meta := f["meta"].(map[string]any)
				if meta["srcText"] != "hello there" || meta["srcLang"] != "en" {
					t.Errorf("meta = %v", meta)
				}
			}
			f := plain.expect(TypeFinalize)
			if f["text"] != "hello there" || f["userId"] != "u1" || f["username"] != "alice" {
				t.Errorf("plain finalize = %v", f)
			}
			if n := len(tt.tr.Calls()); n != 1 {
				t.Errorf("translate calls = %d, want 1 per target language", n)
			}
		})
	}
}

func TestHub_FinalizeWithoutTranslator(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{Translate: true, TargetLang: "de"}, nil)
	c := serve(t, h)()
	c.handshake()

	h.Finalize(context.Background(), Final{EventID: "e1", UserID: "u1", Text: "hi"})
	if f := c.expect(TypeFinalize); f["text"] != "hi" {
		t.Errorf("finalize = %v", f)
	}
}

func TestHub_InboundErrors(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{}, nil)
	c := serve(t, h)()
	c.handshake()

	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "not json", raw: "{nope", reason: ReasonBadJSON},
		{name: "missing type", raw: `{"prefs":{}}`, reason: ReasonBadJSON},
		{name: "setPrefs without prefs", raw: `{"type":"setPrefs"}`, reason: ReasonBadPrefs},
		{name: "unknown type", raw: `{"type":"dance"}`, reason: ReasonUnknownType},
		{name: "pins disabled", raw: `{"type":"speakers:set-inlang","userId":"u1","lang":"de"}`, reason: ReasonPinsDisabled},
	}
	for _, tt := range tests {
		if err := c.conn.Write(c.ctx, websocket.MessageText, []byte(tt.raw)); err != nil {
			t.Fatal(err)
		}
		if got := c.expect(TypeError); got["reason"] != tt.reason {
			t.Errorf("%s: reason = %v, want %q", tt.name, got["reason"], tt.reason)
		}
	}

	// The connection stays usable after errors.
	c.send(map[string]any{"type": TypeSpeakersGet})
	c.expect(TypeSpeakersSnap)
}

func TestHub_SetPrefsCoercion(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{TargetLang: "en"}, nil)
	c := serve(t, h)()
	c.handshake()

	c.send(map[string]any{"type": TypeSetPrefs, "prefs": map[string]any{"translate": "yes", "langHint": "ja"}})
	p := c.expect(TypePrefs)["prefs"].(map[string]any)
	if p["translate"] != true || p["targetLang"] != "en" || p["langHint"] != "ja" {
		t.Errorf("prefs = %v", p)
	}

	// Another subscriber's change does not leak into the defaults.
	if d := h.Defaults(); d.Translate || d.LangHint != "" {
		t.Errorf("defaults mutated: %+v", d)
	}
}

type pinRecorder struct {
	mu   sync.Mutex
	pins []string
}

func (p *pinRecorder) PinLanguage(_ context.Context, userID, lang string) error {
	if lang == "fr" {
		return errors.New("switch in progress")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins = append(p.pins, userID+"="+lang)
	return nil
}

func TestHub_SetInputLang(t *testing.T) {
	t.Parallel()

	r := roster.New()
	r.Join("u1", "alice", "")
	pins := &pinRecorder{}
	h := NewHub(Prefs{}, nil, WithRoster(r), WithLanguagePinner(pins))
	c := serve(t, h)()
	c.handshake()

	tests := []struct {
		name     string
		userID   string
		lang     string
		wantType string
		want     string
	}{
		{name: "missing user", userID: "", lang: "de", wantType: TypeError, want: ReasonBadUser},
		{name: "unknown user", userID: "ghost", lang: "de", wantType: TypeError, want: ReasonBadUser},
		{name: "bad language", userID: "u1", lang: "klingon", wantType: TypeError, want: ReasonBadLang},
		{name: "pinner error", userID: "u1", lang: "fr", wantType: TypeError, want: ReasonPinFailed},
		{name: "region normalized", userID: "u1", lang: "pt_br", wantType: TypeInputLangAck, want: "pt-BR"},
		{name: "auto", userID: "u1", lang: "AUTO", wantType: TypeInputLangAck, want: "auto"},
	}
	for _, tt := range tests {
		c.send(map[string]any{"type": TypeSetInputLang, "userId": tt.userID, "lang": tt.lang})
		got := c.expect(tt.wantType)
		key := "reason"
		if tt.wantType == TypeInputLangAck {
			key = "lang"
			if got["userId"] != tt.userID {
				t.Errorf("%s: ack userId = %v", tt.name, got["userId"])
			}
		}
		if got[key] != tt.want {
			t.Errorf("%s: %s = %v, want %q", tt.name, key, got[key], tt.want)
		}
	}

	pins.mu.Lock()
	defer pins.mu.Unlock()
	if want := []string{"u1=pt-BR", "u1=auto"}; strings.Join(pins.pins, ",") != strings.Join(want, ",") {
		t.Errorf("pins = %v, want %v", pins.pins, want)
	}
}

func TestHub_RosterPatches(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{}, nil, WithRosterDebounce(30*time.Millisecond))
	c := serve(t, h)()
	c.handshake()

	speaking, lang := true, "de"
	h.PatchSpeaker(roster.Patch{UserID: "u1", IsSpeaking: &speaking})
	h.PatchSpeaker(roster.Patch{UserID: "u1", DetectedLang: &lang})

	up := c.expect(TypeSpeakersUpdate)
	if up["userId"] != "u1" {
		t.Errorf("update = %v", up)
	}
	patch := up["patch"].(map[string]any)
	if patch["isSpeaking"] != true || patch["detectedLang"] != "de" {
		t.Errorf("patch = %v, want merged speaking and language", patch)
	}

	// Nothing else was queued for u1: the next message is whatever we send now.
	h.Begin(Caption{EventID: "e1", UserID: "u1"})
	c.expect(TypeCaption)
}

func TestHub_RosterPatchesImmediate(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{}, nil, WithRosterDebounce(0))
	c := serve(t, h)()
	c.handshake()

	h.PatchSpeaker(roster.Patch{UserID: "u1", Removed: true})
	up := c.expect(TypeSpeakersUpdate)
	if patch := up["patch"].(map[string]any); patch["removed"] != true {
		t.Errorf("patch = %v", patch)
	}
}

func TestHub_InterimTranslation(t *testing.T) {
	t.Parallel()

	tr := &mock.Provider{}
	h := NewHub(Prefs{}, tr, WithInterimTranslation(20*time.Millisecond))
	dial := serve(t, h)
	de, plain := dial(), dial()
	de.handshake()
	plain.handshake()
	de.enableTranslation("de")

	h.Update(Update{EventID: "e1", UserID: "u1", Seq: 1, Text: "hel"})
	h.Update(Update{EventID: "e1", UserID: "u1", Seq: 2, Text: "hello"})

	de.expect(TypeUpdate)
	de.expect(TypeUpdate)
	got := de.expect(TypeUpdate)
	if got["translated"] != "[de] hello" || got["targetLang"] != "de" || got["text"] != "hello" || got["seq"] != float64(2) {
		t.Errorf("translated update = %v", got)
	}

	// The plain subscriber sees only the two original updates.
	plain.expect(TypeUpdate)
	plain.expect(TypeUpdate)
	h.Finalize(context.Background(), Final{EventID: "e1", UserID: "u1", Text: "hello"})
	plain.expect(TypeFinalize)

	calls := tr.Calls()
	if len(calls) < 2 || calls[0].Text != "hello" {
		t.Errorf("translate calls = %+v, want one interim for the latest text then the final", calls)
	}
}

func TestHub_InterimTranslationDropsSlowerOlderResult(t *testing.T) {
	t.Parallel()

	tr := &mock.Provider{Fn: func(text, lang string) (string, error) {
		if text == "one" {
			time.Sleep(200 * time.Millisecond)
		}
		return "[" + lang + "] " + text, nil
	}}
	h := NewHub(Prefs{}, tr, WithInterimTranslation(20*time.Millisecond))
	c := serve(t, h)()
	c.handshake()
	c.enableTranslation("de")

	h.Update(Update{EventID: "e1", UserID: "u1", Seq: 1, Text: "one"})
	time.Sleep(50 * time.Millisecond)
	h.Update(Update{EventID: "e1", UserID: "u1", Seq: 2, Text: "one two"})

	c.expect(TypeUpdate)
	c.expect(TypeUpdate)
	got := c.expect(TypeUpdate)
	if got["translated"] != "[de] one two" {
		t.Fatalf("translated update = %v, want the newest text", got)
	}

	// Let the slow request for "one" complete before the utterance ends.
	time.Sleep(300 * time.Millisecond)
	h.Finalize(context.Background(), Final{EventID: "e1", UserID: "u1", Text: "one two"})
	if m := c.next(); m["type"] != TypeFinalize {
		t.Errorf("stale translation delivered after a newer one: %v", m)
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := NewHub(Prefs{}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.CloseNow()
	for range 2 {
		if _, _, err := c.Read(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	_, _, err = c.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want StatusGoingAway", got, err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", resp.StatusCode)
	}
}
