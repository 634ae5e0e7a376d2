// Package broadcast fans caption events out to websocket subscribers.
//
// Every subscriber owns its preferences (translate on/off, target language,
// input-language hint), defaulted from the hub's process-wide defaults when
// it connects. Caption begins and interim updates are broadcast verbatim;
// finalized captions are translated per target language and fail open to
// the original text. Roster changes are coalesced per speaker before they
// go out as speakers:update patches.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/roster"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

// Defaults for [NewHub].
const (
	DefaultTranslateTimeout = 3 * time.Second
	DefaultRosterDebounce   = 150 * time.Millisecond
	DefaultQueueSize        = 256
	DefaultReadLimit        = 64 << 10
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPinTimeout       = 8 * time.Second
	defaultTranslateWorkers = 8
)

// ErrHubClosed is returned by operations on a closed hub.
var ErrHubClosed = errors.New("broadcast: hub closed")

// LanguagePinner applies a subscriber's input-language pin for a speaker.
// lang is already normalized ("auto", "xx" or "xx-YY").
type LanguagePinner interface {
	PinLanguage(ctx context.Context, userID, lang string) error
}

// PinnerFunc adapts a function to [LanguagePinner].
type PinnerFunc func(ctx context.Context, userID, lang string) error

// PinLanguage implements [LanguagePinner].
func (f PinnerFunc) PinLanguage(ctx context.Context, userID, lang string) error {
	return f(ctx, userID, lang)
}

// Option configures a [Hub].
type Option func(*Hub)

// WithRoster sets the registry used for snapshots and speaker validation.
func WithRoster(r *roster.Registry) Option { return func(h *Hub) { h.roster = r } }

// WithLanguagePinner enables speakers:set-inlang.
func WithLanguagePinner(p LanguagePinner) Option { return func(h *Hub) { h.pinner = p } }

// WithTranslateTimeout bounds each translation call.
func WithTranslateTimeout(d time.Duration) Option {
	return func(h *Hub) { h.translateTimeout = d }
}

// WithInterimTranslation enables translated interim updates, at most one
// request per speaker per window.
func WithInterimTranslation(window time.Duration) Option {
	return func(h *Hub) { h.interimWindow = window }
}

// WithRosterDebounce sets the per-speaker roster coalescing window. Zero
// sends every patch immediately.
func WithRosterDebounce(d time.Duration) Option {
	return func(h *Hub) { h.rosterDebounce = d }
}

// WithQueueSize sets the per-subscriber outbound queue length. A subscriber
// whose queue overflows is disconnected.
func WithQueueSize(n int) Option { return func(h *Hub) { h.queueSize = n } }

// WithOriginPatterns allows cross-origin browser subscribers from hosts
// matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithMetrics records hub activity.
func WithMetrics(m *observe.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// Hub is the subscriber registry and caption fan-out.
type Hub struct {
	tr               translate.Provider
	roster           *roster.Registry
	pinner           LanguagePinner
	translateTimeout time.Duration
	interimWindow    time.Duration
	rosterDebounce   time.Duration
	queueSize        int
	originPatterns   []string
	metrics          *observe.Metrics

	interim *interimTranslator
	patches *patchCoalescer

	mu       sync.RWMutex
	defaults Prefs
	subs     map[*subscriber]struct{}
	closed   bool
}

// NewHub returns a hub handing out copies of defaults to new subscribers.
// tr may be nil, in which case nothing is translated.
func NewHub(defaults Prefs, tr translate.Provider, opts ...Option) *Hub {
	h := &Hub{
		tr:               tr,
		translateTimeout: DefaultTranslateTimeout,
		rosterDebounce:   DefaultRosterDebounce,
		queueSize:        DefaultQueueSize,
		defaults:         defaults,
		subs:             make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.queueSize <= 0 {
		h.queueSize = DefaultQueueSize
	}
	if h.interimWindow > 0 && h.tr != nil {
		h.interim = newInterimTranslator(h, h.interimWindow)
	}
	h.patches = newPatchCoalescer(h.rosterDebounce, h.sendPatches)
	return h
}

// Defaults returns the preferences new subscribers start with.
func (h *Hub) Defaults() Prefs {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaults
}

// SetDefaults replaces the defaults for subscribers connecting later.
func (h *Hub) SetDefaults(p Prefs) {
	h.mu.Lock()
	h.defaults = p
	h.mu.Unlock()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket subscriber and serves it
// until the client goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed, defaults := h.closed, h.defaults
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		slog.Warn("broadcast: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(DefaultReadLimit)

	sub := newSubscriber(uuid.NewString(), conn, defaults, h.queueSize)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub.enqueue(h.encode(prefsMsg{Type: TypePrefs, Prefs: defaults}))
	sub.enqueue(h.snapshotMsg())
	if !h.add(sub) {
		sub.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	slog.Info("broadcast: subscriber connected", "subscriber", sub.id, "remote", r.RemoteAddr)
	go sub.writePump(ctx, DefaultWriteTimeout)
	h.readLoop(ctx, sub)
	sub.close(websocket.StatusNormalClosure, "")
	slog.Info("broadcast: subscriber disconnected", "subscriber", sub.id)
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	if h.metrics != nil {
		h.metrics.Subscribers.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.Subscribers.Add(context.Background(), -1)
	}
}

func (h *Hub) snapshot() []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *Hub) readLoop(ctx context.Context, s *subscriber) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !s.closed() && ctx.Err() == nil {
				slog.Debug("broadcast: read failed", "subscriber", s.id, "err", err)
			}
			return
		}
		h.handleMessage(ctx, s, data)
	}
}

func (h *Hub) handleMessage(ctx context.Context, s *subscriber, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		h.replyError(s, ReasonBadJSON, "")
		return
	}

	switch msg.Type {
	case TypeSetPrefs:
		if msg.Prefs == nil {
			h.replyError(s, ReasonBadPrefs, "prefs object required")
			return
		}
		p := s.getPrefs().applyPatch(msg.Prefs)
		s.setPrefs(p)
		h.deliver(s, h.encode(prefsMsg{Type: TypePrefs, Prefs: p}))

	case TypeSpeakersGet:
		h.deliver(s, h.snapshotMsg())

	case TypeSetInputLang:
		h.handleSetInputLang(ctx, s, msg)

	default:
		h.replyError(s, ReasonUnknownType, msg.Type)
	}
}

func (h *Hub) handleSetInputLang(ctx context.Context, s *subscriber, msg inbound) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		h.replyError(s, ReasonBadUser, "userId required")
		return
	}
	if h.roster != nil {
		if _, ok := h.roster.Get(userID); !ok {
			h.replyError(s, ReasonBadUser, userID)
			return
		}
	}
	lang, ok := stt.NormalizeLanguage(msg.Lang)
	if !ok {
		h.replyError(s, ReasonBadLang, msg.Lang)
		return
	}
	if h.pinner == nil {
		h.replyError(s, ReasonPinsDisabled, "")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, DefaultPinTimeout)
	defer cancel()
	if err := h.pinner.PinLanguage(pctx, userID, lang); err != nil {
		slog.Warn("broadcast: language pin failed", "subscriber", s.id, "speaker", userID, "lang", lang, "err", err)
		h.replyError(s, ReasonPinFailed, err.Error())
		return
	}
	h.deliver(s, h.encode(inputLangAckMsg{Type: TypeInputLangAck, UserID: userID, Lang: lang}))
}

func (h *Hub) replyError(s *subscriber, reason, detail string) {
	h.deliver(s, h.encode(errorMsg{Type: TypeError, Reason: reason, Detail: detail}))
}

func (h *Hub) snapshotMsg() []byte {
	speakers := []roster.Speaker{}
	if h.roster != nil {
		speakers = h.roster.Snapshot()
	}
	return h.encode(snapshotMsg{Type: TypeSpeakersSnap, Speakers: speakers})
}

func (h *Hub) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable through a programming error in the message types.
		slog.Error("broadcast: encode message", "err", err)
		return nil
	}
	return data
}

// deliver enqueues msg and disconnects the subscriber if it cannot keep up.
func (h *Hub) deliver(s *subscriber, msg []byte) {
	if msg == nil {
		return
	}
	if s.enqueue(msg) || s.closed() {
		return
	}
	slog.Warn("broadcast: subscriber queue full, disconnecting", "subscriber", s.id)
	s.close(websocket.StatusPolicyViolation, "slow consumer")
	h.remove(s)
}

func (h *Hub) broadcast(msg []byte) {
	for _, s := range h.snapshot() {
		h.deliver(s, msg)
	}
}

func (h *Hub) countEvent(kind string) {
	if h.metrics != nil {
		h.metrics.RecordCaptionEvent(context.Background(), kind)
	}
}

// Begin announces a new utterance to all subscribers.
func (h *Hub) Begin(c Caption) {
	h.broadcast(h.encode(captionMsg{Type: TypeCaption, Caption: c}))
	h.countEvent(TypeCaption)
}

// Update broadcasts an interim revision and, when interim translation is
// enabled, schedules its translation.
func (h *Hub) Update(u Update) {
	h.broadcast(h.encode(updateMsg{Type: TypeUpdate, EventID: u.EventID, Text: u.Text, Seq: u.Seq}))
	h.countEvent(TypeUpdate)
	if h.interim != nil {
		h.interim.observe(u.UserID, u.EventID, u.Seq, u.Text)
	}
}

// Finalize delivers a finalized caption to every subscriber, translated per
// target language for those who asked. Translation failures and timeouts
// send the original text. It returns once every subscriber's message is
// queued.
func (h *Hub) Finalize(ctx context.Context, f Final) {
	if h.interim != nil {
		h.interim.finish(f.UserID)
	}
	base := finalizeMsg{
		Type:     TypeFinalize,
		EventID:  f.EventID,
		UserID:   f.UserID,
		Username: f.Username,
		Color:    f.Color,
		Text:     f.Text,
		Meta:     finalizeMeta{SrcText: f.Text, SrcLang: f.SrcLang},
	}
	plain := h.encode(base)

	byLang := make(map[string][]*subscriber)
	for _, s := range h.snapshot() {
		p := s.getPrefs()
		if h.tr != nil && p.wantsTranslation() && strings.TrimSpace(f.Text) != "" {
			byLang[p.TargetLang] = append(byLang[p.TargetLang], s)
			continue
		}
		h.deliver(s, plain)
	}

	var g errgroup.Group
	g.SetLimit(defaultTranslateWorkers)
	for lang, group := range byLang {
		g.Go(func() error {
			msg := base
			msg.Text, _ = h.translate(ctx, "final", f.Text, lang)
			data := h.encode(msg)
			for _, s := range group {
				h.deliver(s, data)
			}
			return nil
		})
	}
	_ = g.Wait()
	h.countEvent(TypeFinalize)
}

// translate returns text translated to lang. On failure it returns text
// itself and false.
func (h *Hub) translate(ctx context.Context, kind, text, lang string) (string, bool) {
	tctx, cancel := context.WithTimeout(ctx, h.translateTimeout)
	defer cancel()

	start := time.Now()
	var out string
	err := observe.Traced(tctx, "translate."+kind, func(ctx context.Context) error {
		var err error
		out, err = h.tr.Translate(ctx, text, lang)
		return err
	}, observe.Attr("target_lang", lang))
	if h.metrics != nil {
		h.metrics.RecordTranslation(ctx, kind, time.Since(start), err)
	}
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			slog.Warn("broadcast: translation failed, sending original", "kind", kind, "target_lang", lang, "err", err)
		}
		return text, false
	}
	return out, true
}

// PatchSpeaker queues a roster change for coalesced delivery.
func (h *Hub) PatchSpeaker(p roster.Patch) {
	h.patches.add(p)
}

func (h *Hub) sendPatches(patches []roster.Patch) {
	for _, p := range patches {
		h.broadcast(h.encode(speakerUpdateMsg{Type: TypeSpeakersUpdate, UserID: p.UserID, Patch: p}))
	}
}

// Close disconnects every subscriber and stops the hub's timers. Pending
// roster patches are flushed first.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.patches.stop()
	if h.interim != nil {
		h.interim.stop()
	}

	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}
