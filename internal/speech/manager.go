// Package speech owns one logical streaming STT session per speaker.
//
// A [Manager] hides the socket lifecycle from callers: sessions are created
// closed, buffer audio until enough has accumulated, open lazily, are finished
// gracefully when the speaker goes idle and reopen with a short debounce when
// new audio arrives. Changing a speaker's input language swaps the socket
// make-before-break (see [Manager.SwitchLanguage]).
//
// Each speaker's state is guarded by its own mutex, so a slow dial or a stuck
// callback for one speaker never blocks audio for another. Callbacks are
// always invoked without any manager lock held.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// Sentinel errors returned by the Manager.
var (
	// ErrNoSession is returned by Send for a speaker without a session.
	ErrNoSession = errors.New("speech: no session for speaker")

	// ErrSwitchInProgress is returned when a language switch is requested while
	// another switch for the same speaker is still running.
	ErrSwitchInProgress = errors.New("speech: language switch already in progress")

	// ErrInvalidLanguage is returned for language pins that are neither "auto"
	// nor a two-letter code with an optional two-letter region.
	ErrInvalidLanguage = errors.New("speech: invalid language code")

	// ErrSwitchAborted is returned when the session closed or was destroyed
	// while the replacement socket was being opened.
	ErrSwitchAborted = errors.New("speech: language switch aborted")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("speech: manager closed")
)

// TranscriptFunc receives transcripts for one speaker, in provider order.
type TranscriptFunc func(speakerID string, t stt.Transcript)

// ErrorFunc receives transport and provider errors for one speaker. The
// session survives the error.
type ErrorFunc func(speakerID string, err error)

// Config holds the session manager parameters.
type Config struct {
	// SampleRate and Channels describe the PCM sent to the provider.
	SampleRate int
	Channels   int

	// MinConnectBytes is the amount of pending audio required before a socket
	// is opened (80 ms of 48 kHz mono 16-bit PCM by default).
	MinConnectBytes int

	// ReopenDebounce is the minimum time between a close and the next open.
	ReopenDebounce time.Duration

	// SweepInterval is how often Run checks for idle sessions.
	SweepInterval time.Duration

	// Endpointing is the provider's trailing-silence endpoint. IdleGrace is
	// added on top before an idle session is finished; MinIdle is the floor.
	Endpointing time.Duration
	IdleGrace   time.Duration
	MinIdle     time.Duration

	// KeepAliveInterval is the period of no-op pings on an open socket.
	KeepAliveInterval time.Duration

	// OpenTimeout bounds a lazy open; SwitchTimeout bounds the replacement
	// socket during a language switch.
	OpenTimeout   time.Duration
	SwitchTimeout time.Duration

	// DrainTimeout bounds how long a replaced socket may take to flush its
	// final results before it is closed hard.
	DrainTimeout time.Duration

	// CapabilityRetry is the wait before retrying after the provider rejected
	// both the primary and the fallback model.
	CapabilityRetry time.Duration

	// DefaultLanguage applies to speakers without a pin.
	DefaultLanguage string

	// Model is the primary provider model, FallbackModel the degraded one used
	// once after a capability rejection. Empty FallbackModel disables fallback.
	Model         string
	FallbackModel string

	// Keywords are forwarded to every session.
	Keywords []stt.KeywordBoost

	// MaxPendingBytes caps the buffer of audio waiting for a socket. Oldest
	// audio is dropped beyond the cap.
	MaxPendingBytes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		Channels:          1,
		MinConnectBytes:   7680,
		ReopenDebounce:    600 * time.Millisecond,
		SweepInterval:     500 * time.Millisecond,
		Endpointing:       1200 * time.Millisecond,
		IdleGrace:         800 * time.Millisecond,
		MinIdle:           1200 * time.Millisecond,
		KeepAliveInterval: 25 * time.Second,
		OpenTimeout:       10 * time.Second,
		SwitchTimeout:     5 * time.Second,
		DrainTimeout:      5 * time.Second,
		CapabilityRetry:   30 * time.Second,
		DefaultLanguage:   stt.LanguageAuto,
		MaxPendingBytes:   48000 * 2 * 30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.MinConnectBytes <= 0 {
		c.MinConnectBytes = d.MinConnectBytes
	}
	if c.ReopenDebounce < 0 {
		c.ReopenDebounce = 0
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.Endpointing <= 0 {
		c.Endpointing = d.Endpointing
	}
	if c.IdleGrace < 0 {
		c.IdleGrace = 0
	}
	if c.MinIdle <= 0 {
		c.MinIdle = d.MinIdle
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.SwitchTimeout <= 0 {
		c.SwitchTimeout = d.SwitchTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.CapabilityRetry <= 0 {
		c.CapabilityRetry = d.CapabilityRetry
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
	if c.MaxPendingBytes <= 0 {
		c.MaxPendingBytes = d.MaxPendingBytes
	}
	if c.MaxPendingBytes < c.MinConnectBytes {
		c.MaxPendingBytes = c.MinConnectBytes
	}
	return c
}

// IdleThreshold is the inactivity after which an open session is finished.
func (c Config) IdleThreshold() time.Duration {
	return max(c.MinIdle, c.Endpointing+c.IdleGrace)
}

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithClock overrides the time source used for activity and debounce checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// Stats is a snapshot of manager-wide counters.
type Stats struct {
	Sessions       int
	Open           int
	Connecting     int
	Finishing      int
	PendingBytes   int
	Opens          int64
	OpenFailures   int64
	Fallbacks      int64
	Switches       int64
	SwitchFailures int64
	DroppedBytes   int64
}

type counters struct {
	opens          atomic.Int64
	openFailures   atomic.Int64
	fallbacks      atomic.Int64
	switches       atomic.Int64
	switchFailures atomic.Int64
	droppedBytes   atomic.Int64
}

// Manager owns the per-speaker sessions. Create one with [NewManager].
type Manager struct {
	provider stt.Provider
	cfg      Config
	now      func() time.Time
	log      *slog.Logger

	// ctx is the parent of every dial; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	pins     map[string]string

	counters counters
}

// NewManager creates a Manager that opens sessions through p.
func NewManager(p stt.Provider, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider: p,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		pins:     make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureSession registers callbacks for the speaker. An existing session keeps
// its socket and buffered audio; only the callbacks are replaced and activity
// is refreshed. Otherwise a closed session is created; no socket is opened
// until audio arrives.
func (m *Manager) EnsureSession(speakerID string, onTranscript TranscriptFunc, onError ErrorFunc) {
	m.mu.Lock()
	s, ok := m.sessions[speakerID]
	if !ok {
		s = newSession(speakerID, m.pins[speakerID], m.now())
		s.model = m.cfg.Model
		m.sessions[speakerID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.onTranscript = onTranscript
	s.onError = onError
	s.lastActivity = m.now()
	s.mu.Unlock()

	if !ok {
		m.log.Debug("speech: session created", "speaker", speakerID)
	}
}

// Send forwards audio to the speaker's open socket, or buffers it and opens
// the socket once enough is pending. audio is not retained after Send returns
// when it is forwarded directly; buffered audio is copied.
func (m *Manager) Send(speakerID string, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if m.closed.Load() {
		return ErrManagerClosed
	}
	s := m.session(speakerID)
	if s == nil {
		return ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrNoSession
	}
	s.lastActivity = m.now()

	if s.state == StateOpen && !s.finishing {
		err := s.handle.SendAudio(audio)
		if err == nil {
			return nil
		}
		// The socket died between the read loop noticing and now. Keep the
		// audio; the read loop will reopen.
		m.log.Debug("speech: send on dead socket, buffering", "speaker", speakerID, "err", err)
	}
	m.bufferLocked(s, audio)
	m.maybeOpenLocked(s)
	return nil
}

// MarkActivity refreshes the speaker's activity timestamp without audio.
func (m *Manager) MarkActivity(speakerID string) {
	s := m.session(speakerID)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastActivity = m.now()
	s.mu.Unlock()
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep finishes every open session idle for longer than the idle threshold.
// A session already finishing is left alone.
func (m *Manager) sweep() {
	now := m.now()
	threshold := m.cfg.IdleThreshold()
	for _, s := range m.snapshot() {
		s.mu.Lock()
		if s.state != StateOpen || s.finishing || now.Sub(s.lastActivity) <= threshold {
			s.mu.Unlock()
			continue
		}
		s.finishing = true
		h := s.handle
		idle := now.Sub(s.lastActivity)
		onErr := s.onError
		s.mu.Unlock()

		m.log.Debug("speech: finishing idle session", "speaker", s.id, "idle", idle)
		if err := h.Finish(); err != nil && onErr != nil {
			onErr(s.id, fmt.Errorf("speech: finish: %w", err))
		}
	}
}

// ForceClose closes the speaker's socket immediately. The session and its
// pending audio are kept; new audio reopens it after the debounce.
func (m *Manager) ForceClose(speakerID string) {
	s := m.session(speakerID)
	if s == nil {
		return
	}
	s.mu.Lock()
	h := m.detachLocked(s)
	s.lastClose = m.now()
	s.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
	m.log.Debug("speech: session force-closed", "speaker", speakerID)
}

// Destroy closes the speaker's socket and removes the session. The language
// pin survives.
func (m *Manager) Destroy(speakerID string) {
	m.mu.Lock()
	s := m.sessions[speakerID]
	delete(m.sessions, speakerID)
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.destroyed = true
	h := m.detachLocked(s)
	s.pending = nil
	draining := make([]stt.SessionHandle, 0, len(s.draining))
	for d := range s.draining {
		draining = append(draining, d)
	}
	s.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
	for _, d := range draining {
		_ = d.Close()
	}
	m.log.Debug("speech: session destroyed", "speaker", speakerID)
}

// Close destroys every session, cancels in-flight dials and waits for the
// background goroutines to exit.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Destroy(id)
	}
	m.wg.Wait()
	return nil
}

// Status reports the current state of the speaker's session.
func (m *Manager) Status(speakerID string) (Status, bool) {
	s := m.session(speakerID)
	if s == nil {
		m.mu.Lock()
		pin, ok := m.pins[speakerID]
		m.mu.Unlock()
		if !ok {
			return Status{}, false
		}
		return Status{State: StateClosed, Language: stt.ResolveLanguage(pin, m.cfg.DefaultLanguage), Pin: pin}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.statusLocked(s), true
}

// Stats returns manager-wide counters.
func (m *Manager) Stats() Stats {
	st := Stats{
		Opens:          m.counters.opens.Load(),
		OpenFailures:   m.counters.openFailures.Load(),
		Fallbacks:      m.counters.fallbacks.Load(),
		Switches:       m.counters.switches.Load(),
		SwitchFailures: m.counters.switchFailures.Load(),
		DroppedBytes:   m.counters.droppedBytes.Load(),
	}
	for _, s := range m.snapshot() {
		s.mu.Lock()
		st.Sessions++
		switch {
		case s.state == StateOpen && s.finishing:
			st.Finishing++
		case s.state == StateOpen:
			st.Open++
		case s.state == StateConnecting:
			st.Connecting++
		}
		st.PendingBytes += len(s.pending)
		s.mu.Unlock()
	}
	return st
}

func (m *Manager) session(speakerID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[speakerID]
}

func (m *Manager) snapshot() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// streamConfigLocked builds the StreamConfig for the next socket of s.
func (m *Manager) streamConfigLocked(s *session) stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate:     m.cfg.SampleRate,
		Channels:       m.cfg.Channels,
		Language:       stt.ResolveLanguage(s.pin, m.cfg.DefaultLanguage),
		Model:          s.model,
		InterimResults: true,
		Endpointing:    m.cfg.Endpointing,
		Keywords:       m.cfg.Keywords,
	}
}

// bufferLocked appends audio to the pending buffer, dropping the oldest bytes
// beyond MaxPendingBytes.
func (m *Manager) bufferLocked(s *session, audio []byte) {
	s.pending = append(s.pending, audio...)
	if over := len(s.pending) - m.cfg.MaxPendingBytes; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
		m.counters.droppedBytes.Add(int64(over))
		if !s.overflowWarned {
			s.overflowWarned = true
			m.log.Warn("speech: pending audio over cap, dropping oldest",
				"speaker", s.id, "cap_bytes", m.cfg.MaxPendingBytes, "state", s.state.String())
		}
	}
}
