package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// State is the socket state of a session.
type State int

const (
	// StateClosed means no socket; audio is buffered.
	StateClosed State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means audio is forwarded to the provider.
	StateOpen
	// StateFinishing means the socket was asked to flush and close. New audio
	// is buffered for the next socket.
	StateFinishing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFinishing:
		return "finishing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a point-in-time view of one speaker's session.
type Status struct {
	State State
	// Language is the language the next (or current) socket uses.
	Language string
	// Pin is the speaker's explicit pin, empty when none was set.
	Pin string
	// Model is the model in use; Degraded is set after a capability fallback.
	Model    string
	Degraded bool
	// Switch is the state of the most recent language switch and SwitchErr
	// its error when it failed.
	Switch    SwitchState
	SwitchErr error
	// Err is the standing error after repeated capability failures.
	Err          error
	PendingBytes int
	LastActivity time.Time
	LastClose    time.Time
}

// session is the per-speaker state. Every field is guarded by mu.
type session struct {
	id string

	mu           sync.Mutex
	onTranscript TranscriptFunc
	onError      ErrorFunc

	state     State
	finishing bool
	handle    stt.SessionHandle
	// draining holds replaced sockets still flushing final results.
	draining map[stt.SessionHandle]struct{}
	// epoch is bumped whenever the active socket is dropped outside the read
	// loop, so a dial started earlier knows its result is stale.
	epoch         uint64
	stopKeepAlive func()
	reopenTimer   *time.Timer

	pending        []byte
	overflowWarned bool

	lastActivity time.Time
	lastClose    time.Time

	pin       string
	openLang  string
	model     string
	degraded  bool
	standing  error
	switchSt  SwitchState
	switchErr error
	destroyed bool
}

func newSession(id, pin string, now time.Time) *session {
	return &session{
		id:           id,
		pin:          pin,
		draining:     make(map[stt.SessionHandle]struct{}),
		lastActivity: now,
	}
}

func (m *Manager) statusLocked(s *session) Status {
	st := Status{
		State:        s.state,
		Language:     stt.ResolveLanguage(s.pin, m.cfg.DefaultLanguage),
		Pin:          s.pin,
		Model:        s.model,
		Degraded:     s.degraded,
		Switch:       s.switchSt,
		SwitchErr:    s.switchErr,
		Err:          s.standing,
		PendingBytes: len(s.pending),
		LastActivity: s.lastActivity,
		LastClose:    s.lastClose,
	}
	if s.state == StateOpen {
		st.Language = s.openLang
		if s.finishing {
			st.State = StateFinishing
		}
	}
	return st
}

// maybeOpenLocked starts a dial when the session is closed, enough audio is
// pending and the reopen debounce has elapsed. Must be called with s.mu held.
func (m *Manager) maybeOpenLocked(s *session) {
	if s.state != StateClosed || s.destroyed || m.closed.Load() {
		return
	}
	if len(s.pending) < m.cfg.MinConnectBytes {
		return
	}
	if !s.lastClose.IsZero() {
		wait := m.cfg.ReopenDebounce
		if s.standing != nil {
			wait = m.cfg.CapabilityRetry
		}
		if since := m.now().Sub(s.lastClose); since < wait {
			m.scheduleReopenLocked(s, wait-since)
			return
		}
	}
	m.stopReopenLocked(s)

	s.state = StateConnecting
	cfg := m.streamConfigLocked(s)
	epoch := s.epoch
	m.wg.Add(1)
	go m.open(s, cfg, epoch)
}

func (m *Manager) scheduleReopenLocked(s *session, d time.Duration) {
	if s.reopenTimer != nil {
		return
	}
	s.reopenTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reopenTimer = nil
		m.maybeOpenLocked(s)
	})
}

func (m *Manager) stopReopenLocked(s *session) {
	if s.reopenTimer != nil {
		s.reopenTimer.Stop()
		s.reopenTimer = nil
	}
}

// open dials a socket for s and, on success, flushes the pending buffer in
// one send before any newer audio can be forwarded.
func (m *Manager) open(s *session, cfg stt.StreamConfig, epoch uint64) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.OpenTimeout)
	h, err := m.provider.StartStream(ctx, cfg)
	cancel()

	s.mu.Lock()
	if s.destroyed || s.epoch != epoch || m.closed.Load() {
		s.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		return
	}
	if err != nil {
		m.counters.openFailures.Add(1)
		s.state = StateClosed
		s.lastClose = m.now()
		report := m.failedLocked(s, cfg, err)
		onErr := s.onError
		s.mu.Unlock()
		if onErr != nil {
			onErr(s.id, report)
		}
		return
	}

	m.counters.opens.Add(1)
	s.state = StateOpen
	s.finishing = false
	s.handle = h
	s.openLang = cfg.Language
	s.standing = nil
	s.overflowWarned = false
	if len(s.pending) > 0 {
		if err := h.SendAudio(s.pending); err != nil {
			m.log.Warn("speech: flush on open failed", "speaker", s.id, "err", err)
		} else {
			s.pending = nil
		}
	}
	s.stopKeepAlive = m.startKeepAlive(s.id, h)
	m.wg.Add(1)
	go m.readLoop(s, h)

	// A pin that changed while the dial was in flight is applied with a
	// regular switch now that the socket is open.
	follow := stt.ResolveLanguage(s.pin, m.cfg.DefaultLanguage) != cfg.Language
	s.mu.Unlock()

	m.log.Info("speech: socket open", "speaker", s.id, "language", cfg.Language, "model", cfg.Model)
	if follow {
		m.followUpSwitch(s.id)
	}
}

// failedLocked records a dial or socket failure and arranges a retry. It
// returns the error to report to the session's error callback.
func (m *Manager) failedLocked(s *session, cfg stt.StreamConfig, err error) error {
	if !errors.Is(err, stt.ErrUnsupportedConfig) {
		m.log.Warn("speech: socket failed", "speaker", s.id, "err", err)
		m.maybeOpenLocked(s)
		return err
	}

	if m.cfg.FallbackModel != "" && !s.degraded && cfg.Model != m.cfg.FallbackModel {
		m.counters.fallbacks.Add(1)
		s.degraded = true
		s.model = m.cfg.FallbackModel
		s.lastClose = time.Time{}
		m.log.Warn("speech: provider rejected configuration, falling back",
			"speaker", s.id, "model", cfg.Model, "fallback", m.cfg.FallbackModel, "err", err)
		m.maybeOpenLocked(s)
		return fmt.Errorf("speech: degraded to model %q: %w", m.cfg.FallbackModel, err)
	}

	s.standing = err
	m.log.Error("speech: provider rejected configuration", "speaker", s.id, "model", cfg.Model, "err", err)
	m.maybeOpenLocked(s)
	return err
}

// readLoop forwards transcripts from h while h is the active socket or is
// draining after a swap, then cleans up once h terminated.
func (m *Manager) readLoop(s *session, h stt.SessionHandle) {
	defer m.wg.Done()

	for t := range h.Transcripts() {
		s.mu.Lock()
		_, draining := s.draining[h]
		deliver := s.handle == h || draining
		cb := s.onTranscript
		s.mu.Unlock()
		if deliver && cb != nil {
			cb(s.id, t)
		}
	}
	<-h.Done()
	err := h.Err()

	s.mu.Lock()
	if _, ok := s.draining[h]; ok {
		delete(s.draining, h)
		s.mu.Unlock()
		if err != nil {
			m.log.Debug("speech: replaced socket ended with error", "speaker", s.id, "err", err)
		}
		return
	}
	if s.handle != h {
		// Dropped by ForceClose or Destroy.
		s.mu.Unlock()
		return
	}
	m.detachLocked(s)
	s.lastClose = m.now()
	var report error
	if err != nil {
		report = m.failedLocked(s, stt.StreamConfig{Model: s.model}, err)
	} else {
		m.maybeOpenLocked(s)
	}
	onErr := s.onError
	s.mu.Unlock()

	m.log.Debug("speech: socket closed", "speaker", s.id, "err", err)
	if report != nil && onErr != nil {
		onErr(s.id, report)
	}
}

// detachLocked drops the active socket and returns it for closing. The read
// loop of the returned handle no longer delivers transcripts.
func (m *Manager) detachLocked(s *session) stt.SessionHandle {
	h := s.handle
	if s.stopKeepAlive != nil {
		s.stopKeepAlive()
		s.stopKeepAlive = nil
	}
	m.stopReopenLocked(s)
	s.handle = nil
	s.state = StateClosed
	s.finishing = false
	s.epoch++
	return h
}

// startKeepAlive pings h every KeepAliveInterval until the returned stop
// function is called or h terminates.
func (m *Manager) startKeepAlive(speakerID string, h stt.SessionHandle) func() {
	stop := make(chan struct{})
	var once sync.Once
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-h.Done():
				return
			case <-ticker.C:
				if err := h.KeepAlive(); err != nil {
					m.log.Debug("speech: keepalive failed", "speaker", speakerID, "err", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}
