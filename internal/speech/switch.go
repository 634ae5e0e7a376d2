package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// SwitchState is the make-before-break language switch state of a session.
//
//	Idle → Switching → Swapped
//	                 ↘ Failed
//
// A failed switch leaves the original socket active and untouched.
type SwitchState int

const (
	SwitchIdle SwitchState = iota
	SwitchSwitching
	SwitchSwapped
	SwitchFailed
)

// String implements fmt.Stringer.
func (s SwitchState) String() string {
	switch s {
	case SwitchIdle:
		return "idle"
	case SwitchSwitching:
		return "switching"
	case SwitchSwapped:
		return "swapped"
	case SwitchFailed:
		return "failed"
	default:
		return fmt.Sprintf("SwitchState(%d)", int(s))
	}
}

// SwitchLanguage pins the speaker's input language. The pin is stored even
// when the speaker has no session yet and applies to the next socket.
//
// When the speaker's socket is open, a replacement socket with the new
// language is dialled first, bounded by SwitchTimeout. Only after it is open
// does the session repoint its active socket and keepalive; the old socket is
// then finished gracefully so its trailing finals are still delivered. If the
// dial fails the original socket stays active and the error is returned.
//
// Returns [ErrInvalidLanguage] for malformed codes and [ErrSwitchInProgress]
// while another switch for the speaker runs.
func (m *Manager) SwitchLanguage(ctx context.Context, speakerID, lang string) error {
	norm, ok := stt.NormalizeLanguage(lang)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}
	if m.closed.Load() {
		return ErrManagerClosed
	}

	m.mu.Lock()
	m.pins[speakerID] = norm
	s := m.sessions[speakerID]
	m.mu.Unlock()
	if s == nil {
		m.log.Debug("speech: language pinned for future session", "speaker", speakerID, "language", norm)
		return nil
	}

	s.mu.Lock()
	s.pin = norm
	if s.state != StateOpen || s.finishing {
		// The next open picks up the pin.
		s.mu.Unlock()
		return nil
	}
	if s.switchSt == SwitchSwitching {
		s.mu.Unlock()
		return ErrSwitchInProgress
	}
	cfg := m.streamConfigLocked(s)
	if cfg.Language == s.openLang {
		s.mu.Unlock()
		return nil
	}
	s.switchSt = SwitchSwitching
	s.switchErr = nil
	old := s.handle
	s.mu.Unlock()

	m.counters.switches.Add(1)
	start := m.now()
	dctx, cancel := context.WithTimeout(ctx, m.cfg.SwitchTimeout)
	nh, err := m.provider.StartStream(dctx, cfg)
	cancel()

	s.mu.Lock()
	if err == nil && (s.destroyed || s.handle != old || m.closed.Load()) {
		err = ErrSwitchAborted
	}
	if err != nil {
		s.switchSt = SwitchFailed
		s.switchErr = err
		s.mu.Unlock()
		if nh != nil {
			_ = nh.Close()
		}
		m.counters.switchFailures.Add(1)
		m.log.Warn("speech: language switch failed, keeping current socket",
			"speaker", speakerID, "language", cfg.Language, "err", err)
		return fmt.Errorf("speech: switch language to %q: %w", cfg.Language, err)
	}

	// Swap: from here on audio goes to nh and only nh is the active socket.
	if s.stopKeepAlive != nil {
		s.stopKeepAlive()
	}
	s.draining[old] = struct{}{}
	s.handle = nh
	s.openLang = cfg.Language
	s.finishing = false
	s.stopKeepAlive = m.startKeepAlive(speakerID, nh)
	s.switchSt = SwitchSwapped
	m.wg.Add(1)
	go m.readLoop(s, nh)
	follow := stt.ResolveLanguage(s.pin, m.cfg.DefaultLanguage) != cfg.Language
	s.mu.Unlock()

	m.log.Info("speech: language switched", "speaker", speakerID, "language", cfg.Language,
		"took", m.now().Sub(start))

	if err := old.Finish(); err != nil {
		_ = old.Close()
	}
	m.wg.Add(1)
	go m.drain(old)

	if follow {
		m.followUpSwitch(speakerID)
	}
	return nil
}

// drain waits for a replaced socket to close on its own, closing it hard
// after DrainTimeout.
func (m *Manager) drain(h stt.SessionHandle) {
	defer m.wg.Done()
	t := time.NewTimer(m.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-h.Done():
	case <-t.C:
		_ = h.Close()
	case <-m.ctx.Done():
		_ = h.Close()
	}
}

// followUpSwitch applies a pin that changed while a dial or switch was in
// flight.
func (m *Manager) followUpSwitch(speakerID string) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	pin := m.pins[speakerID]
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.SwitchLanguage(m.ctx, speakerID, pin); err != nil {
			m.log.Debug("speech: follow-up switch", "speaker", speakerID, "err", err)
		}
	}()
}
