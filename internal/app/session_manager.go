package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/internal/resilience"
	"github.com/MrWong99/glyphcap/pkg/audio"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("session: a voice session is already active")

	// ErrNoSession is returned by Stop when nothing is running.
	ErrNoSession = errors.New("session: no active voice session")

	// ErrNoPlatform is returned by Start without an audio platform.
	ErrNoPlatform = errors.New("session: no audio platform configured")
)

// Sink receives everything a voice session captures. [App] implements it.
type Sink interface {
	HandleFrame(audio.AudioFrame)
	HandleEvent(audio.Event)

	// SessionEnded is called once after the session stopped or gave up.
	SessionEnded()
}

// SessionInfo holds metadata about an active voice session.
type SessionInfo struct {
	// ChannelID is the voice channel being captioned.
	ChannelID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// StartedBy is the user (or "auto_join") that started the session.
	StartedBy string

	// Reconnects counts transparent rejoins after connection loss.
	Reconnects int
}

// SessionOption configures a [SessionManager].
type SessionOption func(*SessionManager)

// WithReconnectPolicy overrides the rejoin backoff. Zero values keep the
// reconnector defaults.
func WithReconnectPolicy(backoff, maxBackoff time.Duration, maxRetries int) SessionOption {
	return func(sm *SessionManager) {
		sm.backoff, sm.maxBackoff, sm.maxRetries = backoff, maxBackoff, maxRetries
	}
}

// SessionManager manages the voice connection being captioned. Only one
// session can be active at a time. A dropped connection is rejoined with
// exponential backoff; frames and participant events of every connection go
// to the Sink. All exported methods are safe for concurrent use.
type SessionManager struct {
	platform audio.Platform
	sink     Sink

	backoff    time.Duration
	maxBackoff time.Duration
	maxRetries int

	mu     sync.Mutex
	active bool
	info   SessionInfo
	rc     *resilience.Reconnector
	ctx    context.Context
	cancel context.CancelFunc
	err    error

	// pumps counts frame readers. Add only happens under mu while ctx is
	// live, so it never races Stop's Wait.
	pumps sync.WaitGroup
}

// NewSessionManager creates a SessionManager joining through platform.
func NewSessionManager(platform audio.Platform, sink Sink, opts ...SessionOption) *SessionManager {
	sm := &SessionManager{platform: platform, sink: sink}
	for _, o := range opts {
		o(sm)
	}
	return sm
}

// Start joins channelID and begins delivering audio to the sink.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, channelID, startedBy string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.platform == nil {
		return ErrNoPlatform
	}
	if sm.active {
		return fmt.Errorf("%w (channel=%s)", ErrSessionActive, sm.info.ChannelID)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	rc := resilience.NewReconnector(resilience.ReconnectorConfig{
		Platform:   sm.platform,
		ChannelID:  channelID,
		MaxRetries: sm.maxRetries,
		Backoff:    sm.backoff,
		MaxBackoff: sm.maxBackoff,
		OnReconnect: func(conn audio.Connection) {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if sm.rc != nil {
				sm.info.Reconnects++
			}
			sm.attachLocked(conn)
		},
		OnGiveUp: sm.giveUp,
	})

	conn, err := rc.Connect(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("session: connect to voice channel: %w", err)
	}

	sm.active = true
	sm.err = nil
	sm.rc = rc
	sm.ctx = sessionCtx
	sm.cancel = cancel
	sm.info = SessionInfo{
		ChannelID: channelID,
		StartedAt: time.Now().UTC(),
		StartedBy: startedBy,
	}
	sm.attachLocked(conn)
	rc.Monitor(sessionCtx)

	slog.Info("voice session started", "channel_id", channelID, "started_by", startedBy)
	return nil
}

// attachLocked routes conn to the sink. A connection arriving after the
// session ended is disconnected.
func (sm *SessionManager) attachLocked(conn audio.Connection) {
	if sm.ctx == nil || sm.ctx.Err() != nil {
		_ = conn.Disconnect()
		return
	}
	ctx := sm.ctx
	conn.OnParticipantChange(sm.sink.HandleEvent)

	sm.pumps.Add(1)
	go func() {
		defer sm.pumps.Done()
		frames := conn.Frames()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				sm.sink.HandleFrame(f)
			}
		}
	}()
}

// giveUp ends the session after the reconnector exhausted its retries.
func (sm *SessionManager) giveUp(err error) {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return
	}
	channelID := sm.info.ChannelID
	rc, cancel := sm.clearLocked()
	sm.err = err
	sm.mu.Unlock()

	slog.Error("voice session lost", "channel_id", channelID, "err", err)
	_ = rc.Stop()
	cancel()
	sm.sink.SessionEnded()
}

// Stop leaves the voice channel and finalizes every open caption. It waits
// for frame readers to exit, bounded by ctx.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	channelID := sm.info.ChannelID
	rc, cancel := sm.clearLocked()
	sm.mu.Unlock()

	if err := rc.Stop(); err != nil {
		slog.Warn("session: voice disconnect error", "channel_id", channelID, "err", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		sm.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("session: frame readers still running", "channel_id", channelID)
	}

	sm.sink.SessionEnded()
	slog.Info("voice session stopped", "channel_id", channelID)
	return nil
}

func (sm *SessionManager) clearLocked() (*resilience.Reconnector, context.CancelFunc) {
	rc, cancel := sm.rc, sm.cancel
	sm.active = false
	sm.rc = nil
	sm.cancel = nil
	sm.info = SessionInfo{}
	return rc, cancel
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Err returns why the last session ended on its own, nil if it did not.
func (sm *SessionManager) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.err
}
