package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrReconnectExhausted is passed to OnGiveUp after the last failed attempt.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Platform establishes voice connections.
	Platform audio.Platform

	// ChannelID is the voice channel to (re)join.
	ChannelID string

	// MaxRetries bounds the attempts per outage. Default: 10.
	MaxRetries int

	// Backoff is the first retry delay; it doubles up to MaxBackoff.
	// Defaults: 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnReconnect receives every replacement connection. May be nil.
	OnReconnect func(audio.Connection)

	// OnGiveUp is called once retries are exhausted. May be nil.
	OnGiveUp func(error)
}

// Reconnector keeps a voice connection alive. After [Reconnector.Connect],
// [Reconnector.Monitor] watches the connection's Done channel (or an explicit
// [Reconnector.NotifyDisconnect]) and rejoins with exponential backoff.
type Reconnector struct {
	platform    audio.Platform
	channelID   string
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(audio.Connection)
	onGiveUp    func(error)

	mu       sync.Mutex
	conn     audio.Connection
	changed  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	kick     chan struct{}
}

// NewReconnector returns a Reconnector; it does not connect.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		platform:    cfg.Platform,
		channelID:   cfg.ChannelID,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		onReconnect: cfg.OnReconnect,
		onGiveUp:    cfg.OnGiveUp,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
}

// Connect joins the channel once.
func (r *Reconnector) Connect(ctx context.Context) (audio.Connection, error) {
	conn, err := r.platform.Connect(ctx, r.channelID)
	if err != nil {
		return nil, fmt.Errorf("reconnector: initial connect: %w", err)
	}
	r.swap(conn)
	return conn, nil
}

// Monitor starts the watch loop. It returns immediately.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect forces a reconnect cycle even if the current connection
// has not reported Done. Extra calls during a cycle are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and disconnects. Safe to call more than once.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// Connection returns the current connection, nil while none is established.
func (r *Reconnector) Connection() audio.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Reconnector) swap(conn audio.Connection) (old audio.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old = r.conn
	r.conn = conn
	close(r.changed)
	r.changed = make(chan struct{})
	return old
}

func (r *Reconnector) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		conn, changed := r.conn, r.changed
		r.mu.Unlock()

		var connDone <-chan struct{}
		if conn != nil {
			connDone = conn.Done()
		}

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-changed:
			continue
		case <-connDone:
			if r.stopped() {
				return
			}
			slog.Warn("voice connection lost", "channel_id", r.channelID)
		case <-r.kick:
		}
		r.reconnect(ctx)
	}
}

func (r *Reconnector) reconnect(ctx context.Context) {
	wait := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil || r.stopped() {
			return
		}

		slog.Info("attempting reconnection", "channel_id", r.channelID, "attempt", attempt, "max_retries", r.maxRetries)

		conn, err := r.platform.Connect(ctx, r.channelID)
		if err == nil && conn != nil {
			if old := r.swap(conn); old != nil {
				_ = old.Disconnect()
			}
			select {
			case <-r.kick:
			default:
			}
			slog.Info("reconnection successful", "channel_id", r.channelID, "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}
		if err == nil {
			err = errors.New("platform returned no connection")
		}
		lastErr = err
		slog.Warn("reconnection attempt failed", "channel_id", r.channelID, "attempt", attempt, "err", err)

		if attempt == r.maxRetries {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-r.done:
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(wait*2, r.maxBackoff)
	}

	slog.Error("reconnection failed after max retries", "channel_id", r.channelID, "max_retries", r.maxRetries, "err", lastErr)
	if old := r.swap(nil); old != nil {
		_ = old.Disconnect()
	}
	if r.onGiveUp != nil {
		r.onGiveUp(fmt.Errorf("%w: %w", ErrReconnectExhausted, lastErr))
	}
}
