package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives a reloaded config together with what changed.
type ChangeFunc func(old, next *Config, diff ConfigDiff)

// Watcher reloads a config file when it changes on disk. Edits that fail to
// parse or validate are logged and skipped; the last valid config stays
// current. Reloads whose [Diff] is empty (comments, reordering) replace the
// current config without calling the ChangeFunc.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	sum     [sha256.Size]byte
	reloads int
	lastErr error
}

type fileStamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher for it. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp, w.sum = cfg, stamp, sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many changed configs were accepted.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// LastError returns the error of the most recent rejected edit, or nil once
// a later edit was accepted.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check polls the file once and reports whether a new config was accepted.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.reject("stat", err)
		return false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.stamp.mtime) && info.Size() == w.stamp.size
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, stamp, sum, err := w.read()
	if err != nil {
		w.reject("load", err)
		return false
	}

	w.mu.Lock()
	w.stamp = stamp
	if sum == w.sum {
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.reloads++
	w.lastErr = nil
	w.mu.Unlock()

	diff := Diff(old, cfg)
	if !diff.Changed() {
		slog.Debug("config reloaded without effective changes", "path", w.path)
		return true
	}
	slog.Info("config reloaded", "path", w.path, "restart_required", diff.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true
}

func (w *Watcher) reject(op string, err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	slog.Warn("config watcher: edit rejected", "path", w.path, "op", op, "err", err)
}

// read loads and validates the file in one read so the checksum matches the
// parsed content.
func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, [sha256.Size]byte{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size()}, sha256.Sum256(data), nil
}
