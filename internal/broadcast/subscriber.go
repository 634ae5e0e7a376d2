package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// subscriber is one connected caption client. The hub enqueues encoded
// messages; writePump is the only writer on conn.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	prefs Prefs

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id string, conn *websocket.Conn, prefs Prefs, queue int) *subscriber {
	return &subscriber{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, queue),
		prefs: prefs,
		done:  make(chan struct{}),
	}
}

func (s *subscriber) getPrefs() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

func (s *subscriber) setPrefs(p Prefs) {
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
}

// enqueue reports false when the subscriber is closed or its queue is full.
func (s *subscriber) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close stops the pump and starts the websocket close handshake in the
// background.
func (s *subscriber) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		go func() { _ = s.conn.Close(code, reason) }()
	})
}

func (s *subscriber) writePump(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := s.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Debug("broadcast: write failed", "subscriber", s.id, "err", err)
				s.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
