package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	t.Parallel()

	w := &recordWriter{}
	p := New(Config{Topic: "captions"}, withWriter(w))
	if !p.Enabled() {
		t.Fatal("publisher with writer should be enabled")
	}

	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := Caption{EventID: "e1", SpeakerID: "u1", Username: "alice", Text: "Hello there.", SrcLang: "en", At: at}
	if err := p.Publish(context.Background(), c); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "u1" {
		t.Errorf("key = %q, want u1", m.Key)
	}
	if !m.Time.Equal(at) {
		t.Errorf("time = %v, want %v", m.Time, at)
	}
	var got Caption
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventID != "e1" || got.Text != "Hello there." || got.SrcLang != "en" {
		t.Errorf("payload = %+v", got)
	}

	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != "caption.final" || headers["source"] != "glyphcap" {
		t.Errorf("headers = %v", headers)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("Close did not close the writer")
	}
}

func TestPublish_WriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := New(Config{Topic: "captions"}, withWriter(&recordWriter{err: boom}))
	err := p.Publish(context.Background(), Caption{EventID: "e1", SpeakerID: "u1"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestPublish_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no brokers", cfg: Config{Topic: "captions"}},
		{name: "no topic", cfg: Config{Brokers: []string{"localhost:9092"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := New(tt.cfg)
			if p.Enabled() {
				t.Fatal("expected disabled publisher")
			}
			if err := p.Publish(context.Background(), Caption{EventID: "e1"}); err != nil {
				t.Errorf("Publish in log-only mode: %v", err)
			}
			if err := p.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}
