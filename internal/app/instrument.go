package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/transcript"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

// instrumentedSTT traces socket opens, records their latency and tracks the
// number of open sockets.
type instrumentedSTT struct {
	p       stt.Provider
	metrics *observe.Metrics
	lat     *observe.Latencies
}

var _ stt.Provider = (*instrumentedSTT)(nil)

func (s *instrumentedSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	start := time.Now()
	var h stt.SessionHandle
	err := observe.Traced(ctx, "stt.open", func(ctx context.Context) error {
		var err error
		h, err = s.p.StartStream(ctx, cfg)
		return err
	}, attribute.String("language", cfg.Language), attribute.String("model", cfg.Model))
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "stt", "open", "error")
		s.metrics.RecordProviderError(ctx, "stt", "open")
		return nil, err
	}

	d := time.Since(start)
	s.metrics.STTOpenDuration.Record(ctx, d.Seconds())
	s.metrics.RecordProviderRequest(ctx, "stt", "open", "ok")
	s.lat.Record(observe.StageSTTOpen, d)

	s.metrics.OpenSTTSessions.Add(ctx, 1)
	go func() {
		<-h.Done()
		s.metrics.OpenSTTSessions.Add(context.Background(), -1)
	}()
	return h, nil
}

// timedTranslator feeds translation latency into the status window. The hub
// records the metrics itself.
type timedTranslator struct {
	tr  translate.Provider
	lat *observe.Latencies
}

var _ translate.Provider = (*timedTranslator)(nil)

func (t *timedTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	start := time.Now()
	var out string
	err := observe.Traced(ctx, "translate", func(ctx context.Context) error {
		var err error
		out, err = t.tr.Translate(ctx, text, targetLang)
		return err
	}, attribute.String("target_lang", targetLang))
	t.lat.Record(observe.StageTranslate, time.Since(start))
	return out, err
}

// timedCleaner feeds cleanup latency into the status window.
type timedCleaner struct {
	c   transcript.Cleaner
	lat *observe.Latencies
}

var _ transcript.Cleaner = (*timedCleaner)(nil)

func (t *timedCleaner) Clean(ctx context.Context, text string) (string, error) {
	start := time.Now()
	out, err := t.c.Clean(ctx, text)
	t.lat.Record(observe.StageCleanup, time.Since(start))
	return out, err
}
