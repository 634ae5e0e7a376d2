// Package app wires the caption pipeline into a running application.
//
// The App owns the full lifecycle: New builds every subsystem from the
// config, Run drives the background loops until the context ends, and
// Shutdown tears everything down in order.
//
// Audio reaches the App through a [SessionManager] voice session. Each
// speaker gets a transcript assembler and a caption lane; their events go to
// the broadcast hub, and finalized captions are archived and published.
//
// For testing, inject doubles via functional options (WithArchive,
// WithPublisher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphcap/internal/archive"
	"github.com/MrWong99/glyphcap/internal/broadcast"
	"github.com/MrWong99/glyphcap/internal/caption"
	"github.com/MrWong99/glyphcap/internal/chunker"
	"github.com/MrWong99/glyphcap/internal/config"
	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/publish"
	"github.com/MrWong99/glyphcap/internal/roster"
	"github.com/MrWong99/glyphcap/internal/speech"
	"github.com/MrWong99/glyphcap/internal/transcript"
	"github.com/MrWong99/glyphcap/internal/transcript/phonetic"
	"github.com/MrWong99/glyphcap/pkg/audio"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
	"github.com/MrWong99/glyphcap/pkg/provider/translate"
)

const (
	// captureRate is the PCM format every recogniser receives.
	captureRate     = 48000
	captureChannels = 1

	defaultTickInterval = 250 * time.Millisecond
	evictInterval       = 10 * time.Second
	recentCaptions      = 5
	latencyWindow       = 200
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// STT streams audio in stream mode.
	STT stt.Provider

	// Clip transcribes chunker clips in clip mode.
	Clip stt.ClipTranscriber

	Translate translate.Provider

	// Cleanup post-processes final text. Nil disables the LLM pass.
	Cleanup transcript.Cleaner

	Audio audio.Platform
}

// App owns all subsystem lifetimes and orchestrates the caption pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	now       func() time.Time

	metrics   *observe.Metrics
	latencies *observe.Latencies

	roster    *roster.Registry
	hub       *broadcast.Hub
	pipeline  *transcript.Pipeline
	speech    *speech.Manager
	chunker   *chunker.Chunker
	archive   archive.Store
	publisher *publish.Publisher
	sessions  *SessionManager

	laneCfg  caption.Config
	measurer caption.Measurer

	// ctx bounds pipeline work started from provider callbacks.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	speakers map[string]*speaker
	convert  map[string]*audio.Converter
	defaults broadcast.Prefs

	// clips tracks in-flight clip transcriptions.
	clips sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a caption archive instead of opening one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithPublisher injects a publisher instead of creating one from config.
func WithPublisher(p *publish.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics records into m instead of the process-wide instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the time source used for lane ticks.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
		latencies: observe.NewLatencies(latencyWindow),
		speakers:  make(map[string]*speaker),
		convert:   make(map[string]*audio.Converter),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	// ── 1. Roster ───────────────────────────────────────────────────────
	a.initRoster()

	// ── 2. Transcript pipeline ──────────────────────────────────────────
	a.initPipeline()

	// ── 3. Broadcast hub ────────────────────────────────────────────────
	a.initHub()

	// ── 4. Recognition ──────────────────────────────────────────────────
	if err := a.initRecognition(); err != nil {
		a.cancel()
		return nil, fmt.Errorf("app: init recognition: %w", err)
	}

	// ── 5. Archive ──────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.cancel()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 6. Publisher ────────────────────────────────────────────────────
	if a.publisher == nil {
		a.publisher = publish.New(publish.Config{
			Brokers:  cfg.Publish.Brokers,
			Topic:    cfg.Publish.Topic,
			ClientID: cfg.Observe.ServiceName,
		}, publish.WithMetrics(a.metrics))
	}
	a.closers = append(a.closers, a.publisher.Close)

	// ── 7. Voice sessions ───────────────────────────────────────────────
	a.sessions = NewSessionManager(providers.Audio, a)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initRoster() {
	a.roster = roster.New(roster.WithTTL(a.cfg.Roster.TTL))
	seeds := make([]roster.Speaker, 0, len(a.cfg.Roster.Speakers))
	for _, s := range a.cfg.Roster.Speakers {
		seeds = append(seeds, roster.Speaker{
			UserID:          s.UserID,
			Username:        s.Username,
			Color:           s.Color,
			PinnedInputLang: s.PinnedLang,
		})
	}
	a.roster.Seed(seeds...)
}

func (a *App) initPipeline() {
	opts := []transcript.PipelineOption{transcript.WithPipelineMetrics(a.metrics)}
	if len(a.cfg.Cleanup.Vocabulary) > 0 {
		opts = append(opts, transcript.WithVocabulary(phonetic.New(a.cfg.Cleanup.Vocabulary)))
	}
	if a.providers.Cleanup != nil && a.cfg.Cleanup.Enabled {
		opts = append(opts, transcript.WithCleaner(&timedCleaner{c: a.providers.Cleanup, lat: a.latencies}))
	}
	a.pipeline = transcript.NewPipeline(opts...)

	c := a.cfg.Captions
	a.laneCfg = caption.Config{
		MaxRowsPerPage:      c.MaxRowsPerPage,
		MaxHistoryPages:     c.MaxHistoryPages,
		ConservativeWidthPx: c.WidthPx,
		CharWidthPx:         c.CharWidthPx,
		IdleClear:           c.IdleClear,
	}
	a.measurer = a.laneCfg.ConservativeMeasurer()
}

func (a *App) initHub() {
	b := a.cfg.Broadcast
	a.defaults = broadcast.Prefs{Translate: b.Translate, TargetLang: b.TargetLang, LangHint: b.LangHint}

	var tr translate.Provider
	if a.providers.Translate != nil {
		tr = &timedTranslator{tr: a.providers.Translate, lat: a.latencies}
	}
	opts := []broadcast.Option{
		broadcast.WithRoster(a.roster),
		broadcast.WithLanguagePinner(broadcast.PinnerFunc(func(ctx context.Context, userID, lang string) error {
			_, err := a.SwitchLanguage(ctx, userID, lang)
			return err
		})),
		broadcast.WithRosterDebounce(b.RosterDebounce),
		broadcast.WithQueueSize(b.QueueSize),
		broadcast.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		broadcast.WithMetrics(a.metrics),
	}
	if b.TranslateTimeout > 0 {
		opts = append(opts, broadcast.WithTranslateTimeout(b.TranslateTimeout))
	}
	if b.InterimTranslate {
		opts = append(opts, broadcast.WithInterimTranslation(b.InterimDebounce))
	}
	a.hub = broadcast.NewHub(a.defaults, tr, opts...)
	a.roster.SetOnPatch(a.hub.PatchSpeaker)
	a.closers = append(a.closers, a.hub.Close)
}

func (a *App) initRecognition() error {
	s := a.cfg.STT
	switch s.Mode {
	case config.STTModeClip:
		if a.providers.Clip == nil {
			return errors.New("clip mode requires a clip transcriber")
		}
		c := a.cfg.Chunker
		a.chunker = chunker.New(chunker.Config{
			SampleRate:     captureRate,
			BytesPerSample: 2 * captureChannels,
			MinDuration:    c.MinDuration,
			MaxDuration:    c.MaxDuration,
			PreRoll:        c.PreRoll,
		})
		return nil
	default:
		if a.providers.STT == nil {
			return errors.New("stream mode requires an stt provider")
		}
		keywords := make([]stt.KeywordBoost, 0, len(s.Keywords))
		for _, k := range s.Keywords {
			keywords = append(keywords, stt.KeywordBoost{Keyword: k.Word, Boost: k.Boost})
		}
		p := &instrumentedSTT{p: a.providers.STT, metrics: a.metrics, lat: a.latencies}
		a.speech = speech.NewManager(p, speech.Config{
			SampleRate:        captureRate,
			Channels:          captureChannels,
			MinConnectBytes:   s.MinConnectBytes,
			ReopenDebounce:    s.ReopenDebounce,
			Endpointing:       s.Endpointing,
			IdleGrace:         s.IdleGrace,
			KeepAliveInterval: s.KeepAlive,
			SwitchTimeout:     s.SwitchTimeout,
			DefaultLanguage:   s.DefaultLanguage,
			Model:             a.cfg.Providers.STT.Model,
			FallbackModel:     s.FallbackModel,
			Keywords:          keywords,
		})
		a.closers = append(a.closers, a.speech.Close)
		return nil
	}
}

func (a *App) initArchive(ctx context.Context) error {
	if a.archive == nil {
		if a.cfg.Archive.Driver == "" {
			return nil
		}
		store, err := archive.Open(ctx, string(a.cfg.Archive.Driver), a.cfg.Archive.DSN)
		if err != nil {
			return err
		}
		a.archive = store
		slog.Info("caption archive ready", "driver", a.cfg.Archive.Driver)
	}
	a.closers = append(a.closers, a.archive.Close)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Hub returns the subscriber hub, to be mounted on the HTTP server.
func (a *App) Hub() *broadcast.Hub { return a.hub }

// Roster returns the speaker registry.
func (a *App) Roster() *roster.Registry { return a.roster }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Archive returns the caption archive, nil when disabled.
func (a *App) Archive() archive.Store { return a.archive }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the session sweeper, lane ticks and roster eviction, and blocks
// until ctx is cancelled. With discord.auto_join set it joins the configured
// voice channel first.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Discord.AutoJoin && a.cfg.Discord.VoiceChannelID != "" {
		if err := a.sessions.Start(ctx, a.cfg.Discord.VoiceChannelID, "auto_join"); err != nil {
			return fmt.Errorf("app: auto join: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.speech != nil {
		g.Go(func() error { return a.speech.Run(gctx) })
	}
	g.Go(func() error {
		a.tickLoop(gctx)
		return nil
	})
	g.Go(func() error {
		a.evictLoop(gctx)
		return nil
	})

	slog.Info("app running", "mode", a.cfg.STT.Mode, "archive", a.archive != nil, "publish", a.publisher.Enabled())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) tickLoop(ctx context.Context) {
	interval := a.cfg.Captions.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.tick(a.now())
		}
	}
}

// tick advances every lane and forwards the finalizes they promote.
func (a *App) tick(now time.Time) {
	for _, sp := range a.speakerList() {
		sp.tick(a, now)
	}
}

func (a *App) evictLoop(ctx context.Context) {
	t := time.NewTicker(evictInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range a.roster.Evict() {
				slog.Debug("speaker evicted", "speaker", id)
				a.retire(id)
			}
		}
	}
}

// ─── Live config ─────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. Changes listed in
// diff.RestartRequired are ignored until restart.
func (a *App) ApplyConfig(next *config.Config, diff config.ConfigDiff) {
	if diff.DefaultsChanged {
		b := next.Broadcast
		p := broadcast.Prefs{Translate: b.Translate, TargetLang: b.TargetLang, LangHint: b.LangHint}
		a.mu.Lock()
		a.defaults = p
		a.mu.Unlock()
		a.hub.SetDefaults(p)
		slog.Info("subscriber defaults updated", "translate", p.Translate, "target_lang", p.TargetLang)
	}
	if diff.VocabularyChanged {
		if len(next.Cleanup.Vocabulary) == 0 {
			a.pipeline.SetVocabulary(nil)
		} else {
			a.pipeline.SetVocabulary(phonetic.New(next.Cleanup.Vocabulary))
		}
		slog.Info("vocabulary updated", "terms", len(next.Cleanup.Vocabulary))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Leave voice first so no new audio arrives; open utterances are
		// finalized by the session teardown.
		if a.sessions.IsActive() {
			if err := a.sessions.Stop(ctx); err != nil {
				slog.Warn("voice session stop error", "err", err)
			}
		}

		waited := make(chan struct{})
		go func() {
			a.clips.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for clips")
		}
		a.cancel()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
