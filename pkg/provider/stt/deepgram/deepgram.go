// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultSampleRate = 48000
	defaultEndpoint   = 1200 * time.Millisecond
)

var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language used when a StreamConfig does not
// carry one.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSmartFormat toggles Deepgram's smart formatting (numerals, punctuation).
func WithSmartFormat(on bool) Option {
	return func(p *Provider) {
		p.smartFormat = on
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	smartFormat bool
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    deepgramEndpoint,
		model:       defaultModel,
		language:    stt.LanguageAuto,
		sampleRate:  defaultSampleRate,
		smartFormat: true,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram and
// returns once the socket is open. ctx bounds the handshake only.
//
// Handshake rejections that point at the requested configuration (HTTP 400 or
// 403) are reported as stt.ErrUnsupportedConfig.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial (status %d): %w: %w", resp.StatusCode, stt.ErrUnsupportedConfig, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	// Deepgram results are small, but metadata frames can exceed the 32 KiB default.
	conn.SetReadLimit(1 << 20)

	return newSession(conn), nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	endpointing := cfg.Endpointing
	if endpointing == 0 {
		endpointing = defaultEndpoint
	}
	nova3 := strings.HasPrefix(model, "nova-3")

	q := u.Query()
	q.Set("model", model)
	switch {
	case lang != "" && lang != stt.LanguageAuto:
		q.Set("language", lang)
	case nova3:
		q.Set("language", "multi")
	default:
		q.Set("detect_language", "true")
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", strconv.FormatBool(p.smartFormat))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("endpointing", strconv.FormatInt(endpointing.Milliseconds(), 10))

	for _, kw := range cfg.Keywords {
		if nova3 {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
		DetectedLanguage string `json:"detected_language"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn        *websocket.Conn
	transcripts chan stt.Transcript
	audio       chan []byte
	ctrl        chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	finishing atomic.Bool
	closing   atomic.Bool
	results   atomic.Int64

	errMu sync.Mutex
	err   error
}

func newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:        conn,
		transcripts: make(chan stt.Transcript, 64),
		audio:       make(chan []byte, 256),
		ctrl:        make(chan []byte, 8),
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	go s.run()
	return s
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.stop:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.stop:
		return stt.ErrSessionClosed
	}
}

// Transcripts returns the channel of interim and final transcripts.
func (s *session) Transcripts() <-chan stt.Transcript { return s.transcripts }

// KeepAlive queues a KeepAlive control message.
func (s *session) KeepAlive() error {
	return s.control(msgKeepAlive)
}

// Finish sends CloseStream. Deepgram flushes finals for buffered audio and
// then closes the socket from its side.
func (s *session) Finish() error {
	if s.finishing.Swap(true) {
		return nil
	}
	return s.control(msgCloseStream)
}

func (s *session) control(msg []byte) error {
	select {
	case s.ctrl <- msg:
		return nil
	case <-s.stop:
		return stt.ErrSessionClosed
	}
}

// Close terminates the session immediately and waits for the loops to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.halt()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.cancel()
	})
	<-s.done
	return nil
}

// Done is closed once both loops have exited.
func (s *session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended; nil for a graceful end.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// run drives the read loop and tears the session down when it returns.
func (s *session) run() {
	s.readLoop()
	s.halt()
	s.cancel()
	s.wg.Wait()
	close(s.transcripts)
	close(s.done)
}

// writeLoop serialises audio and control frames onto the socket.
func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				s.writeFailed(err)
				return
			}
		case msg := <-s.ctrl:
			// Audio queued before CloseStream must reach Deepgram first.
			if err := s.drainAudio(); err != nil {
				s.writeFailed(err)
				return
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, msg); err != nil {
				s.writeFailed(err)
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *session) drainAudio() error {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *session) writeFailed(err error) {
	if s.closing.Load() {
		return
	}
	s.setErr(fmt.Errorf("deepgram: write: %w", err))
	s.halt()
	s.cancel()
}

// readLoop receives JSON messages from Deepgram and forwards transcripts.
func (s *session) readLoop() {
	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			s.readFailed(err)
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		s.results.Add(1)

		select {
		case s.transcripts <- t:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) readFailed(err error) {
	if s.closing.Load() {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure && s.finishing.Load() {
		return
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) && s.results.Load() == 0 && looksLikeCapability(ce.Reason) {
		s.setErr(fmt.Errorf("deepgram: closed %d %q: %w", ce.Code, ce.Reason, stt.ErrUnsupportedConfig))
		return
	}
	if status == websocket.StatusNormalClosure {
		return
	}
	s.setErr(fmt.Errorf("deepgram: read: %w", err))
}

// looksLikeCapability reports whether a close reason points at the requested
// model or account tier rather than at the transport.
func looksLikeCapability(reason string) bool {
	r := strings.ToLower(reason)
	for _, hint := range []string{"model", "tier", "not allowed", "unsupported"} {
		if strings.Contains(r, hint) {
			return true
		}
	}
	return false
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	lang := resp.Channel.DetectedLanguage
	if lang == "" && len(alt.Languages) > 0 {
		lang = alt.Languages[0]
	}

	return stt.Transcript{
		Text:        alt.Transcript,
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Confidence:  alt.Confidence,
		Language:    lang,
		Start:       time.Duration(resp.Start * float64(time.Second)),
		Duration:    time.Duration(resp.Duration * float64(time.Second)),
	}, true
}
