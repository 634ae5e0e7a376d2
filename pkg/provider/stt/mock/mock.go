// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig and to script dial failures or slow opens. Use Session to feed
// controlled Transcript values and inspect which audio chunks were delivered.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess := p.Sessions()[0]
//	sess.Emit(stt.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Errs is consumed one entry per StartStream call; a nil entry (or an
	// exhausted slice) means success.
	Errs []error

	// Gate, if non-nil, makes StartStream block until a value is received or
	// ctx is done. Used to simulate slow socket opens.
	Gate chan struct{}

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns a new Session or the next scripted error.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	var err error
	if len(p.Errs) > 0 {
		err = p.Errs[0]
		p.Errs = p.Errs[1:]
	}
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := NewSession()
	s.Cfg = cfg
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Sessions returns the sessions opened so far, oldest first.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session is a mock implementation of stt.SessionHandle.
//
// Finish closes the session gracefully (Transcripts closed, Err nil) unless
// HoldOnFinish is set; Fail ends it with an error.
type Session struct {
	mu sync.Mutex

	// Cfg is the StreamConfig the session was opened with.
	Cfg stt.StreamConfig

	// HoldOnFinish keeps the session open after Finish so tests can emit
	// trailing transcripts before calling End.
	HoldOnFinish bool

	// SendAudioCalls records every chunk passed to SendAudio (copied).
	SendAudioCalls [][]byte

	// KeepAliveCount, FinishCount and CloseCount count control calls.
	KeepAliveCount int
	FinishCount    int
	CloseCount     int

	transcripts chan stt.Transcript
	done        chan struct{}
	endOnce     sync.Once
	err         error
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns an open Session with a buffered transcript channel.
func NewSession() *Session {
	return &Session{
		transcripts: make(chan stt.Transcript, 64),
		done:        make(chan struct{}),
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return nil
}

// Transcripts returns the transcript channel.
func (s *Session) Transcripts() <-chan stt.Transcript { return s.transcripts }

// KeepAlive counts the call.
func (s *Session) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.KeepAliveCount++
	return nil
}

// Finish counts the call and ends the session unless HoldOnFinish is set.
func (s *Session) Finish() error {
	s.mu.Lock()
	s.FinishCount++
	hold := s.HoldOnFinish
	s.mu.Unlock()
	if !hold {
		s.End(nil)
	}
	return nil
}

// Close counts the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Done is closed when the session ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers t on the transcript channel. It is a no-op after End.
func (s *Session) Emit(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.transcripts <- t
}

// End terminates the session with err (nil for a graceful end).
func (s *Session) End(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		close(s.transcripts)
		close(s.done)
		s.mu.Unlock()
	})
}

// Fail ends the session with a transport error.
func (s *Session) Fail(err error) { s.End(err) }

// Sent returns the concatenation of all audio chunks received so far.
func (s *Session) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.SendAudioCalls {
		out = append(out, c...)
	}
	return out
}

// Counts returns KeepAliveCount, FinishCount and CloseCount under the lock.
func (s *Session) Counts() (keepAlive, finish, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.KeepAliveCount, s.FinishCount, s.CloseCount
}
