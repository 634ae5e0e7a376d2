// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// Typical usage:
//
//	conn := mock.NewConnection()
//	platform := &mock.Platform{ConnectResult: conn}
//	c, _ := platform.Connect(ctx, "channel-42")
//	conn.Push(audio.AudioFrame{SpeakerID: "u1", Data: pcm})
//	conn.EmitEvent(audio.Event{Type: audio.EventJoin, UserID: "u1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

// Connection is a mock implementation of [audio.Connection]. Create it with
// [NewConnection].
type Connection struct {
	mu sync.Mutex

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	frames   chan audio.AudioFrame
	done     chan struct{}
	once     sync.Once
	callback func(audio.Event)
}

var _ audio.Connection = (*Connection)(nil)

// NewConnection returns an open Connection with a buffered frame channel.
func NewConnection() *Connection {
	return &Connection{
		frames: make(chan audio.AudioFrame, 256),
		done:   make(chan struct{}),
	}
}

// Frames implements [audio.Connection].
func (c *Connection) Frames() <-chan audio.AudioFrame { return c.frames }

// Done implements [audio.Connection].
func (c *Connection) Done() <-chan struct{} { return c.done }

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Disconnect implements [audio.Connection]. It records the call and ends the
// connection on the first invocation.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	err := c.DisconnectError
	c.mu.Unlock()
	c.Drop()
	return err
}

// Drop ends the connection as if the transport failed.
func (c *Connection) Drop() {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.done)
		close(c.frames)
		c.mu.Unlock()
	})
}

// Push delivers a frame. It is a no-op once the connection ended.
func (c *Connection) Push(f audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.frames <- f
}

// EmitEvent invokes the registered participant callback synchronously.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
//
// Results, when non-empty, is consumed one entry per Connect call; after it
// is exhausted ConnectResult and ConnectError are returned.
type Platform struct {
	mu sync.Mutex

	ConnectResult audio.Connection
	ConnectError  error
	Results       []ConnectOutcome

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// ConnectOutcome is one scripted Connect result.
type ConnectOutcome struct {
	Conn audio.Connection
	Err  error
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r.Conn, r.Err
	}
	return p.ConnectResult, p.ConnectError
}

// Calls returns the number of Connect invocations.
func (p *Platform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}
