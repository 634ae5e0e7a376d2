package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	frameChannelBuffer = 256
	frameDuration      = 20 * time.Millisecond
	// Discord stops sending packets while a user is silent.
	speakingTimeout = 250 * time.Millisecond
	watchInterval   = 50 * time.Millisecond
)

type ssrcState struct {
	userID   string
	dec      *opusDecoder
	conv     *audio.Converter
	lastSeen time.Time
	speaking bool
	start    time.Time
}

// Connection adapts a discordgo.VoiceConnection to [audio.Connection].
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string
	format  audio.Format
	framer  *audio.Framer

	// resolve maps a user id to display name and avatar. Overridden in tests.
	resolve func(userID string) (name, avatar string)
	now     func() time.Time

	mu       sync.Mutex
	ssrcUser map[uint32]string
	ssrcs    map[uint32]*ssrcState

	frames chan audio.AudioFrame

	changeMu sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	unknown   atomic.Int64

	removeHandler func()
	disconnectVC  func() error
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string, format audio.Format) *Connection {
	c := buildConnection(vc, guildID, format)
	c.session = session
	c.disconnectVC = vc.Disconnect
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)
	c.start()
	return c
}

func buildConnection(vc *discordgo.VoiceConnection, guildID string, format audio.Format) *Connection {
	c := &Connection{
		vc:       vc,
		guildID:  guildID,
		format:   format,
		framer:   audio.NewFramer(format, frameDuration),
		now:      time.Now,
		ssrcUser: make(map[uint32]string),
		ssrcs:    make(map[uint32]*ssrcState),
		frames:   make(chan audio.AudioFrame, frameChannelBuffer),
		done:     make(chan struct{}),
	}
	c.resolve = c.lookupMember
	return c
}

func (c *Connection) start() {
	go c.recvLoop()
	go c.watchSilence()
}

// Frames implements [audio.Connection].
func (c *Connection) Frames() <-chan audio.AudioFrame { return c.frames }

// Done implements [audio.Connection].
func (c *Connection) Done() <-chan struct{} { return c.done }

// Dropped returns the number of frames dropped because the consumer lagged
// and the number of packets discarded because their SSRC had no user yet.
func (c *Connection) Dropped() (full, unattributed int64) {
	return c.dropped.Load(), c.unknown.Load()
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// recvLoop owns the frames channel and is the only goroutine closing it.
func (c *Connection) recvLoop() {
	defer close(c.frames)
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				slog.Warn("discord: voice receive channel closed", "guild_id", c.guildID)
				_ = c.Disconnect()
				return
			}
			if pkt != nil {
				c.handlePacket(pkt)
			}
		}
	}
}

func (c *Connection) handlePacket(pkt *discordgo.Packet) {
	c.mu.Lock()
	st, err := c.stateLocked(pkt.SSRC)
	if err != nil {
		c.mu.Unlock()
		slog.Error("discord: opus decoder unavailable", "ssrc", pkt.SSRC, "err", err)
		return
	}
	if st == nil {
		c.mu.Unlock()
		if c.unknown.Add(1) == 1 {
			slog.Debug("discord: discarding audio from unattributed ssrc", "ssrc", pkt.SSRC)
		}
		return
	}
	now := c.now()
	st.lastSeen = now
	startSpeaking := !st.speaking
	if startSpeaking {
		st.speaking = true
		if st.start.IsZero() {
			st.start = now
		}
	}
	userID, start := st.userID, st.start
	c.mu.Unlock()

	if startSpeaking {
		c.emitEvent(audio.EventSpeakingStart, userID)
	}

	pcm, err := st.dec.decode(pkt.Opus)
	if err != nil {
		slog.Debug("discord: opus decode error", "speaker", userID, "err", err)
		return
	}
	conv := st.conv.Convert(audio.AudioFrame{
		SpeakerID:  userID,
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	})
	for _, data := range c.framer.Push(userID, conv.Data) {
		c.deliver(audio.AudioFrame{
			SpeakerID:  userID,
			Data:       data,
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
			Timestamp:  now.Sub(start),
		})
	}
}

// stateLocked returns the decode state for ssrc, or nil when the SSRC has
// not been attributed to a user yet.
func (c *Connection) stateLocked(ssrc uint32) (*ssrcState, error) {
	if st, ok := c.ssrcs[ssrc]; ok {
		return st, nil
	}
	userID, ok := c.ssrcUser[ssrc]
	if !ok {
		return nil, nil
	}
	dec, err := newOpusDecoder()
	if err != nil {
		return nil, err
	}
	st := &ssrcState{userID: userID, dec: dec, conv: &audio.Converter{Target: c.format}}
	c.ssrcs[ssrc] = st
	return st, nil
}

func (c *Connection) deliver(f audio.AudioFrame) {
	select {
	case c.frames <- f:
	case <-c.done:
	default:
		if c.dropped.Add(1)%100 == 1 {
			slog.Warn("discord: frame consumer lagging, dropping audio", "speaker", f.SpeakerID, "dropped", c.dropped.Load())
		}
	}
}

// watchSilence turns packet gaps into speaking-stop events and flushes the
// speaker's partial frame.
func (c *Connection) watchSilence() {
	t := time.NewTicker(watchInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.sweepSilence(c.now())
		}
	}
}

func (c *Connection) sweepSilence(now time.Time) {
	var stopped []string
	c.mu.Lock()
	for _, st := range c.ssrcs {
		if st.speaking && now.Sub(st.lastSeen) >= speakingTimeout {
			st.speaking = false
			stopped = append(stopped, st.userID)
		}
	}
	c.mu.Unlock()

	for _, id := range stopped {
		if tail := c.framer.Flush(id); tail != nil {
			c.deliver(audio.AudioFrame{SpeakerID: id, Data: tail, SampleRate: c.format.SampleRate, Channels: c.format.Channels})
		}
		c.emitEvent(audio.EventSpeakingStop, id)
	}
}

// handleSpeakingUpdate records which user an SSRC belongs to.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)
	c.mu.Lock()
	prev, known := c.ssrcUser[ssrc]
	c.ssrcUser[ssrc] = vs.UserID
	if known && prev != vs.UserID {
		delete(c.ssrcs, ssrc)
	}
	c.mu.Unlock()
}

func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID
	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID

	switch {
	case wasHere && !isHere:
		c.forgetUser(vsu.UserID)
		c.emitEvent(audio.EventLeave, vsu.UserID)
	case isHere && !wasHere:
		c.emitEvent(audio.EventJoin, vsu.UserID)
	}
}

func (c *Connection) forgetUser(userID string) {
	c.mu.Lock()
	for ssrc, uid := range c.ssrcUser {
		if uid == userID {
			delete(c.ssrcUser, ssrc)
			delete(c.ssrcs, ssrc)
		}
	}
	c.mu.Unlock()
	c.framer.Forget(userID)
}

func (c *Connection) emitEvent(t audio.EventType, userID string) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb == nil {
		return
	}
	name, avatar := c.resolve(userID)
	go cb(audio.Event{Type: t, UserID: userID, Username: name, AvatarURL: avatar})
}

// lookupMember resolves display name and avatar from the session state
// cache, falling back to the raw id.
func (c *Connection) lookupMember(userID string) (string, string) {
	if c.session == nil || c.session.State == nil {
		return userID, ""
	}
	m, err := c.session.State.Member(c.guildID, userID)
	if err != nil || m == nil || m.User == nil {
		return userID, ""
	}
	return displayName(m), m.User.AvatarURL("64")
}

func displayName(m *discordgo.Member) string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	case m.User.Username != "":
		return m.User.Username
	default:
		return m.User.ID
	}
}

// SSRCUser returns the user attributed to ssrc, or the SSRC in decimal when
// unknown.
func (c *Connection) SSRCUser(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uid, ok := c.ssrcUser[ssrc]; ok {
		return uid
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}
