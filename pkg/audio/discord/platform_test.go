package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

// opusSilence is the canonical 20 ms Opus silence frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		ChannelID: "chan-1",
		OpusRecv:  make(chan *discordgo.Packet, 16),
	}
	c := buildConnection(vc, "guild-test", audio.Format{SampleRate: 48000, Channels: 1})
	c.disconnectVC = func() error { return nil }
	c.resolve = func(id string) (string, string) { return "name-" + id, "" }
	c.start()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

type eventLog struct {
	mu     sync.Mutex
	events []audio.Event
}

func (l *eventLog) add(e audio.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) waitFor(t *testing.T, typ audio.EventType) audio.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		for _, e := range l.events {
			if e.Type == typ {
				l.mu.Unlock()
				return e
			}
		}
		l.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %v event within deadline", typ)
	return audio.Event{}
}

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p.session != s || p.guildID != "guild-123" {
		t.Fatalf("platform fields not stored: %+v", p)
	}
	if p.format != (audio.Format{SampleRate: 48000, Channels: 1}) {
		t.Errorf("default format = %+v", p.format)
	}

	p = New(s, "g", WithFormat(audio.Format{SampleRate: 16000, Channels: 1}))
	if p.format.SampleRate != 16000 {
		t.Errorf("WithFormat ignored: %+v", p.format)
	}
}

func TestConnection_DropsUnattributedAudio(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: opusSilence}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, n := c.Dropped(); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("packet from unknown ssrc was not discarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case f := <-c.Frames():
		t.Fatalf("unexpected frame %+v", f)
	default:
	}
}

func TestConnection_FramesTaggedBySpeaker(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var log eventLog
	c.OnParticipantChange(log.add)

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u-1", SSRC: 7, Speaking: true})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 7, Opus: opusSilence}

	select {
	case f := <-c.Frames():
		if f.SpeakerID != "u-1" {
			t.Errorf("SpeakerID = %q, want u-1", f.SpeakerID)
		}
		if f.SampleRate != 48000 || f.Channels != 1 {
			t.Errorf("format = %d Hz / %d ch, want 48000 / 1", f.SampleRate, f.Channels)
		}
		if len(f.Data) != 1920 {
			t.Errorf("len(Data) = %d, want 1920", len(f.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	start := log.waitFor(t, audio.EventSpeakingStart)
	if start.UserID != "u-1" || start.Username != "name-u-1" {
		t.Errorf("start event = %+v", start)
	}
	// No further packets: the silence watcher reports the stop.
	stop := log.waitFor(t, audio.EventSpeakingStop)
	if stop.UserID != "u-1" {
		t.Errorf("stop event = %+v", stop)
	}
}

func TestConnection_SSRCReassigned(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "a", SSRC: 9})
	if got := c.SSRCUser(9); got != "a" {
		t.Fatalf("SSRCUser(9) = %q, want a", got)
	}
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "b", SSRC: 9})
	if got := c.SSRCUser(9); got != "b" {
		t.Fatalf("SSRCUser(9) = %q, want b", got)
	}
	if got := c.SSRCUser(10); got != "10" {
		t.Errorf("SSRCUser(10) = %q, want 10", got)
	}
}

func TestConnection_VoiceStateJoinLeave(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var log eventLog
	c.OnParticipantChange(log.add)

	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "chan-1", UserID: "u-2"},
	})
	join := log.waitFor(t, audio.EventJoin)
	if join.UserID != "u-2" || join.Username != "name-u-2" {
		t.Errorf("join = %+v", join)
	}

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u-2", SSRC: 3})
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "", UserID: "u-2"},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "chan-1", UserID: "u-2"},
	})
	log.waitFor(t, audio.EventLeave)
	if got := c.SSRCUser(3); got != "3" {
		t.Errorf("ssrc mapping survived leave: %q", got)
	}

	// Other guilds are ignored.
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "other", ChannelID: "chan-1", UserID: "u-9"},
	})
}

func TestConnection_ClosedRecvEndsConnection(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	close(c.vc.OpusRecv)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after receive channel closed")
	}
	select {
	case _, ok := <-c.Frames():
		if ok {
			t.Fatal("Frames still open")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frames not closed")
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Disconnect()
		}()
	}
	wg.Wait()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		m    *discordgo.Member
		want string
	}{
		{"nick", &discordgo.Member{Nick: "Nick", User: &discordgo.User{ID: "1", Username: "user", GlobalName: "Global"}}, "Nick"},
		{"global", &discordgo.Member{User: &discordgo.User{ID: "1", Username: "user", GlobalName: "Global"}}, "Global"},
		{"username", &discordgo.Member{User: &discordgo.User{ID: "1", Username: "user"}}, "user"},
		{"id", &discordgo.Member{User: &discordgo.User{ID: "1"}}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := displayName(tt.m); got != tt.want {
				t.Errorf("displayName = %q, want %q", got, tt.want)
			}
		})
	}
}
