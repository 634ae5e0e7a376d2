package discord

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/internal/observe"
)

const (
	embedColorGreen = 0x2ECC71
	embedColorGrey  = 0x95A5A6

	// maxFieldLen is Discord's limit for an embed field value.
	maxFieldLen = 1024
)

// StatusView is everything the /captions status embed renders.
type StatusView struct {
	Mode       string
	Active     bool
	ChannelID  string
	StartedAt  time.Time
	Reconnects int

	Speakers     int
	Subscribers  int
	OpenSessions int

	Latencies map[string]observe.Percentiles

	// Recent holds "speaker: text" lines, newest first.
	Recent []string
}

// StatusEmbed renders v. now is used for the uptime field.
func StatusEmbed(v StatusView, now time.Time) *discordgo.MessageEmbed {
	channel, uptime, color, footer := "not connected", "-", embedColorGrey, "Idle"
	if v.Active {
		channel = fmt.Sprintf("<#%s>", v.ChannelID)
		uptime = formatDuration(now.Sub(v.StartedAt))
		color = embedColorGreen
		footer = "Captioning"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Channel", Value: channel, Inline: true},
		{Name: "Uptime", Value: uptime, Inline: true},
		{Name: "Mode", Value: v.Mode, Inline: true},
		{Name: "Speakers", Value: fmt.Sprintf("%d", v.Speakers), Inline: true},
		{Name: "Subscribers", Value: fmt.Sprintf("%d", v.Subscribers), Inline: true},
		{Name: "STT sockets", Value: fmt.Sprintf("%d", v.OpenSessions), Inline: true},
	}
	if v.Reconnects > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Reconnects", Value: fmt.Sprintf("%d", v.Reconnects), Inline: true,
		})
	}
	if latency := formatLatencyField(v.Latencies); latency != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Latency", Value: latency})
	}
	if len(v.Recent) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Recent captions",
			Value: truncate(strings.Join(v.Recent, "\n"), maxFieldLen),
		})
	}

	return &discordgo.MessageEmbed{
		Title:     "Live captions",
		Color:     color,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// formatLatencyField renders one p50/p95 line per stage in a code block.
// Returns an empty string when no stage has samples.
func formatLatencyField(lat map[string]observe.Percentiles) string {
	stages := make([]string, 0, len(lat))
	for name, p := range lat {
		if p.Samples > 0 {
			stages = append(stages, name)
		}
	}
	if len(stages) == 0 {
		return ""
	}
	slices.Sort(stages)

	var b strings.Builder
	b.WriteString("```\n")
	for _, name := range stages {
		p := lat[name]
		fmt.Fprintf(&b, "%-10s p50=%s p95=%s\n", name, formatMs(p.P50), formatMs(p.P95))
	}
	b.WriteString("```")
	return b.String()
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
