package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestStripMention(t *testing.T) {
	tests := []struct {
		in, id, want string
	}{
		{"<@123456> plan my day", "123456", " plan my day"},
		{"<@!123456> plan my day", "123456", " plan my day"},
		{"<@123> and <@!123>", "123", " and "},
		{"no mention here", "123", "no mention here"},
		{"<@999> other bot", "123", "<@999> other bot"},
		{"", "123", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripMention(tt.in, tt.id), "input %q", tt.in)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   []string
	}{
		{"short", "see you at 9", 2000, []string{"see you at 9"}},
		{"exact limit", strings.Repeat("a", 2000), 2000, []string{strings.Repeat("a", 2000)}},
		{"empty", "", 2000, []string{""}},
		{
			"breaks after newline",
			strings.Repeat("a", 15) + "\n" + strings.Repeat("b", 15),
			20,
			[]string{strings.Repeat("a", 15) + "\n", strings.Repeat("b", 15)},
		},
		{
			"hard split without newline",
			strings.Repeat("x", 50),
			20,
			[]string{strings.Repeat("x", 20), strings.Repeat("x", 20), strings.Repeat("x", 10)},
		},
		{"last newline wins", "line1\nline2\nline3\nline4", 12, []string{"line1\nline2\n", "line3\nline4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitMessage(tt.in, tt.maxLen))
		})
	}
}

func message(authorID, guildID, content string, mentions ...string) *discordgo.MessageCreate {
	m := &discordgo.Message{
		Author:    &discordgo.User{ID: authorID},
		GuildID:   guildID,
		Content:   content,
		Timestamp: time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC),
	}
	for _, id := range mentions {
		m.Mentions = append(m.Mentions, &discordgo.User{ID: id})
	}
	return &discordgo.MessageCreate{Message: m}
}

func TestInboundFor(t *testing.T) {
	const bot = "bot1"

	in, ok := inboundFor(message("42", "", "  Write the report  "), bot)
	assert.True(t, ok)
	assert.Equal(t, "discord:42", in.UserID)
	assert.Equal(t, "Write the report", in.Body)
	assert.Equal(t, time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC), in.ReceivedAt)

	in, ok = inboundFor(message("42", "guild", "<@bot1> replan please", bot), bot)
	assert.True(t, ok)
	assert.Equal(t, "replan please", in.Body)

	_, ok = inboundFor(message("42", "guild", "chatting with friends"), bot)
	assert.False(t, ok, "guild message without mention")

	_, ok = inboundFor(message(bot, "", "my own echo"), bot)
	assert.False(t, ok, "own message")

	_, ok = inboundFor(message("42", "guild", "<@bot1>", bot), bot)
	assert.False(t, ok, "mention only")
}
