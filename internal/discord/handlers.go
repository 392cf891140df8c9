package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/notify"
	"github.com/chris/anchor/internal/observability"
)

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	in, ok := inboundFor(m, s.State.User.ID)
	if !ok {
		return
	}

	// Show typing indicator
	s.ChannelTyping(m.ChannelID)

	reply := b.agent.HandleMessage(context.Background(), in)

	for _, chunk := range splitMessage(reply.Text, messageLimit) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			observability.Logger().Error("discord: sending reply", "user", in.UserID, "error", err)
			return
		}
	}
}

// inboundFor converts a Discord message into a conversation turn. Only DMs
// and messages that mention the bot are handled.
func inboundFor(m *discordgo.MessageCreate, botID string) (agent.Inbound, bool) {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return agent.Inbound{}, false
	}

	isDM := m.GuildID == ""
	isMentioned := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			isMentioned = true
			break
		}
	}
	if !isDM && !isMentioned {
		return agent.Inbound{}, false
	}

	content := strings.TrimSpace(stripMention(m.Content, botID))
	if content == "" {
		return agent.Inbound{}, false
	}

	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return agent.Inbound{UserID: notify.DiscordPrefix + m.Author.ID, Body: content, ReceivedAt: at}, true
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

// splitMessage breaks s into chunks of at most maxLen bytes, preferring
// to break after a newline.
func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			chunks = append(chunks, s)
			break
		}
		end := maxLen
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
