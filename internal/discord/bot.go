package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/notify"
	"github.com/chris/anchor/internal/observability"
)

// messageLimit is Discord's maximum message length.
const messageLimit = 2000

// Handler runs a conversation turn.
type Handler interface {
	HandleMessage(ctx context.Context, in agent.Inbound) agent.Reply
}

type Bot struct {
	session *discordgo.Session
	agent   Handler
}

func NewBot(token string, h Handler) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}

	bot := &Bot{session: s, agent: h}
	s.AddHandler(bot.onMessage)
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("opening Discord connection: %w", err)
	}

	observability.Logger().Info("discord: bot connected", "username", s.State.User.Username)
	return bot, nil
}

// SendDM sends content to a user's DM channel, split to fit Discord's
// limit. userID is a bare Discord id.
func (b *Bot) SendDM(userID, content string) error {
	ch, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening DM channel: %w", err)
	}
	for _, chunk := range splitMessage(content, messageLimit) {
		if _, err := b.session.ChannelMessageSend(ch.ID, chunk); err != nil {
			return fmt.Errorf("sending DM: %w", err)
		}
	}
	return nil
}

// Sender returns a notify.Sender for "discord:<id>" recipients.
func (b *Bot) Sender() notify.Sender {
	return notify.NewDiscordSender(b.SendDM)
}

func (b *Bot) Close() {
	b.session.Close()
}
