package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord rejects message content above this many characters.
const discordMaxContent = 2000

type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordSink struct {
	session discordSession
}

// NewDiscordSink creates a REST-only bot session; no gateway connection is opened.
func NewDiscordSink(token string) (*DiscordSink, error) {
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	// Retries and backoff belong to the dispatcher.
	session.ShouldRetryOnRateLimit = false
	return &DiscordSink{session: session}, nil
}

func newDiscordSinkWithSession(session discordSession) *DiscordSink {
	return &DiscordSink{session: session}
}

func (s *DiscordSink) Post(ctx context.Context, channelID, text string) error {
	_, err := s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: truncate(text, discordMaxContent),
		// Issue titles are user input; never let them ping anyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		status := restErr.Response.StatusCode
		if status != http.StatusTooManyRequests && status >= 400 && status < 500 {
			return Permanent(fmt.Errorf("discord rejected message (status=%d): %w", status, err))
		}
	}
	return fmt.Errorf("posting to discord: %w", err)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
