package discord

import (
	"fmt"

	"github.com/memohai/statebot/internal/channel"
)

// Type is the channel type of the Discord adapter.
const Type channel.ChannelType = "discord"

// Config is the decoded credential block of a Discord channel.
type Config struct {
	BotToken string
}

func parseConfig(raw map[string]any) (Config, error) {
	token := channel.ReadString(raw, "botToken")
	if token == "" {
		token = channel.ReadString(raw, "bot_token")
	}
	if token == "" {
		return Config{}, fmt.Errorf("discord botToken is required")
	}
	return Config{BotToken: token}, nil
}
