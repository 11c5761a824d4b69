package telegram

import (
	"fmt"

	"github.com/memohai/statebot/internal/channel"
)

// Type is the channel type of the Telegram adapter.
const Type channel.ChannelType = "telegram"

// Config is the decoded credential block of a Telegram channel.
type Config struct {
	BotToken string
}

func parseConfig(raw map[string]any) (Config, error) {
	token := channel.ReadString(raw, "botToken")
	if token == "" {
		token = channel.ReadString(raw, "bot_token")
	}
	if token == "" {
		return Config{}, fmt.Errorf("telegram botToken is required")
	}
	return Config{BotToken: token}, nil
}
