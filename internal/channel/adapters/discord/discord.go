// Package discord connects the channel manager to Discord over the gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/statebot/internal/channel"
)

const (
	inboundDedupTTL = time.Minute
	textLimit       = 2000
)

// Adapter implements channel.Sender and channel.Receiver for Discord.
type Adapter struct {
	logger     *slog.Logger
	newSession func(token string) (*discordgo.Session, error)

	mu              sync.RWMutex
	sessions        map[string]*discordgo.Session // keyed by bot token
	handlerRemovers map[string]func()             // keyed by bot token
	seenMessages    map[string]time.Time          // keyed by token:messageID
}

// NewAdapter creates a Discord adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "discord")),
		newSession: func(token string) (*discordgo.Session, error) {
			return discordgo.New("Bot " + token)
		},
		sessions:        make(map[string]*discordgo.Session),
		handlerRemovers: make(map[string]func()),
		seenMessages:    make(map[string]time.Time),
	}
}

// Type returns the Discord channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Discord channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Reply:       true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: textLimit,
			RetryMax:       3,
			RetryBackoffMs: 500,
		},
	}
}

func (a *Adapter) getOrCreateSession(token, configID string) (*discordgo.Session, error) {
	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()
	if ok {
		return session, nil
	}

	session, err := a.newSession(token)
	if err != nil {
		a.logger.Error("create session failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.sessions[token]; ok {
		return existing, nil
	}
	a.sessions[token] = session
	return session, nil
}

// Connect opens the gateway session and forwards every message created by a
// human user to handler.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))

	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	session, err := a.getOrCreateSession(discordCfg.BotToken, cfg.ID)
	if err != nil {
		return nil, err
	}

	remove := session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || ctx.Err() != nil {
			return
		}
		if a.isDuplicateInbound(discordCfg.BotToken, m.ID) {
			return
		}
		msg, ok := toInboundMessage(m.Message)
		if !ok {
			return
		}
		msg.ConfigID = cfg.ID
		if err := handler(ctx, cfg, msg); err != nil {
			a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	})
	a.swapHandlerRemover(discordCfg.BotToken, remove)

	if err := session.Open(); err != nil {
		if remove := a.clearSessionState(discordCfg.BotToken); remove != nil {
			remove()
		}
		return nil, fmt.Errorf("discord open connection: %w", err)
	}

	stop := func(context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		if remove := a.clearSessionState(discordCfg.BotToken); remove != nil {
			remove()
		}
		return session.Close()
	}
	return channel.NewConnection(cfg, stop), nil
}

func toInboundMessage(m *discordgo.Message) (channel.InboundMessage, bool) {
	if m == nil || m.Author == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Content)
	attachments := collectAttachments(m)
	if text == "" && len(attachments) == 0 {
		return channel.InboundMessage{}, false
	}

	chatType := "direct"
	if m.GuildID != "" {
		chatType = "guild"
	}
	display := strings.TrimSpace(m.Author.GlobalName)
	if display == "" {
		display = m.Author.Username
	}
	receivedAt := m.Timestamp.UTC()
	if m.Timestamp.IsZero() {
		receivedAt = time.Now().UTC()
	}
	msg := channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:          m.ID,
			Text:        text,
			Attachments: attachments,
		},
		ReplyTarget: m.ChannelID,
		Sender: channel.Identity{
			SubjectID:   m.Author.ID,
			DisplayName: display,
			Attributes: map[string]string{
				channel.AttrUsername:  m.Author.Username,
				channel.AttrFirstName: strings.TrimSpace(m.Author.GlobalName),
			},
		},
		Conversation: channel.Conversation{ID: m.ChannelID, Type: chatType},
		ReceivedAt:   receivedAt,
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.Message.Reply = &channel.ReplyRef{Target: ref.ChannelID, MessageID: ref.MessageID}
	}
	return msg, true
}

func collectAttachments(msg *discordgo.Message) []channel.Attachment {
	if msg == nil || len(msg.Attachments) == 0 {
		return nil
	}
	attachments := make([]channel.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att == nil {
			continue
		}
		attachment := channel.Attachment{
			Type:        channel.AttachmentFile,
			URL:         att.URL,
			PlatformKey: att.ID,
			Name:        att.Filename,
			Size:        int64(att.Size),
			Mime:        att.ContentType,
		}
		switch {
		case att.ContentType == "image/gif":
			attachment.Type = channel.AttachmentGIF
		case strings.HasPrefix(att.ContentType, "image/"):
			attachment.Type = channel.AttachmentImage
		case strings.HasPrefix(att.ContentType, "video/"):
			attachment.Type = channel.AttachmentVideo
		case strings.HasPrefix(att.ContentType, "audio/"):
			attachment.Type = channel.AttachmentAudio
		}
		attachments = append(attachments, attachment)
	}
	return attachments
}

// Send posts an outbound message to the target channel.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	discordCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	channelID := strings.TrimSpace(msg.Target)
	if channelID == "" {
		return fmt.Errorf("discord target is required")
	}
	send, err := buildMessageSend(channelID, msg.Message)
	if err != nil {
		return err
	}
	session, err := a.getOrCreateSession(discordCfg.BotToken, cfg.ID)
	if err != nil {
		return err
	}
	_, err = session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	return err
}

// buildMessageSend renders the message body. Attachments are linked by
// reference because only remote files are known to the channel layer.
func buildMessageSend(channelID string, message channel.Message) (*discordgo.MessageSend, error) {
	lines := make([]string, 0, 1+len(message.Attachments))
	if text := strings.TrimSpace(message.Text); text != "" {
		lines = append(lines, text)
	}
	for _, att := range message.Attachments {
		ref := att.Reference()
		if ref == "" {
			return nil, fmt.Errorf("attachment reference is required")
		}
		if caption := strings.TrimSpace(att.Caption); caption != "" {
			lines = append(lines, caption)
		}
		lines = append(lines, ref)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("message is required")
	}
	send := &discordgo.MessageSend{Content: strings.Join(lines, "\n")}
	if message.Reply != nil && message.Reply.MessageID != "" {
		send.Reference = &discordgo.MessageReference{
			ChannelID: channelID,
			MessageID: message.Reply.MessageID,
		}
	}
	return send, nil
}

func (a *Adapter) isDuplicateInbound(token, messageID string) bool {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(messageID) == "" {
		return false
	}
	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}
	seenKey := token + ":" + messageID
	if _, ok := a.seenMessages[seenKey]; ok {
		return true
	}
	a.seenMessages[seenKey] = now
	return false
}

func (a *Adapter) swapHandlerRemover(token string, remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if oldRemove := a.handlerRemovers[token]; oldRemove != nil {
		oldRemove()
	}
	a.handlerRemovers[token] = remove
}

func (a *Adapter) clearSessionState(token string) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	remove := a.handlerRemovers[token]
	delete(a.handlerRemovers, token)
	delete(a.sessions, token)
	return remove
}
