// Package telegram connects the channel manager to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/statebot/internal/channel"
)

const (
	textLimit    = 4096
	captionLimit = 1024
	pollTimeout  = 30
)

var commandName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Adapter implements channel.Sender and channel.Receiver for Telegram.
type Adapter struct {
	logger *slog.Logger
	newBot func(token string) (*tgbotapi.BotAPI, error)

	mu       sync.RWMutex
	bots     map[string]*tgbotapi.BotAPI
	commands map[string]struct{}
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "telegram")),
		newBot:   tgbotapi.NewBotAPI,
		bots:     make(map[string]*tgbotapi.BotAPI),
		commands: make(map[string]struct{}),
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Reply:       true,
			Commands:    true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: textLimit,
			RetryMax:       3,
			RetryBackoffMs: 500,
		},
	}
}

func (a *Adapter) getOrCreateBot(token, configID string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	bot, err := a.newBot(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, err
	}
	a.mu.Lock()
	if existing, ok := a.bots[token]; ok {
		a.mu.Unlock()
		return existing, nil
	}
	a.bots[token] = bot
	a.mu.Unlock()
	return bot, nil
}

// ObserveRoute collects command routes and publishes them as the bot's
// command menu on every connected bot.
func (a *Adapter) ObserveRoute(kind, trigger string) {
	if kind != "command" {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(trigger), "/"))
	if !commandName.MatchString(name) {
		a.logger.Debug("command not publishable", slog.String("command", trigger))
		return
	}
	a.mu.Lock()
	if _, ok := a.commands[name]; ok {
		a.mu.Unlock()
		return
	}
	a.commands[name] = struct{}{}
	bots := make([]*tgbotapi.BotAPI, 0, len(a.bots))
	for _, bot := range a.bots {
		bots = append(bots, bot)
	}
	a.mu.Unlock()
	for _, bot := range bots {
		a.publishCommands(bot)
	}
}

func (a *Adapter) commandMenu() []tgbotapi.BotCommand {
	a.mu.RLock()
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	menu := make([]tgbotapi.BotCommand, 0, len(names))
	for _, name := range names {
		menu = append(menu, tgbotapi.BotCommand{Command: name, Description: "/" + name})
	}
	return menu
}

func (a *Adapter) publishCommands(bot *tgbotapi.BotAPI) {
	menu := a.commandMenu()
	if len(menu) == 0 {
		return
	}
	if _, err := bot.Request(tgbotapi.NewSetMyCommands(menu...)); err != nil {
		a.logger.Warn("publish commands failed", slog.Any("error", err))
	}
}

// Connect starts long polling for the channel and forwards every update
// carrying a message to handler.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	tc, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	bot, err := a.getOrCreateBot(tc.BotToken, cfg.ID)
	if err != nil {
		return nil, err
	}
	if err := tgbotapi.SetLogger(&slogBotLogger{log: a.logger}); err != nil {
		a.logger.Warn("set bot logger failed", slog.Any("error", err))
	}
	a.publishCommands(bot)

	connCtx, cancel := context.WithCancel(ctx)
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(updateCfg)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				msg, ok := toInboundMessage(update.Message)
				if !ok {
					continue
				}
				msg.ConfigID = cfg.ID
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return channel.NewConnection(cfg, stop), nil
}

// toInboundMessage converts a Telegram message. Updates without a message or
// without any content report false.
func toInboundMessage(msg *tgbotapi.Message) (channel.InboundMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	caption := strings.TrimSpace(msg.Caption)
	if text == "" {
		text = caption
	}
	attachments := collectAttachments(msg, caption)
	if text == "" && len(attachments) == 0 {
		return channel.InboundMessage{}, false
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	receivedAt := time.Now().UTC()
	if msg.Date > 0 {
		receivedAt = time.Unix(int64(msg.Date), 0).UTC()
	}
	inbound := channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:          strconv.Itoa(msg.MessageID),
			Text:        text,
			Attachments: attachments,
		},
		ReplyTarget:  chatID,
		Sender:       resolveSender(msg),
		Conversation: channel.Conversation{ID: chatID, Type: msg.Chat.Type, Name: chatName(msg.Chat)},
		ReceivedAt:   receivedAt,
	}
	if msg.ReplyToMessage != nil {
		inbound.Message.Reply = &channel.ReplyRef{
			Target:    chatID,
			MessageID: strconv.Itoa(msg.ReplyToMessage.MessageID),
		}
	}
	return inbound, true
}

func resolveSender(msg *tgbotapi.Message) channel.Identity {
	attrs := map[string]string{}
	if msg.From == nil {
		// Channel posts carry no user; the chat stands in for the sender.
		attrs[channel.AttrUsername] = strings.TrimSpace(msg.Chat.UserName)
		return channel.Identity{
			SubjectID:   strconv.FormatInt(msg.Chat.ID, 10),
			DisplayName: chatName(msg.Chat),
			Attributes:  attrs,
		}
	}
	user := msg.From
	attrs[channel.AttrUsername] = strings.TrimSpace(user.UserName)
	attrs[channel.AttrFirstName] = strings.TrimSpace(user.FirstName)
	attrs[channel.AttrLastName] = strings.TrimSpace(user.LastName)
	display := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if display == "" {
		display = strings.TrimSpace(user.UserName)
	}
	return channel.Identity{
		SubjectID:   strconv.FormatInt(user.ID, 10),
		DisplayName: display,
		Attributes:  attrs,
	}
}

func chatName(chat *tgbotapi.Chat) string {
	if chat == nil {
		return ""
	}
	if title := strings.TrimSpace(chat.Title); title != "" {
		return title
	}
	return strings.TrimSpace(chat.UserName)
}

func collectAttachments(msg *tgbotapi.Message, caption string) []channel.Attachment {
	attachments := make([]channel.Attachment, 0, 1)
	if photo := pickPhoto(msg.Photo); photo.FileID != "" {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentImage,
			PlatformKey: photo.FileID,
			Size:        int64(photo.FileSize),
			Caption:     caption,
		})
	}
	if doc := msg.Document; doc != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentFile,
			PlatformKey: doc.FileID,
			Name:        doc.FileName,
			Size:        int64(doc.FileSize),
			Mime:        doc.MimeType,
			Caption:     caption,
		})
	}
	if audio := msg.Audio; audio != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentAudio,
			PlatformKey: audio.FileID,
			Name:        audio.FileName,
			Size:        int64(audio.FileSize),
			Mime:        audio.MimeType,
			Caption:     caption,
		})
	}
	if voice := msg.Voice; voice != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVoice,
			PlatformKey: voice.FileID,
			Size:        int64(voice.FileSize),
			Mime:        voice.MimeType,
			Caption:     caption,
		})
	}
	if video := msg.Video; video != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentVideo,
			PlatformKey: video.FileID,
			Name:        video.FileName,
			Size:        int64(video.FileSize),
			Mime:        video.MimeType,
			Caption:     caption,
		})
	}
	if anim := msg.Animation; anim != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentGIF,
			PlatformKey: anim.FileID,
			Name:        anim.FileName,
			Size:        int64(anim.FileSize),
			Mime:        anim.MimeType,
			Caption:     caption,
		})
	}
	if sticker := msg.Sticker; sticker != nil {
		attachments = append(attachments, channel.Attachment{
			Type:        channel.AttachmentImage,
			PlatformKey: sticker.FileID,
			Size:        int64(sticker.FileSize),
		})
	}
	return attachments
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	var best tgbotapi.PhotoSize
	for _, item := range items {
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// Send delivers an outbound message. Text rides as the caption of the first
// attachment when it fits, otherwise it is sent as a separate message.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tc, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return errors.New("telegram target is required")
	}
	if msg.Message.IsEmpty() {
		return errors.New("message is required")
	}
	bot, err := a.getOrCreateBot(tc.BotToken, cfg.ID)
	if err != nil {
		return err
	}
	replyTo := parseReplyTo(msg.Message.Reply)
	text := strings.TrimSpace(msg.Message.Text)

	if len(msg.Message.Attachments) == 0 {
		return sendText(bot, target, text, replyTo)
	}
	caption := ""
	if text != "" && len([]rune(text)) <= captionLimit {
		caption, text = text, ""
	}
	if text != "" {
		if err := sendText(bot, target, text, replyTo); err != nil {
			return err
		}
		replyTo = 0
	}
	for i, att := range msg.Message.Attachments {
		attCaption := strings.TrimSpace(att.Caption)
		if i == 0 && caption != "" {
			attCaption = caption
		}
		if err := sendAttachment(bot, target, att, attCaption, replyTo); err != nil {
			return err
		}
		replyTo = 0
	}
	return nil
}

func parseReplyTo(reply *channel.ReplyRef) int {
	if reply == nil {
		return 0
	}
	id, err := strconv.Atoi(strings.TrimSpace(reply.MessageID))
	if err != nil {
		return 0
	}
	return id
}

// baseChat resolves a target: numeric chat IDs or @channel usernames.
func baseChat(target string, replyTo int) (tgbotapi.BaseChat, error) {
	chat := tgbotapi.BaseChat{ReplyToMessageID: replyTo}
	if strings.HasPrefix(target, "@") {
		chat.ChannelUsername = target
		return chat, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, fmt.Errorf("telegram target must be @username or chat_id: %q", target)
	}
	chat.ChatID = id
	return chat, nil
}

func sendText(bot *tgbotapi.BotAPI, target, text string, replyTo int) error {
	chat, err := baseChat(target, replyTo)
	if err != nil {
		return err
	}
	_, err = bot.Send(tgbotapi.MessageConfig{BaseChat: chat, Text: text})
	return err
}

func sendAttachment(bot *tgbotapi.BotAPI, target string, att channel.Attachment, caption string, replyTo int) error {
	chattable, err := buildAttachment(target, att, caption, replyTo)
	if err != nil {
		return err
	}
	_, err = bot.Send(chattable)
	return err
}

func buildAttachment(target string, att channel.Attachment, caption string, replyTo int) (tgbotapi.Chattable, error) {
	ref := att.Reference()
	if ref == "" {
		return nil, errors.New("attachment reference is required")
	}
	chat, err := baseChat(target, replyTo)
	if err != nil {
		return nil, err
	}
	var data tgbotapi.RequestFileData = tgbotapi.FileID(ref)
	if strings.TrimSpace(att.URL) != "" {
		data = tgbotapi.FileURL(ref)
	}
	file := tgbotapi.BaseFile{BaseChat: chat, File: data}
	switch att.Type {
	case channel.AttachmentImage:
		return tgbotapi.PhotoConfig{BaseFile: file, Caption: caption}, nil
	case channel.AttachmentAudio:
		return tgbotapi.AudioConfig{BaseFile: file, Caption: caption}, nil
	case channel.AttachmentVoice:
		return tgbotapi.VoiceConfig{BaseFile: file, Caption: caption}, nil
	case channel.AttachmentVideo:
		return tgbotapi.VideoConfig{BaseFile: file, Caption: caption}, nil
	case channel.AttachmentGIF:
		return tgbotapi.AnimationConfig{BaseFile: file, Caption: caption}, nil
	case channel.AttachmentFile, "":
		return tgbotapi.DocumentConfig{BaseFile: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("unsupported attachment type: %s", att.Type)
	}
}
