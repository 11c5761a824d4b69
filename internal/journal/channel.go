package journal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/memohai/statebot/internal/channel"
)

// Middleware journals every inbound message before it is handled. Journal
// failures are logged and never block the message.
func (j *Journal) Middleware() channel.Middleware {
	return func(next channel.InboundHandler) channel.InboundHandler {
		return func(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
			if err := j.logReceive(ctx, msg); err != nil {
				j.logger.Warn("journal receive failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			}
			return next(ctx, cfg, msg)
		}
	}
}

func (j *Journal) logReceive(ctx context.Context, msg channel.InboundMessage) error {
	userID := msg.Sender.SubjectID
	if len(msg.Message.Attachments) > 0 {
		for _, att := range msg.Message.Attachments {
			name := att.Name
			if name == "" {
				name = att.Reference()
			}
			if err := j.LogReceiveDocument(ctx, userID, name); err != nil {
				return err
			}
		}
		return nil
	}
	text := strings.TrimSpace(msg.Message.Text)
	if strings.HasPrefix(text, "/") {
		return j.LogReceiveCommand(ctx, userID, text)
	}
	return j.LogReceiveMessage(ctx, userID, text)
}

// Processor wraps next so replies it sends are journaled.
func (j *Journal) Processor(next channel.InboundProcessor) channel.InboundProcessor {
	return &journaledProcessor{journal: j, next: next}
}

type journaledProcessor struct {
	journal *Journal
	next    channel.InboundProcessor
}

func (p *journaledProcessor) HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) error {
	if sender != nil {
		sender = &journaledSender{journal: p.journal, next: sender}
	}
	return p.next.HandleInbound(ctx, cfg, msg, sender)
}

type journaledSender struct {
	journal *Journal
	next    channel.ReplySender
}

func (s *journaledSender) Send(ctx context.Context, msg channel.OutboundMessage) error {
	if err := s.next.Send(ctx, msg); err != nil {
		_ = s.journal.LogError(ctx, "Send failed", map[string]any{"id": msg.Target, "error": err})
		return err
	}
	var err error
	if text := msg.Message.PlainText(); text != "" {
		err = s.journal.LogSend(ctx, msg.Target, text)
	}
	for _, att := range msg.Message.Attachments {
		if err == nil {
			err = s.journal.LogSendDocument(ctx, msg.Target, att.Name)
		}
	}
	if err != nil {
		s.journal.logger.Warn("journal send failed", slog.String("target", msg.Target), slog.Any("error", err))
	}
	return nil
}
