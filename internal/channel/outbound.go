package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OutboundPolicy controls how the Manager delivers outbound text.
type OutboundPolicy struct {
	TextChunkLimit int `json:"text_chunk_limit,omitempty"`
	RetryMax       int `json:"retry_max,omitempty"`
	RetryBackoffMs int `json:"retry_backoff_ms,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with sensible defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = 2000
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = 3
	}
	if policy.RetryBackoffMs <= 0 {
		policy.RetryBackoffMs = 500
	}
	return policy
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

// buildOutboundMessages splits long text into several messages. Attachments
// and the reply reference travel with the first one.
func buildOutboundMessages(msg OutboundMessage, policy OutboundPolicy) ([]OutboundMessage, error) {
	if msg.Message.IsEmpty() {
		return nil, fmt.Errorf("message is required")
	}
	chunks := ChunkText(msg.Message.Text, policy.TextChunkLimit)
	if len(chunks) <= 1 {
		return []OutboundMessage{msg}, nil
	}
	out := make([]OutboundMessage, 0, len(chunks))
	for i, chunk := range chunks {
		item := OutboundMessage{Target: msg.Target, Message: Message{Text: chunk}}
		if i == 0 {
			item.Message.Attachments = msg.Message.Attachments
			item.Message.Reply = msg.Message.Reply
		}
		out = append(out, item)
	}
	return out, nil
}

// --- Outbound pipeline methods (used by Manager) ---

func (m *Manager) resolveOutboundPolicy(channelType ChannelType) OutboundPolicy {
	desc, ok := m.registry.GetDescriptor(channelType)
	if !ok {
		return NormalizeOutboundPolicy(OutboundPolicy{})
	}
	return NormalizeOutboundPolicy(desc.OutboundPolicy)
}

func validateMessageCapabilities(registry *Registry, channelType ChannelType, msg Message) error {
	desc, ok := registry.GetDescriptor(channelType)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
	caps := desc.Capabilities
	if strings.TrimSpace(msg.Text) != "" && !caps.Text {
		return fmt.Errorf("channel does not support text")
	}
	if len(msg.Attachments) > 0 && !caps.Attachments {
		return fmt.Errorf("channel does not support attachments")
	}
	if msg.Reply != nil && !caps.Reply {
		return fmt.Errorf("channel does not support reply")
	}
	return nil
}

func (m *Manager) sendWithConfig(ctx context.Context, sender Sender, cfg ChannelConfig, msg OutboundMessage, policy OutboundPolicy) error {
	if sender == nil {
		return fmt.Errorf("unsupported channel type: %s", cfg.ChannelType)
	}
	if strings.TrimSpace(msg.Target) == "" {
		return fmt.Errorf("target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	if err := validateMessageCapabilities(m.registry, cfg.ChannelType, msg.Message); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < policy.RetryMax; attempt++ {
		err := sender.Send(ctx, cfg, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		m.logger.Warn("send outbound retry",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr),
		)
		if attempt+1 == policy.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(policy.RetryBackoffMs*(attempt+1)) * time.Millisecond):
		}
	}
	return fmt.Errorf("send outbound failed after %d attempts: %w", policy.RetryMax, lastErr)
}

// Send delivers an outbound message through the connection identified by configID.
func (m *Manager) Send(ctx context.Context, configID string, msg OutboundMessage) error {
	m.mu.Lock()
	entry := m.connections[strings.TrimSpace(configID)]
	m.mu.Unlock()
	if entry == nil {
		return fmt.Errorf("channel config not connected: %s", configID)
	}
	return m.newReplySender(entry.config).Send(ctx, msg)
}

func (m *Manager) newReplySender(cfg ChannelConfig) ReplySender {
	sender, _ := m.registry.GetSender(cfg.ChannelType)
	return &managerReplySender{
		manager: m,
		sender:  sender,
		config:  cfg,
	}
}

type managerReplySender struct {
	manager *Manager
	sender  Sender
	config  ChannelConfig
}

func (s *managerReplySender) Send(ctx context.Context, msg OutboundMessage) error {
	policy := s.manager.resolveOutboundPolicy(s.config.ChannelType)
	outbound, err := buildOutboundMessages(msg, policy)
	if err != nil {
		return err
	}
	for _, item := range outbound {
		if err := s.manager.sendWithConfig(ctx, s.sender, s.config, item, policy); err != nil {
			s.manager.logger.Error("send outbound failed",
				slog.String("channel", s.config.ChannelType.String()),
				slog.String("config_id", s.config.ID),
				slog.Any("error", err),
			)
			return err
		}
	}
	return nil
}
