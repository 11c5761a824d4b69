package channel

import (
	"context"
	"fmt"
	"log/slog"
)

type inboundTask struct {
	cfg ChannelConfig
	msg InboundMessage
}

func (m *Manager) startInboundWorkers(ctx context.Context) {
	m.inboundOnce.Do(func() {
		m.inboundCtx, m.inboundCancel = context.WithCancel(context.WithoutCancel(ctx))
		for i := 0; i < m.inboundWorkers; i++ {
			m.inboundWG.Add(1)
			go m.runInboundWorker()
		}
	})
}

func (m *Manager) runInboundWorker() {
	defer m.inboundWG.Done()
	for {
		select {
		case <-m.inboundCtx.Done():
			return
		case task := <-m.inboundQueue:
			if err := m.processInbound(m.inboundCtx, task.cfg, task.msg); err != nil {
				m.logger.Error("inbound processing failed",
					slog.String("channel", task.cfg.ChannelType.String()),
					slog.String("config_id", task.cfg.ID),
					slog.String("sender", task.msg.Sender.SubjectID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// handleInbound is the InboundHandler given to adapters. It queues the message
// for the worker pool, or processes it inline when the pool is not running.
func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.inboundCtx == nil {
		return m.processInbound(ctx, cfg, msg)
	}
	select {
	case m.inboundQueue <- inboundTask{cfg: cfg, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.inboundCtx.Done():
		return fmt.Errorf("channel manager stopped")
	}
}

func (m *Manager) processInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	if msg.ConfigID == "" {
		msg.ConfigID = cfg.ID
	}
	if msg.Channel == "" {
		msg.Channel = cfg.ChannelType
	}
	return m.processor.HandleInbound(ctx, cfg, msg, m.newReplySender(cfg))
}
