package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

// EnsureConnection starts the connection for cfg, replacing a running one.
// Disabled configs are stopped and removed.
func (m *Manager) EnsureConnection(ctx context.Context, cfg ChannelConfig) error {
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		return fmt.Errorf("config id is required")
	}
	if cfg.Disabled {
		return m.removeConnection(ctx, cfg.ID)
	}
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		err := fmt.Errorf("receiver not available: %s", cfg.ChannelType)
		m.markConnectionStatus(cfg, false, err)
		return err
	}
	if err := m.removeConnection(ctx, cfg.ID); err != nil {
		return err
	}

	m.logger.Info("adapter start",
		slog.String("channel", cfg.ChannelType.String()),
		slog.String("config_id", cfg.ID),
	)
	handler := m.handleInbound
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	// Decouple long-lived adapter connections from short-lived request contexts.
	connectCtx := context.WithoutCancel(ctx)
	conn, err := receiver.Connect(connectCtx, cfg, handler)
	if err != nil {
		m.markConnectionStatus(cfg, false, err)
		return err
	}

	m.mu.Lock()
	m.connections[cfg.ID] = &connectionEntry{
		config:     cfg,
		connection: conn,
	}
	m.setConnectionStatusLocked(cfg, true, nil)
	m.mu.Unlock()
	return nil
}

func (m *Manager) removeConnection(ctx context.Context, configID string) error {
	m.mu.Lock()
	entry := m.connections[configID]
	delete(m.connections, configID)
	delete(m.connectionMeta, configID)
	m.mu.Unlock()
	if entry == nil || entry.connection == nil {
		return nil
	}
	m.logger.Info("connection remove",
		slog.String("channel", entry.config.ChannelType.String()),
		slog.String("config_id", configID),
	)
	if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn("connection stop failed",
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", configID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.connections {
		if entry != nil && entry.connection != nil {
			m.logger.Info("adapter stop",
				slog.String("channel", entry.config.ChannelType.String()),
				slog.String("config_id", id),
			)
			if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
				m.logger.Warn("adapter stop failed",
					slog.String("channel", entry.config.ChannelType.String()),
					slog.String("config_id", id),
					slog.Any("error", err),
				)
			}
		}
		delete(m.connections, id)
		m.setConnectionStatusLocked(entry.config, false, nil)
	}
}

func (m *Manager) markConnectionStatus(cfg ChannelConfig, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setConnectionStatusLocked(cfg, running, checkErr)
}

func (m *Manager) setConnectionStatusLocked(cfg ChannelConfig, running bool, checkErr error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return
	}
	status := ConnectionStatus{
		ConfigID:    cfg.ID,
		ChannelType: cfg.ChannelType,
		Running:     running,
		UpdatedAt:   time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.connectionMeta[cfg.ID] = status
}
