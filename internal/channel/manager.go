package channel

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultInboundWorkers   = 4
	DefaultInboundQueueSize = 256
)

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

// ConnectionStatus describes runtime status for one configured channel connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithInboundWorkers sets the number of goroutines processing inbound messages.
func WithInboundWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.inboundWorkers = n
		}
	}
}

// WithInboundQueueSize sets the capacity of the inbound queue.
func WithInboundQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.inboundQueue = make(chan inboundTask, n)
		}
	}
}

// Manager coordinates channel adapters, connection lifecycle, and message dispatch.
// Connection lifecycle lives in connection.go, inbound dispatch in inbound.go,
// and outbound pipeline in outbound.go.
type Manager struct {
	registry    *Registry
	processor   InboundProcessor
	logger      *slog.Logger
	middlewares []Middleware

	inboundQueue   chan inboundTask
	inboundWorkers int
	inboundOnce    sync.Once
	inboundCtx     context.Context
	inboundCancel  context.CancelFunc
	inboundWG      sync.WaitGroup

	mu             sync.Mutex
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
}

// NewManager creates a Manager with the given logger, registry, and inbound processor.
func NewManager(log *slog.Logger, registry *Registry, processor InboundProcessor, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		registry:       registry,
		processor:      processor,
		connections:    map[string]*connectionEntry{},
		connectionMeta: map[string]ConnectionStatus{},
		logger:         log.With(slog.String("component", "channel")),
		middlewares:    []Middleware{},
		inboundQueue:   make(chan inboundTask, DefaultInboundQueueSize),
		inboundWorkers: DefaultInboundWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Use appends middleware to the inbound processing chain.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// RegisterAdapter adds an adapter to the registry and logs the registration.
func (m *Manager) RegisterAdapter(adapter Adapter) {
	if adapter == nil {
		return
	}
	if err := m.registry.Register(adapter); err != nil {
		m.logger.Warn("adapter registration failed", slog.String("channel", adapter.Type().String()), slog.Any("error", err))
		return
	}
	m.logger.Info("adapter registered", slog.String("channel", adapter.Type().String()))
}

// Start launches the inbound worker pool and connects every enabled config.
// A config that fails to connect is reported and the others still start.
func (m *Manager) Start(ctx context.Context, configs []ChannelConfig) error {
	m.logger.Info("manager start", slog.Int("configs", len(configs)))
	m.startInboundWorkers(ctx)
	var errs []error
	for _, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		if err := m.EnsureConnection(ctx, cfg); err != nil {
			m.logger.Error("adapter start failed",
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops all active connections, then cancels the inbound worker pool
// and waits for in-flight messages.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	done := make(chan struct{})
	go func() {
		m.inboundWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info("manager stop")
	return nil
}

// Statuses returns observed connection statuses ordered by channel type and config id.
func (m *Manager) Statuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for _, status := range m.connectionMeta {
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChannelType == items[j].ChannelType {
			return items[i].ConfigID < items[j].ConfigID
		}
		return items[i].ChannelType < items[j].ChannelType
	})
	return items
}
