// Package storagechecker reports whether the document store is reachable.
package storagechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/statebot/internal/healthcheck"
	"github.com/memohai/statebot/internal/storage"
)

const (
	checkTypeStorage = "storage.backend"
	pingTimeout      = 3 * time.Second
)

// Checker pings the storage backend when it supports it.
type Checker struct {
	logger *slog.Logger
	store  storage.Storage
}

// NewChecker creates a storage health checker.
func NewChecker(log *slog.Logger, store storage.Storage) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_storage")),
		store:  store,
	}
}

// ListChecks reports a single storage item.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:      checkTypeStorage,
		Type:    checkTypeStorage,
		Status:  healthcheck.StatusOK,
		Summary: "Storage is reachable.",
	}
	pinger, ok := c.store.(storage.Pinger)
	if !ok {
		item.Summary = "Storage has no connectivity probe."
		return []healthcheck.CheckResult{item}
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pinger.Ping(pingCtx); err != nil {
		c.logger.Warn("storage ping failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Storage is unreachable."
		item.Detail = err.Error()
	}
	return []healthcheck.CheckResult{item}
}
