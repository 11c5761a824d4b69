package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPruneSchedule = "@daily"
	DefaultRetention     = 30 * 24 * time.Hour
)

// Pruner runs PruneOlderThan on a cron schedule.
type Pruner struct {
	journal   *Journal
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewPruner accepts standard five-field cron specs and descriptors such as
// "@daily" or "@every 1h".
func NewPruner(log *slog.Logger, j *Journal, schedule string, retention time.Duration) (*Pruner, error) {
	if log == nil {
		log = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	p := &Pruner{
		journal:   j,
		retention: retention,
		cron:      cron.New(),
		logger:    log.With(slog.String("component", "journal_pruner")),
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("%w: prune schedule %q: %w", ErrJournal, schedule, err)
	}
	return p, nil
}

func (p *Pruner) Start() {
	p.cron.Start()
	p.logger.Info("journal pruner started", slog.Duration("retention", p.retention))
}

// Stop waits for a running prune to finish or ctx to end.
func (p *Pruner) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pruner) run() {
	if _, err := p.journal.PruneOlderThan(context.Background(), p.retention); err != nil {
		p.logger.Error("journal prune failed", slog.Any("error", err))
	}
}
