// Package journal records bot activity (received commands, messages and
// documents, sent replies, start and stop) as documents in a storage
// collection, filtered by a severity threshold.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/statebot/internal/storage"
)

// Event names written by the Log helpers.
const (
	EventCommandReceived  = "Command received"
	EventMessageReceived  = "Message received"
	EventDocumentReceived = "Document received"
	EventMessageSent      = "Message sent"
	EventDocumentSent     = "Document sent"
	EventStarted          = "Bot started"
	EventStopped          = "Bot stopped"
	EventPruned           = "Old logs cleaned"
)

// Journal writes activity records. It is safe for concurrent use.
type Journal struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	level Level
}

// New creates a Journal writing to cfg.Collection; an unknown cfg.Level is ErrUnknownLevel.
func New(log *slog.Logger, store storage.Storage, cfg Config) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return &Journal{
		store:  store,
		cfg:    cfg,
		logger: log.With(slog.String("service", "journal")),
		now:    time.Now,
		level:  level,
	}, nil
}

// SetLevel changes the threshold; records below it are discarded.
func (j *Journal) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.level = level
	j.mu.Unlock()
	return nil
}

func (j *Journal) Level() Level {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.level
}

// Write stores one record when level reaches the threshold.
func (j *Journal) Write(ctx context.Context, level Level, event string, params map[string]any) error {
	if level < j.Level() {
		return nil
	}
	now := j.now()
	record := storage.Document{
		columnID:    uuid.NewString(),
		columnTime:  now.UnixMilli(),
		columnDay:   now.UTC().Format(dayLayout),
		columnLevel: level.String(),
		columnEvent: event,
	}
	if len(params) > 0 {
		record[columnParams] = j.formatParams(params)
	}
	if err := j.store.InsertOne(ctx, j.cfg.Collection, record); err != nil {
		return fmt.Errorf("%w: write %q: %w", ErrJournal, event, err)
	}
	return nil
}

func (j *Journal) formatParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		text := fmt.Sprint(value)
		if !j.cfg.FullParams {
			text = ShortParam(text)
		}
		out[key] = text
	}
	return out
}

// ShortParam keeps the first line of value, marking a cut with " <...>".
func ShortParam(value string) string {
	first, _, cut := strings.Cut(value, "\n")
	if !cut {
		return value
	}
	return first + " <...>"
}

func (j *Journal) LogError(ctx context.Context, event string, params map[string]any) error {
	return j.Write(ctx, LevelError, event, params)
}

func (j *Journal) LogReceiveCommand(ctx context.Context, userID, command string) error {
	return j.Write(ctx, LevelInfo, EventCommandReceived, map[string]any{"id": userID, "command": command})
}

func (j *Journal) LogReceiveMessage(ctx context.Context, userID, text string) error {
	return j.Write(ctx, LevelInfo, EventMessageReceived, map[string]any{"id": userID, "text": text})
}

func (j *Journal) LogReceiveDocument(ctx context.Context, userID, filename string) error {
	return j.Write(ctx, LevelInfo, EventDocumentReceived, map[string]any{"id": userID, "filename": filename})
}

func (j *Journal) LogSend(ctx context.Context, target, text string) error {
	return j.Write(ctx, LevelInfo, EventMessageSent, map[string]any{"id": target, "text": text})
}

func (j *Journal) LogSendDocument(ctx context.Context, target, filename string) error {
	return j.Write(ctx, LevelInfo, EventDocumentSent, map[string]any{"id": target, "filename": filename})
}

func (j *Journal) LogStart(ctx context.Context) error {
	return j.Write(ctx, LevelInfo, EventStarted, nil)
}

func (j *Journal) LogStop(ctx context.Context) error {
	return j.Write(ctx, LevelInfo, EventStopped, nil)
}

// DumpLast returns up to n of the most recent records, oldest first.
func (j *Journal) DumpLast(ctx context.Context, n int) ([]storage.Document, error) {
	if n <= 0 {
		return nil, nil
	}
	records, err := j.records(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// PruneOlderThan removes records written at least age ago and returns how
// many were removed. A day bucket whose records are all stale is removed with
// one call; stale records sharing a day with newer ones are removed one by one.
// A prune that removed anything is itself journaled.
func (j *Journal) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	records, err := j.records(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := j.now().Add(-age).UnixMilli()

	type bucket struct {
		stale []storage.Document
		fresh bool
	}
	var days []string
	buckets := make(map[string]*bucket)
	for _, record := range records {
		day, _ := record[columnDay].(string)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
			days = append(days, day)
		}
		written, ok := storage.Normalize(record[columnTime]).(int64)
		if !ok || written > cutoff {
			b.fresh = true
			continue
		}
		b.stale = append(b.stale, record)
	}

	removed := 0
	for _, day := range days {
		b := buckets[day]
		if len(b.stale) == 0 {
			continue
		}
		if day != "" && !b.fresh {
			if err := j.store.RemoveMany(ctx, j.cfg.Collection, storage.Document{columnDay: day}); err != nil {
				return removed, fmt.Errorf("%w: prune %s: %w", ErrJournal, day, err)
			}
			removed += len(b.stale)
			continue
		}
		for _, record := range b.stale {
			filter := storage.Document{columnID: record[columnID], columnTime: record[columnTime]}
			if err := j.store.RemoveMany(ctx, j.cfg.Collection, filter); err != nil {
				return removed, fmt.Errorf("%w: prune: %w", ErrJournal, err)
			}
			removed++
		}
	}
	if removed > 0 {
		j.logger.Info("journal pruned", slog.Int("removed", removed), slog.Duration("age", age))
		if err := j.Write(ctx, LevelInfo, EventPruned, map[string]any{"removed": removed}); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (j *Journal) records(ctx context.Context) ([]storage.Document, error) {
	docs, err := j.store.Get(ctx, j.cfg.Collection, storage.Query{})
	if errors.Is(err, storage.ErrNoCollection) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrJournal, err)
	}
	return docs, nil
}
