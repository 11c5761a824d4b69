package channelchecker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/memohai/statebot/internal/channel"
)

type fakeConnectionObserver struct {
	items []channel.ConnectionStatus
}

func (f *fakeConnectionObserver) Statuses() []channel.ConnectionStatus {
	return f.items
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	checker := NewChecker(newTestLogger(), &fakeConnectionObserver{
		items: []channel.ConnectionStatus{
			{
				ConfigID:    "tg-main",
				ChannelType: channel.ChannelType("telegram"),
				Running:     true,
				UpdatedAt:   now,
			},
			{
				ConfigID:    "dc-main",
				ChannelType: channel.ChannelType("discord"),
				LastError:   "connect timeout",
				UpdatedAt:   now,
			},
		},
	})

	items := checker.ListChecks(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(items))
	}
	if items[0].ID != "channel.connection.dc-main" || items[0].Status != "error" {
		t.Fatalf("unexpected first check: %+v", items[0])
	}
	if items[0].Detail != "connect timeout" || items[0].Subtitle != "discord (dc-main)" {
		t.Fatalf("unexpected detail: %+v", items[0])
	}
	if items[1].ID != "channel.connection.tg-main" || items[1].Status != "ok" {
		t.Fatalf("unexpected second check: %+v", items[1])
	}
}

func TestCheckerNilObserver(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), nil)
	items := checker.ListChecks(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected service warning check, got %d", len(items))
	}
	if items[0].Status != "warn" {
		t.Fatalf("expected warn status, got %s", items[0].Status)
	}
}

func TestCheckerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := NewChecker(newTestLogger(), &fakeConnectionObserver{
		items: []channel.ConnectionStatus{{ConfigID: "x"}},
	})
	if items := checker.ListChecks(ctx); len(items) != 0 {
		t.Fatalf("expected no checks, got %+v", items)
	}
}
