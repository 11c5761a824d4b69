package storagechecker

import (
	"context"
	"errors"
	"testing"

	"github.com/memohai/statebot/internal/healthcheck"
	"github.com/memohai/statebot/internal/storage"
	"github.com/memohai/statebot/internal/storage/providers/localfs"
)

type pingingStore struct {
	storage.Storage
	err error
}

func (s pingingStore) Ping(context.Context) error {
	return s.err
}

func TestCheckerWithoutProbe(t *testing.T) {
	t.Parallel()

	store, err := localfs.New(nil, t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	items := NewChecker(nil, store).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusOK {
		t.Fatalf("unexpected checks: %+v", items)
	}
}

func TestCheckerPing(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, pingingStore{}).ListChecks(context.Background())
	if items[0].Status != healthcheck.StatusOK || items[0].Summary != "Storage is reachable." {
		t.Fatalf("unexpected check: %+v", items[0])
	}

	items = NewChecker(nil, pingingStore{err: errors.New("no route to host")}).ListChecks(context.Background())
	if items[0].Status != healthcheck.StatusError || items[0].Detail != "no route to host" {
		t.Fatalf("unexpected check: %+v", items[0])
	}
}
