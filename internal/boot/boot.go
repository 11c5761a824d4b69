// Package boot turns a loaded configuration into the shared storage backend
// and the settings of the stores built on it.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/memohai/statebot/internal/channel"
	"github.com/memohai/statebot/internal/config"
	"github.com/memohai/statebot/internal/journal"
	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/router"
	"github.com/memohai/statebot/internal/state"
	"github.com/memohai/statebot/internal/storage"
	"github.com/memohai/statebot/internal/storage/providers/localfs"
	"github.com/memohai/statebot/internal/storage/providers/mongodb"
	"github.com/memohai/statebot/internal/usermeta"
)

// OpenStorage builds the one backend selected by cfg. Selecting neither or
// both is a config.ErrInit.
func OpenStorage(ctx context.Context, log *slog.Logger, cfg config.StorageConfig) (storage.Storage, error) {
	switch {
	case cfg.Local != nil && cfg.Mongo != nil, cfg.Local == nil && cfg.Mongo == nil:
		return nil, fmt.Errorf("%w: exactly one of storage.local and storage.mongo must be configured", config.ErrInit)
	case cfg.Local != nil:
		store, err := localfs.New(log, cfg.Local.Folder)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInit, err)
		}
		return store, nil
	default:
		m := cfg.Mongo
		store, err := mongodb.New(ctx, log, mongodb.Options{
			URI:      m.URI,
			Address:  m.Address,
			Port:     m.Port,
			Username: m.Username,
			Password: m.Password,
			Database: m.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInit, err)
		}
		return store, nil
	}
}

// CloseStorage releases backends that hold connections.
func CloseStorage(ctx context.Context, store storage.Storage) error {
	if c, ok := store.(storage.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

func StateConfig(cfg config.Config) state.Config {
	return state.Config{
		Collection:   cfg.Users.Collection,
		IDColumn:     cfg.Users.IDColumn,
		StateColumn:  cfg.State.Column,
		ParamsColumn: cfg.State.ParamsColumn,
		FreeState:    cfg.State.FreeState,
		WithParams:   cfg.State.WithParams,
	}
}

func RolesConfig(cfg config.Config) roles.Config {
	return roles.Config{
		Collection:  cfg.Users.Collection,
		IDColumn:    cfg.Users.IDColumn,
		RolesColumn: cfg.Roles.Column,
		Catalog:     maps.Clone(cfg.Roles.Catalog),
	}
}

func UserMetaConfig(cfg config.Config) usermeta.Config {
	return usermeta.Config{
		Collection:      cfg.Users.Collection,
		IDColumn:        cfg.Users.IDColumn,
		UsernameColumn:  cfg.Users.UsernameColumn,
		FirstNameColumn: cfg.Users.FirstNameColumn,
		LastNameColumn:  cfg.Users.LastNameColumn,
		LocaleColumn:    cfg.Users.LocaleColumn,
	}
}

func RouterOptions(cfg config.Config) router.Options {
	return router.Options{
		FreeState:     cfg.State.FreeState,
		BaselineRoles: slices.Clone(cfg.Roles.Baseline),
	}
}

func BootstrapDefaults(cfg config.Config) router.BootstrapDefaults {
	return router.BootstrapDefaults{
		StateColumn:  cfg.State.Column,
		ParamsColumn: cfg.State.ParamsColumn,
		RolesColumn:  cfg.Roles.Column,
		FreeState:    cfg.State.FreeState,
		Roles:        slices.Clone(cfg.Roles.Baseline),
	}
}

func JournalConfig(cfg config.Config) journal.Config {
	return journal.Config{
		Collection: cfg.Journal.Collection,
		Level:      cfg.Journal.Level,
		FullParams: cfg.Journal.FullParams,
	}
}

func ChannelConfigs(cfg config.Config) []channel.ChannelConfig {
	out := make([]channel.ChannelConfig, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		out = append(out, channel.ChannelConfig{
			ID:          ch.ID,
			ChannelType: channel.ChannelType(ch.Type),
			Credentials: maps.Clone(ch.Credentials),
			Disabled:    ch.Disabled,
		})
	}
	return out
}
