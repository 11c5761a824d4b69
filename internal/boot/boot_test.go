package boot

import (
	"context"
	"errors"
	"testing"

	"github.com/memohai/statebot/internal/config"
	"github.com/memohai/statebot/internal/storage"
	"github.com/memohai/statebot/internal/storage/providers/localfs"
)

func TestOpenStorageSelectsLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := OpenStorage(context.Background(), nil, config.StorageConfig{
		Local: &config.LocalStorageConfig{Folder: dir},
	})
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	if _, ok := store.(*localfs.Provider); !ok {
		t.Fatalf("expected local provider, got %T", store)
	}
	if err := CloseStorage(context.Background(), store); err != nil {
		t.Fatalf("CloseStorage: %v", err)
	}
}

func TestOpenStorageRequiresExactlyOne(t *testing.T) {
	t.Parallel()

	cases := map[string]config.StorageConfig{
		"neither": {},
		"both": {
			Local: &config.LocalStorageConfig{Folder: t.TempDir()},
			Mongo: &config.MongoConfig{Address: "localhost"},
		},
		"blank folder": {Local: &config.LocalStorageConfig{Folder: " "}},
	}
	for name, cfg := range cases {
		_, err := OpenStorage(context.Background(), nil, cfg)
		if !errors.Is(err, config.ErrInit) {
			t.Fatalf("%s: expected ErrInit, got %v", name, err)
		}
	}

	_, err := OpenStorage(context.Background(), nil, config.StorageConfig{
		Local: &config.LocalStorageConfig{Folder: " "},
	})
	if !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("expected the storage cause to be kept, got %v", err)
	}
}

func TestStoreConfigsFollowConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Users:   config.UsersConfig{Collection: "People", IDColumn: "uid", LocaleColumn: "lang"},
		State:   config.StateConfig{Column: "st", FreeState: "idle", WithParams: true},
		Roles:   config.RolesConfig{Column: "rl", Baseline: []string{"guest"}, Catalog: map[string]string{"admin": "pw"}},
		Journal: config.JournalConfig{Collection: "Audit", Level: "ERROR"},
		Channels: []config.ChannelConfig{
			{ID: "tg", Type: "telegram", Credentials: map[string]any{"botToken": "t"}},
		},
	}

	st := StateConfig(cfg)
	if st.Collection != "People" || st.IDColumn != "uid" || st.StateColumn != "st" || st.FreeState != "idle" || !st.WithParams {
		t.Fatalf("unexpected state config: %+v", st)
	}
	rc := RolesConfig(cfg)
	if rc.RolesColumn != "rl" || rc.Catalog["admin"] != "pw" {
		t.Fatalf("unexpected roles config: %+v", rc)
	}
	cfg.Roles.Catalog["admin"] = "changed"
	if rc.Catalog["admin"] != "pw" {
		t.Fatalf("roles catalog must be copied")
	}
	if um := UserMetaConfig(cfg); um.Collection != "People" || um.LocaleColumn != "lang" {
		t.Fatalf("unexpected usermeta config: %+v", um)
	}
	if opts := RouterOptions(cfg); opts.FreeState != "idle" || len(opts.BaselineRoles) != 1 || opts.BaselineRoles[0] != "guest" {
		t.Fatalf("unexpected router options: %+v", opts)
	}
	if d := BootstrapDefaults(cfg); d.StateColumn != "st" || d.RolesColumn != "rl" || d.Roles[0] != "guest" {
		t.Fatalf("unexpected bootstrap defaults: %+v", d)
	}
	if jc := JournalConfig(cfg); jc.Collection != "Audit" || jc.Level != "ERROR" {
		t.Fatalf("unexpected journal config: %+v", jc)
	}
	chans := ChannelConfigs(cfg)
	if len(chans) != 1 || chans[0].ChannelType != "telegram" || chans[0].Credentials["botToken"] != "t" {
		t.Fatalf("unexpected channels: %+v", chans)
	}
}
