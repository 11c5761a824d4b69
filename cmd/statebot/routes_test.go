package main

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/router"
	"github.com/memohai/statebot/internal/state"
	"github.com/memohai/statebot/internal/storage/providers/localfs"
	"github.com/memohai/statebot/internal/usermeta"
)

type replies struct {
	mu    sync.Mutex
	texts []string
}

func (r *replies) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *replies) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.texts)
	return r.texts[len(r.texts)-1]
}

func newAccountRouter(t *testing.T) (*router.Router, *replies) {
	t.Helper()
	store, err := localfs.New(nil, t.TempDir())
	require.NoError(t, err)
	states := state.NewService(nil, store, state.Config{})
	roleService := roles.NewService(nil, store, roles.Config{
		Catalog: map[string]string{"admin": "secret", "viewer": ""},
	})
	meta := usermeta.NewService(nil, store, usermeta.Config{})
	r := router.NewRouter(nil, states, roleService, router.Options{})
	require.NoError(t, r.RegisterBootstrap(meta, router.BootstrapDefaults{}))
	require.NoError(t, registerAccountRoutes(r, roleService, meta))
	return r, &replies{}
}

func command(text string) router.Event {
	return router.Event{
		Kind:   router.KindCommand,
		Sender: router.Identity{ID: "42", Username: "alice"},
		Text:   text,
	}
}

func TestAccountRoutesRequireBootstrap(t *testing.T) {
	t.Parallel()

	r, out := newAccountRouter(t)
	ctx := context.Background()

	require.NoError(t, r.DispatchWithReply(ctx, command("/login admin secret"), out))
	require.Equal(t, "Send /start first.", out.last(t))

	require.NoError(t, r.DispatchWithReply(ctx, command("/whoami"), out))
	require.Contains(t, out.last(t), "Send /start to register.")

	require.NoError(t, r.DispatchWithReply(ctx, command("/locale"), out))
	require.Equal(t, "Send /start first.", out.last(t))
}

func TestAccountRoutesLoginLogout(t *testing.T) {
	t.Parallel()

	r, out := newAccountRouter(t)
	ctx := context.Background()
	require.NoError(t, r.DispatchWithReply(ctx, command("/start"), out))

	cases := []struct {
		text string
		want string
	}{
		{text: "/login", want: "Usage: /login <role> [password]"},
		{text: "/login owner", want: "Unknown role."},
		{text: "/login admin nope", want: "Wrong password."},
		{text: "/login admin secret", want: "Logged in as admin."},
		{text: "/login admin secret", want: "Already logged in as admin."},
		{text: "/login viewer", want: "Logged in as viewer."},
		{text: "/logout", want: "Usage: /logout <role>"},
		{text: "/logout viewer", want: "Logged out of viewer."},
		{text: "/logout viewer", want: "Not logged in as viewer."},
		{text: "/logout ghost", want: "Unknown role."},
	}
	for _, tc := range cases {
		require.NoError(t, r.DispatchWithReply(ctx, command(tc.text), out), tc.text)
		require.Equal(t, tc.want, out.last(t), tc.text)
	}

	require.NoError(t, r.DispatchWithReply(ctx, command("/whoami"), out))
	who := out.last(t)
	require.Contains(t, who, "id: 42")
	require.Contains(t, who, "name: alice")
	require.Contains(t, who, "state: free")
	require.Contains(t, who, "roles: user, admin")
	require.False(t, strings.Contains(who, "/start"))
}

func TestAccountRoutesLocale(t *testing.T) {
	t.Parallel()

	r, out := newAccountRouter(t)
	ctx := context.Background()
	require.NoError(t, r.DispatchWithReply(ctx, command("/start"), out))

	require.NoError(t, r.DispatchWithReply(ctx, command("/locale"), out))
	require.Equal(t, "No locale set.", out.last(t))

	require.NoError(t, r.DispatchWithReply(ctx, command("/locale DE"), out))
	require.Equal(t, "Locale set to de.", out.last(t))

	require.NoError(t, r.DispatchWithReply(ctx, command("/locale"), out))
	require.Equal(t, "Locale: de", out.last(t))
}
