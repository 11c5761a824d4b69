package router_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/router"
	"github.com/memohai/statebot/internal/state"
)

type fakeStates map[string]state.State

func (f fakeStates) GetState(_ context.Context, userID string) (state.State, error) {
	st, ok := f[userID]
	if !ok {
		return state.State{}, fmt.Errorf("%w: %s", state.ErrUserNotFound, userID)
	}
	return st, nil
}

type fakeRoles map[string][]string

func (f fakeRoles) GetUserRoles(_ context.Context, userID string) ([]string, error) {
	held, ok := f[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", roles.ErrUserNotFound, userID)
	}
	return held, nil
}

type failingStates struct{ err error }

func (f failingStates) GetState(context.Context, string) (state.State, error) {
	return state.State{}, f.err
}

type recordingObserver struct {
	seen []string
}

func (o *recordingObserver) ObserveRoute(kind, trigger string) {
	o.seen = append(o.seen, kind+":"+trigger)
}

func newRouter(states router.StateResolver, held router.RoleResolver) *router.Router {
	return router.NewRouter(nil, states, held, router.Options{})
}

func commandEvent(userID, text string) router.Event {
	return router.Event{ID: "ev", Kind: router.KindCommand, Sender: router.Identity{ID: userID}, Text: text}
}

func TestDispatchInvokesOnlyAllowedMatchingRoutes(t *testing.T) {
	t.Parallel()

	states := fakeStates{
		"free-user":  {Name: "free"},
		"admin-user": {Name: "free"},
		"waiting":    {Name: "awaiting_password", Params: map[string]any{"attempt": 1}},
	}
	held := fakeRoles{
		"free-user":  {"user"},
		"admin-user": {"user", "admin"},
		"waiting":    {"user"},
	}
	r := newRouter(states, held)

	var calls []string
	record := func(name string) router.HandlerFunc {
		return func(_ context.Context, req router.Request) error {
			calls = append(calls, name+"@"+req.User.ID)
			return nil
		}
	}
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{Command: "/stats", Handler: record("any")}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "stats",
		Access:  router.Access{Roles: []string{"admin"}},
		Handler: record("admin"),
	}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "stats",
		Access:  router.Access{States: []string{"awaiting_password"}},
		Handler: record("waiting"),
	}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{Command: "other", Handler: record("other")}))

	cases := []struct {
		user string
		want []string
	}{
		{user: "free-user", want: []string{"any@free-user"}},
		{user: "admin-user", want: []string{"any@admin-user", "admin@admin-user"}},
		{user: "waiting", want: []string{"any@waiting", "waiting@waiting"}},
		{user: "stranger", want: []string{"any@stranger"}},
	}
	for _, tc := range cases {
		calls = nil
		require.NoError(t, r.Dispatch(context.Background(), commandEvent(tc.user, "/stats@statebot now")))
		assert.Equal(t, tc.want, calls, tc.user)
	}
}

func TestDispatchSkipsRouteRestrictedToOtherState(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{"1": {Name: "free"}}, fakeRoles{"1": {"user", "admin"}})
	invoked := false
	require.NoError(t, r.RegisterMessageRoute(router.MessageRoute{
		Access: router.Access{States: []string{"awaiting_password"}, Roles: []string{"admin"}},
		Handler: func(context.Context, router.Request) error {
			invoked = true
			return nil
		},
	}))

	err := r.Dispatch(context.Background(), router.Event{Kind: router.KindMessage, Sender: router.Identity{ID: "1"}, Text: "secret"})
	require.NoError(t, err)
	assert.False(t, invoked)
}

func TestMessagePatternMustMatchWholeText(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	var got []string
	require.NoError(t, r.RegisterMessageRoute(router.MessageRoute{
		Pattern: "hi|hello",
		Handler: func(_ context.Context, req router.Request) error {
			got = append(got, req.Event.Text)
			return nil
		},
	}))

	for _, text := range []string{"hi there", "hello", "oh hi", "hi"} {
		ev := router.Event{Kind: router.KindMessage, Sender: router.Identity{ID: "1"}, Text: text}
		require.NoError(t, r.Dispatch(context.Background(), ev))
	}
	assert.Equal(t, []string{"hello", "hi"}, got)
}

func TestDefaultMessagePatternMatchesMultiline(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	invoked := 0
	require.NoError(t, r.RegisterMessageRoute(router.MessageRoute{
		Handler: func(context.Context, router.Request) error {
			invoked++
			return nil
		},
	}))
	ev := router.Event{Kind: router.KindMessage, Sender: router.Identity{ID: "1"}, Text: "line one\nline two"}
	require.NoError(t, r.Dispatch(context.Background(), ev))
	assert.Equal(t, 1, invoked)
}

func TestAttachmentRoutesFilterByNameAndMime(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	var got []string
	record := func(name string) router.HandlerFunc {
		return func(context.Context, router.Request) error {
			got = append(got, name)
			return nil
		}
	}
	require.NoError(t, r.RegisterDocumentRoute(router.DocumentRoute{MimeTypes: []string{"application/pdf"}, Handler: record("pdf")}))
	require.NoError(t, r.RegisterDocumentRoute(router.DocumentRoute{FileNames: []string{"report.csv"}, Handler: record("report")}))
	require.NoError(t, r.RegisterDocumentRoute(router.DocumentRoute{Handler: record("any-doc")}))
	require.NoError(t, r.RegisterImageRoute(router.ImageRoute{MimeTypes: []string{"image/png"}, Handler: record("png")}))

	ctx := context.Background()
	doc := router.Event{
		Kind:        router.KindDocument,
		Sender:      router.Identity{ID: "1"},
		Attachments: []router.Attachment{{Name: "a.pdf", Mime: "application/pdf"}},
	}
	require.NoError(t, r.Dispatch(ctx, doc))
	assert.Equal(t, []string{"pdf", "any-doc"}, got)

	got = nil
	img := router.Event{
		Kind:        router.KindImage,
		Sender:      router.Identity{ID: "1"},
		Attachments: []router.Attachment{{Name: "x.jpg", Mime: "image/jpeg"}},
	}
	require.NoError(t, r.Dispatch(ctx, img))
	assert.Empty(t, got)
}

func TestFallbackIdentityForUnknownSender(t *testing.T) {
	t.Parallel()

	// State known, roles missing: both are replaced by the baseline.
	r := router.NewRouter(nil,
		fakeStates{"1": {Name: "busy"}},
		fakeRoles{},
		router.Options{FreeState: "idle", BaselineRoles: []string{"guest"}},
	)
	var user router.User
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "whoami",
		Handler: func(_ context.Context, req router.Request) error {
			user = req.User
			return nil
		},
	}))
	require.NoError(t, r.Dispatch(context.Background(), commandEvent("1", "/whoami")))
	assert.False(t, user.Known)
	assert.Equal(t, "idle", user.State)
	assert.Equal(t, []string{"guest"}, user.Roles)
	assert.Equal(t, "1", user.ID)
}

func TestDispatchAbortsOnStorageFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	r := newRouter(failingStates{err: boom}, fakeRoles{})
	invoked := false
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "start",
		Handler: func(context.Context, router.Request) error {
			invoked = true
			return nil
		},
	}))
	err := r.Dispatch(context.Background(), commandEvent("1", "/start"))
	require.ErrorIs(t, err, boom)
	assert.False(t, invoked)
}

func TestDispatchJoinsHandlerErrorsAndRecoversPanics(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	first := errors.New("first failed")
	reached := false
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "go",
		Handler: func(context.Context, router.Request) error { return first },
	}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "go",
		Handler: func(context.Context, router.Request) error { panic("boom") },
	}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "go",
		Handler: func(context.Context, router.Request) error {
			reached = true
			return nil
		},
	}))

	err := r.Dispatch(context.Background(), commandEvent("1", "/go"))
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, router.ErrHandlerPanic)
	assert.True(t, reached)
}

func TestDispatchUnknownKind(t *testing.T) {
	t.Parallel()

	r := newRouter(failingStates{err: errors.New("must not be called")}, fakeRoles{})
	err := r.Dispatch(context.Background(), router.Event{Kind: "sticker"})
	require.ErrorIs(t, err, router.ErrUnknownKind)
}

func TestRegisterRejectsInvalidRoutes(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	noop := func(context.Context, router.Request) error { return nil }
	require.ErrorIs(t, r.RegisterCommandRoute(router.CommandRoute{Command: "x"}), router.ErrNilHandler)
	require.Error(t, r.RegisterCommandRoute(router.CommandRoute{Command: " / ", Handler: noop}))
	require.Error(t, r.RegisterMessageRoute(router.MessageRoute{Pattern: "(", Handler: noop}))
	require.ErrorIs(t, r.RegisterImageRoute(router.ImageRoute{}), router.ErrNilHandler)
	assert.Empty(t, r.Routes())
}

func TestObserversAndRoutes(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	noop := func(context.Context, router.Request) error { return nil }
	require.NoError(t, r.RegisterMessageRoute(router.MessageRoute{Pattern: "yes|no", Handler: noop}))
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{Command: "help", Handler: noop}))

	obs := &recordingObserver{}
	r.Observe(obs)
	require.NoError(t, r.RegisterDocumentRoute(router.DocumentRoute{
		FileNames: []string{"a.txt"},
		MimeTypes: []string{"text/plain"},
		Access:    router.Access{Roles: []string{"admin"}},
		Handler:   noop,
	}))

	assert.Equal(t, []string{
		"command:help",
		"message:yes|no",
		"document:names=a.txt;mimes=text/plain",
	}, obs.seen)

	routes := r.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, router.RouteInfo{Kind: router.KindCommand, Trigger: "help"}, routes[0])
	assert.Equal(t, []string{"admin"}, routes[2].Roles)
}

func TestConcurrentDispatchWhileRegistering(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{"1": {Name: "free"}}, fakeRoles{"1": {"user"}})
	var first, late atomic.Int64
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "ping",
		Handler: func(context.Context, router.Request) error {
			first.Add(1)
			return nil
		},
	}))

	const workers, rounds = 16, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				assert.NoError(t, r.Dispatch(context.Background(), commandEvent("1", "/ping")))
				assert.NoError(t, r.Dispatch(context.Background(), commandEvent("anon", "/ping")))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			assert.NoError(t, r.RegisterMessageRoute(router.MessageRoute{
				Pattern: fmt.Sprintf("m%d", i),
				Handler: func(context.Context, router.Request) error { return nil },
			}))
			_ = r.Routes()
		}
		assert.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
			Command: "ping",
			Handler: func(context.Context, router.Request) error {
				late.Add(1)
				return nil
			},
		}))
	}()
	wg.Wait()

	assert.Equal(t, int64(2*workers*rounds), first.Load())
	assert.LessOrEqual(t, late.Load(), int64(2*workers*rounds))
	assert.Len(t, r.Routes(), rounds+2)

	before := late.Load()
	require.NoError(t, r.Dispatch(context.Background(), commandEvent("1", "/ping")))
	assert.Equal(t, before+1, late.Load())
}

func TestDispatchWithReply(t *testing.T) {
	t.Parallel()

	r := newRouter(fakeStates{}, fakeRoles{})
	require.NoError(t, r.RegisterCommandRoute(router.CommandRoute{
		Command: "echo",
		Handler: func(ctx context.Context, req router.Request) error {
			return req.Reply.Reply(ctx, fmt.Sprint(req.Args))
		},
	}))
	var replies []string
	replier := router.ReplierFunc(func(_ context.Context, text string) error {
		replies = append(replies, text)
		return nil
	})
	require.NoError(t, r.DispatchWithReply(context.Background(), commandEvent("1", "/echo a b"), replier))
	require.NoError(t, r.Dispatch(context.Background(), commandEvent("1", "/echo c")))
	assert.Equal(t, []string{"[a b]"}, replies)
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text    string
		command string
		args    []string
	}{
		{text: "/start", command: "start"},
		{text: "/start@statebot ref42", command: "start", args: []string{"ref42"}},
		{text: "  /login admin  secret ", command: "login", args: []string{"admin", "secret"}},
		{text: "", command: ""},
	}
	for _, tc := range cases {
		command, args := router.ParseCommand(tc.text)
		if command != tc.command || len(args) != len(tc.args) {
			t.Fatalf("ParseCommand(%q) = %q %v, want %q %v", tc.text, command, args, tc.command, tc.args)
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Fatalf("ParseCommand(%q) args = %v, want %v", tc.text, args, tc.args)
			}
		}
	}
}
