// Package router dispatches inbound bot events to registered routes based on
// the trigger of each route and the state and roles of the sender.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/state"
)

const (
	DefaultFreeState    = state.DefaultFreeState
	DefaultBaselineRole = "user"
)

// StateResolver looks up the current state of a user.
type StateResolver interface {
	GetState(ctx context.Context, userID string) (state.State, error)
}

// RoleResolver looks up the roles held by a user.
type RoleResolver interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// Options configure the identity substituted for users without a record.
type Options struct {
	FreeState     string
	BaselineRoles []string
}

// Router holds the route tables. Tables are append-only; Dispatch only reads
// them, so concurrent dispatches are safe.
type Router struct {
	states   StateResolver
	roles    RoleResolver
	baseline User
	logger   *slog.Logger

	mu        sync.RWMutex
	tables    map[EventKind][]*route
	observers []RouteObserver
}

// NewRouter creates a Router with empty route tables. Unknown senders are
// dispatched as opts.FreeState with opts.BaselineRoles.
func NewRouter(log *slog.Logger, states StateResolver, roleResolver RoleResolver, opts Options) *Router {
	if log == nil {
		log = slog.Default()
	}
	if opts.FreeState == "" {
		opts.FreeState = DefaultFreeState
	}
	if opts.BaselineRoles == nil {
		opts.BaselineRoles = []string{DefaultBaselineRole}
	}
	return &Router{
		states: states,
		roles:  roleResolver,
		baseline: User{
			State: opts.FreeState,
			Roles: slices.Clone(opts.BaselineRoles),
		},
		logger: log.With(slog.String("component", "router")),
		tables: map[EventKind][]*route{
			KindCommand:  nil,
			KindMessage:  nil,
			KindDocument: nil,
			KindImage:    nil,
		},
	}
}

// RegisterCommandRoute appends a route matched by exact command name.
func (r *Router) RegisterCommandRoute(cr CommandRoute) error {
	rt, err := newCommandRoute(cr)
	if err != nil {
		return err
	}
	r.add(rt)
	return nil
}

// RegisterMessageRoute appends a route matched when the pattern covers the whole text.
func (r *Router) RegisterMessageRoute(mr MessageRoute) error {
	rt, err := newMessageRoute(mr)
	if err != nil {
		return err
	}
	r.add(rt)
	return nil
}

// RegisterDocumentRoute appends a route for documents passing the name and mime allow-lists.
func (r *Router) RegisterDocumentRoute(dr DocumentRoute) error {
	rt, err := newAttachmentRoute(KindDocument, dr.FileNames, dr.MimeTypes, dr.Access, dr.Handler)
	if err != nil {
		return err
	}
	r.add(rt)
	return nil
}

// RegisterImageRoute appends a route for images passing the name and mime allow-lists.
func (r *Router) RegisterImageRoute(ir ImageRoute) error {
	rt, err := newAttachmentRoute(KindImage, ir.FileNames, ir.MimeTypes, ir.Access, ir.Handler)
	if err != nil {
		return err
	}
	r.add(rt)
	return nil
}

// Observe adds observers and replays the routes registered so far to them.
func (r *Router) Observe(observers ...RouteObserver) {
	r.mu.Lock()
	var existing []*route
	for _, kind := range tableOrder {
		existing = append(existing, r.tables[kind]...)
	}
	for _, obs := range observers {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
	r.mu.Unlock()

	for _, obs := range observers {
		if obs == nil {
			continue
		}
		for _, rt := range existing {
			obs.ObserveRoute(string(rt.kind), rt.trigger)
		}
	}
}

// Routes returns a snapshot of every registered route, grouped by kind in
// registration order.
func (r *Router) Routes() []RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RouteInfo
	for _, kind := range tableOrder {
		for _, rt := range r.tables[kind] {
			out = append(out, rt.info())
		}
	}
	return out
}

var tableOrder = []EventKind{KindCommand, KindMessage, KindDocument, KindImage}

func (r *Router) add(rt *route) {
	r.mu.Lock()
	r.tables[rt.kind] = append(r.tables[rt.kind], rt)
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	r.logger.Debug("route registered", slog.String("kind", string(rt.kind)), slog.String("trigger", rt.trigger))
	for _, obs := range observers {
		obs.ObserveRoute(string(rt.kind), rt.trigger)
	}
}

// Dispatch resolves the sender, then invokes every route of the event kind
// whose trigger matches and whose access rules allow the sender, in
// registration order. Handler errors and panics do not stop later handlers;
// they are joined into the returned error. An event nobody handles is dropped.
// Handlers get a Replier that discards replies.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	return r.dispatch(ctx, ev, discardReplier{})
}

// DispatchWithReply is Dispatch with replies sent through replier.
func (r *Router) DispatchWithReply(ctx context.Context, ev Event, replier Replier) error {
	if replier == nil {
		replier = discardReplier{}
	}
	return r.dispatch(ctx, ev, replier)
}

func (r *Router) dispatch(ctx context.Context, ev Event, replier Replier) error {
	r.mu.RLock()
	table, ok := r.tables[ev.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}

	user, err := r.resolveUser(ctx, ev.Sender)
	if err != nil {
		return err
	}

	req := Request{Event: ev, User: user, Reply: replier}
	if ev.Kind == KindCommand {
		req.Command, req.Args = ParseCommand(ev.Text)
	}

	logger := r.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("user_id", ev.Sender.ID),
		slog.String("state", user.State),
	)
	var errs []error
	invoked := 0
	for _, rt := range table {
		if !rt.matches(ev, req.Command) || !rt.access.Allows(user.State, user.Roles) {
			continue
		}
		invoked++
		if err := invoke(ctx, rt, req); err != nil {
			logger.Error("route handler failed", slog.String("trigger", rt.trigger), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("route %s %q: %w", rt.kind, rt.trigger, err))
		}
	}
	if invoked == 0 {
		logger.Debug("event dropped, no route matched")
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, rt *route, req Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return rt.handler(ctx, req)
}

// resolveUser applies the fallback identity policy: a sender with no state
// record or no role record is treated as the baseline (free state, baseline
// roles). Any other lookup failure aborts the dispatch.
func (r *Router) resolveUser(ctx context.Context, sender Identity) (User, error) {
	user := User{Identity: sender, Known: true}

	st, stateErr := r.states.GetState(ctx, sender.ID)
	if stateErr != nil && !errors.Is(stateErr, state.ErrUserNotFound) {
		return User{}, fmt.Errorf("resolve state of %s: %w", sender.ID, stateErr)
	}
	held, roleErr := r.roles.GetUserRoles(ctx, sender.ID)
	if roleErr != nil && !errors.Is(roleErr, roles.ErrUserNotFound) {
		return User{}, fmt.Errorf("resolve roles of %s: %w", sender.ID, roleErr)
	}
	if stateErr != nil || roleErr != nil {
		return r.fallbackIdentity(sender), nil
	}
	user.State = st.Name
	user.StateParams = st.Params
	user.Roles = held
	return user, nil
}

func (r *Router) fallbackIdentity(sender Identity) User {
	return User{
		Identity: sender,
		State:    r.baseline.State,
		Roles:    slices.Clone(r.baseline.Roles),
	}
}
