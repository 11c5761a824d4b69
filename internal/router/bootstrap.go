package router

import (
	"context"
	"fmt"
	"slices"

	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/state"
	"github.com/memohai/statebot/internal/storage"
	"github.com/memohai/statebot/internal/usermeta"
)

// BootstrapCommand is the command that creates user records.
const BootstrapCommand = "start"

// UserInitializer creates user records on first contact.
type UserInitializer interface {
	InitializeUser(ctx context.Context, id string, fields storage.Document) (bool, error)
	UpdateProfile(ctx context.Context, id string, p usermeta.Profile) error
}

// BootstrapDefaults is the record seeded for a new user. Empty fields fall
// back to the default column names, the free state and the "user" role.
type BootstrapDefaults struct {
	StateColumn  string
	ParamsColumn string
	RolesColumn  string
	FreeState    string
	Roles        []string
}

func (d BootstrapDefaults) fields() storage.Document {
	if d.StateColumn == "" {
		d.StateColumn = state.DefaultStateColumn
	}
	if d.ParamsColumn == "" {
		d.ParamsColumn = state.DefaultParamsColumn
	}
	if d.RolesColumn == "" {
		d.RolesColumn = roles.DefaultRolesColumn
	}
	if d.FreeState == "" {
		d.FreeState = DefaultFreeState
	}
	if d.Roles == nil {
		d.Roles = []string{DefaultBaselineRole}
	}
	return storage.Document{
		d.RolesColumn:  slices.Clone(d.Roles),
		d.StateColumn:  d.FreeState,
		d.ParamsColumn: map[string]any{},
	}
}

// BootstrapHandler creates the sender's record when missing and refreshes its
// profile from the transport identity.
func BootstrapHandler(meta UserInitializer, defaults BootstrapDefaults) HandlerFunc {
	return func(ctx context.Context, req Request) error {
		id := req.Event.Sender.ID
		if id == "" {
			return fmt.Errorf("bootstrap: sender id is empty")
		}
		if _, err := meta.InitializeUser(ctx, id, defaults.fields()); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		profile := usermeta.Profile{
			Username:  req.Event.Sender.Username,
			FirstName: req.Event.Sender.FirstName,
			LastName:  req.Event.Sender.LastName,
		}
		if err := meta.UpdateProfile(ctx, id, profile); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		return nil
	}
}

// RegisterBootstrap registers BootstrapHandler as the unrestricted start command.
func (r *Router) RegisterBootstrap(meta UserInitializer, defaults BootstrapDefaults) error {
	return r.RegisterCommandRoute(CommandRoute{
		Command: BootstrapCommand,
		Handler: BootstrapHandler(meta, defaults),
	})
}
