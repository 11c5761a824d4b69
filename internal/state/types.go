package state

import (
	"errors"
	"fmt"
)

const (
	DefaultCollection   = "Users"
	DefaultIDColumn     = "_id"
	DefaultStateColumn  = "State"
	DefaultParamsColumn = "State_Params"
	DefaultFreeState    = "free"
)

var (
	// ErrState is the root of every state lookup or write failure.
	ErrState = errors.New("state error")
	// ErrUserNotFound means the user has no state record yet.
	ErrUserNotFound = fmt.Errorf("%w: user not found", ErrState)
	// ErrParamsDisabled is returned by GetStateParams when params mode is off.
	ErrParamsDisabled = fmt.Errorf("%w: state params are disabled", ErrState)
)

// Config names the collection and columns holding user state.
type Config struct {
	Collection   string
	IDColumn     string
	StateColumn  string
	ParamsColumn string
	FreeState    string
	// WithParams stores a parameter map next to the state name.
	WithParams bool
}

// State is the current conversation stage of one user.
type State struct {
	Name string
	// Params is nil unless the service runs with params enabled.
	Params map[string]any
}

func (c Config) withDefaults() Config {
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.IDColumn == "" {
		c.IDColumn = DefaultIDColumn
	}
	if c.StateColumn == "" {
		c.StateColumn = DefaultStateColumn
	}
	if c.ParamsColumn == "" {
		c.ParamsColumn = DefaultParamsColumn
	}
	if c.FreeState == "" {
		c.FreeState = DefaultFreeState
	}
	return c
}
