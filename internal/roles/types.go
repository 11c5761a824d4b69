package roles

import (
	"errors"
	"fmt"
)

const (
	DefaultCollection  = "Users"
	DefaultIDColumn    = "_id"
	DefaultRolesColumn = "Roles"
)

var (
	// ErrRole is the root of role catalog and membership failures.
	ErrRole            = errors.New("role error")
	ErrUnknownRole     = fmt.Errorf("%w: unknown role", ErrRole)
	ErrUserNotFound    = fmt.Errorf("%w: user not found", ErrRole)
	ErrAlreadyLoggedIn = fmt.Errorf("%w: already logged in", ErrRole)
	ErrNotLoggedIn     = fmt.Errorf("%w: not logged in", ErrRole)

	// ErrPassword is returned when a role password does not match.
	ErrPassword = errors.New("wrong role password")
)

// Config names the collection and columns holding role membership, plus the
// initial role catalog (role name to password, empty meaning login without a password).
type Config struct {
	Collection  string
	IDColumn    string
	RolesColumn string
	Catalog     map[string]string
}

func (c Config) withDefaults() Config {
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.IDColumn == "" {
		c.IDColumn = DefaultIDColumn
	}
	if c.RolesColumn == "" {
		c.RolesColumn = DefaultRolesColumn
	}
	return c
}

// Option customizes a Service.
type Option func(*Service)

// WithVerifier replaces the password check used by LoginAs and RemoveRole.
func WithVerifier(v PasswordVerifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}
