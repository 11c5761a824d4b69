// Package roles holds the role catalog and the per-user role membership
// persisted in storage.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/memohai/statebot/internal/storage"
)

// Service is the role registry. The catalog lives in memory; only membership
// is persisted.
type Service struct {
	store    storage.Storage
	cfg      Config
	verifier PasswordVerifier
	logger   *slog.Logger

	mu      sync.RWMutex
	catalog map[string]string
}

// NewService creates a RoleRegistry seeded with cfg.Catalog. Passwords are
// checked with BcryptVerifier unless WithVerifier says otherwise.
func NewService(log *slog.Logger, store storage.Storage, cfg Config, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	catalog := make(map[string]string, len(cfg.Catalog))
	for name, password := range cfg.Catalog {
		catalog[name] = password
	}
	s := &Service{
		store:    store,
		cfg:      cfg,
		verifier: BcryptVerifier{},
		logger:   log.With(slog.String("service", "roles")),
		catalog:  catalog,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRoles returns the catalog role names, sorted.
func (s *Service) ListRoles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.catalog))
	for name := range s.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddRole adds name to the catalog or overwrites its password.
func (s *Service) AddRole(name, password string) {
	s.mu.Lock()
	s.catalog[name] = password
	s.mu.Unlock()
	s.logger.Info("role added", slog.String("role", name))
}

// RemoveRole drops name from the catalog. Users keep the role if they hold it.
func (s *Service) RemoveRole(name, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.catalog[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	if !s.verifier.Verify(stored, password) {
		return fmt.Errorf("%w: role %s", ErrPassword, name)
	}
	delete(s.catalog, name)
	s.logger.Info("role removed", slog.String("role", name))
	return nil
}

// GetUserRoles returns the roles held by userID.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	docs, err := s.store.GetByColumn(ctx, s.cfg.Collection, s.cfg.IDColumn, userID, []string{s.cfg.RolesColumn}, 1)
	if errors.Is(err, storage.ErrNoCollection) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read roles of %s: %w", ErrRole, userID, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	raw, ok := docs[0][s.cfg.RolesColumn]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no roles", ErrUserNotFound, userID)
	}
	return roleNames(raw), nil
}

// IsLoggedInAs reports whether userID holds role.
func (s *Service) IsLoggedInAs(ctx context.Context, role, userID string) (bool, error) {
	held, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(held, role), nil
}

// LoginAs grants role to userID after checking the role password.
func (s *Service) LoginAs(ctx context.Context, role, userID, password string) error {
	s.mu.RLock()
	stored, ok := s.catalog[role]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if !s.verifier.Verify(stored, password) {
		return fmt.Errorf("%w: role %s", ErrPassword, role)
	}
	held, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	if slices.Contains(held, role) {
		return fmt.Errorf("%w: %s as %s", ErrAlreadyLoggedIn, userID, role)
	}
	if err := s.save(ctx, userID, append(held, role)); err != nil {
		return err
	}
	s.logger.Info("logged in", slog.String("user_id", userID), slog.String("role", role))
	return nil
}

// LogoutAs revokes role from userID.
func (s *Service) LogoutAs(ctx context.Context, role, userID string) error {
	s.mu.RLock()
	_, ok := s.catalog[role]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	held, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	idx := slices.Index(held, role)
	if idx < 0 {
		return fmt.Errorf("%w: %s as %s", ErrNotLoggedIn, userID, role)
	}
	if err := s.save(ctx, userID, slices.Delete(held, idx, idx+1)); err != nil {
		return err
	}
	s.logger.Info("logged out", slog.String("user_id", userID), slog.String("role", role))
	return nil
}

func (s *Service) save(ctx context.Context, userID string, held []string) error {
	patch := storage.Document{s.cfg.RolesColumn: held}
	if err := s.store.UpdateOneByID(ctx, s.cfg.Collection, s.cfg.IDColumn, userID, patch); err != nil {
		return fmt.Errorf("%w: save roles of %s: %w", ErrRole, userID, err)
	}
	return nil
}

func roleNames(raw any) []string {
	var out []string
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
	case string:
		out = append(out, v)
	}
	if out == nil {
		out = []string{}
	}
	return out
}
