// Package usermeta stores user profile fields next to state and roles.
package usermeta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/statebot/internal/storage"
)

type Service struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
}

// NewService creates a UserMetaStore over the users collection of store.
func NewService(log *slog.Logger, store storage.Storage, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: log.With(slog.String("service", "usermeta")),
	}
}

// UserExists reports whether a record with id exists.
func (s *Service) UserExists(ctx context.Context, id string) (bool, error) {
	docs, err := s.store.GetByColumn(ctx, s.cfg.Collection, s.cfg.IDColumn, id, []string{s.cfg.IDColumn}, 1)
	if errors.Is(err, storage.ErrNoCollection) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup %s: %w", ErrUserMeta, id, err)
	}
	return len(docs) > 0, nil
}

// InitializeUser inserts {id} ∪ fields unless the user already exists.
// It reports whether a record was created.
func (s *Service) InitializeUser(ctx context.Context, id string, fields storage.Document) (bool, error) {
	exists, err := s.UserExists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	doc := storage.Clone(fields)
	doc[s.cfg.IDColumn] = id
	if err := s.store.InsertOne(ctx, s.cfg.Collection, doc); err != nil {
		return false, fmt.Errorf("%w: create %s: %w", ErrUserMeta, id, err)
	}
	s.logger.Info("user created", slog.String("user_id", id))
	return true, nil
}

// UpdateProfile overwrites the display fields of id, creating the record when missing.
func (s *Service) UpdateProfile(ctx context.Context, id string, p Profile) error {
	patch := storage.Document{
		s.cfg.UsernameColumn:  p.Username,
		s.cfg.FirstNameColumn: p.FirstName,
		s.cfg.LastNameColumn:  p.LastName,
	}
	if err := s.store.UpdateOneByID(ctx, s.cfg.Collection, s.cfg.IDColumn, id, patch); err != nil {
		return fmt.Errorf("%w: update profile of %s: %w", ErrUserMeta, id, err)
	}
	return nil
}

// GetUsername returns the stored username; ErrUserMeta when the user or field is missing.
func (s *Service) GetUsername(ctx context.Context, id string) (string, error) {
	return s.field(ctx, id, s.cfg.UsernameColumn)
}

// GetFirstName returns the stored first name.
func (s *Service) GetFirstName(ctx context.Context, id string) (string, error) {
	return s.field(ctx, id, s.cfg.FirstNameColumn)
}

// GetLastName returns the stored last name.
func (s *Service) GetLastName(ctx context.Context, id string) (string, error) {
	return s.field(ctx, id, s.cfg.LastNameColumn)
}

// GetLocale returns the preferred locale of id.
func (s *Service) GetLocale(ctx context.Context, id string) (string, error) {
	return s.field(ctx, id, s.cfg.LocaleColumn)
}

// SetLocale stores the preferred locale of id.
func (s *Service) SetLocale(ctx context.Context, id, locale string) error {
	if err := s.store.UpdateOneByID(ctx, s.cfg.Collection, s.cfg.IDColumn, id, storage.Document{s.cfg.LocaleColumn: locale}); err != nil {
		return fmt.Errorf("%w: set locale of %s: %w", ErrUserMeta, id, err)
	}
	return nil
}

func (s *Service) field(ctx context.Context, id, column string) (string, error) {
	docs, err := s.store.GetByColumn(ctx, s.cfg.Collection, s.cfg.IDColumn, id, []string{column}, 1)
	if err != nil {
		return "", fmt.Errorf("%w: lookup %s: %w", ErrUserMeta, id, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("%w: user %s not found", ErrUserMeta, id)
	}
	value, ok := docs[0][column].(string)
	if !ok {
		return "", fmt.Errorf("%w: user %s has no %s", ErrUserMeta, id, column)
	}
	return value, nil
}
