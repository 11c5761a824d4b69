// Package state keeps the conversation state of every user in storage.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/statebot/internal/storage"
)

// Service reads and writes user state records.
type Service struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
}

// NewService creates a StateStore over the users collection of store.
func NewService(log *slog.Logger, store storage.Storage, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: log.With(slog.String("service", "state")),
	}
}

// FreeState returns the name of the idle state.
func (s *Service) FreeState() string {
	return s.cfg.FreeState
}

// WithParams reports whether state parameters are stored.
func (s *Service) WithParams() bool {
	return s.cfg.WithParams
}

// GetState returns the current state of userID. Params are filled only when
// params mode is on.
func (s *Service) GetState(ctx context.Context, userID string) (State, error) {
	doc, err := s.record(ctx, userID)
	if err != nil {
		return State{}, err
	}
	name, ok := doc[s.cfg.StateColumn].(string)
	if !ok {
		return State{}, fmt.Errorf("%w: %s has no state", ErrUserNotFound, userID)
	}
	out := State{Name: name}
	if s.cfg.WithParams {
		out.Params = paramsOf(doc[s.cfg.ParamsColumn])
	}
	return out, nil
}

// GetStateParams returns the parameters stored with the current state.
func (s *Service) GetStateParams(ctx context.Context, userID string) (map[string]any, error) {
	if !s.cfg.WithParams {
		return nil, ErrParamsDisabled
	}
	doc, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paramsOf(doc[s.cfg.ParamsColumn]), nil
}

// IsFree reports whether userID is in the free state.
func (s *Service) IsFree(ctx context.Context, userID string) (bool, error) {
	st, err := s.GetState(ctx, userID)
	if err != nil {
		return false, err
	}
	return st.Name == s.cfg.FreeState, nil
}

// SetState moves userID to name. params are ignored unless params mode is on,
// in which case a nil map clears the stored parameters.
func (s *Service) SetState(ctx context.Context, userID, name string, params map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: state name is required", ErrState)
	}
	patch := storage.Document{s.cfg.StateColumn: name}
	if s.cfg.WithParams {
		if params == nil {
			params = map[string]any{}
		}
		patch[s.cfg.ParamsColumn] = params
	}
	if err := s.store.UpdateOneByID(ctx, s.cfg.Collection, s.cfg.IDColumn, userID, patch); err != nil {
		return fmt.Errorf("%w: set state of %s: %w", ErrState, userID, err)
	}
	s.logger.Debug("state changed", slog.String("user_id", userID), slog.String("state", name))
	return nil
}

// SetFree moves userID back to the free state and clears its parameters.
func (s *Service) SetFree(ctx context.Context, userID string) error {
	return s.SetState(ctx, userID, s.cfg.FreeState, nil)
}

func (s *Service) record(ctx context.Context, userID string) (storage.Document, error) {
	columns := []string{s.cfg.StateColumn}
	if s.cfg.WithParams {
		columns = append(columns, s.cfg.ParamsColumn)
	}
	docs, err := s.store.GetByColumn(ctx, s.cfg.Collection, s.cfg.IDColumn, userID, columns, 1)
	if errors.Is(err, storage.ErrNoCollection) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read state of %s: %w", ErrState, userID, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return docs[0], nil
}

func paramsOf(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case storage.Document:
		return v
	default:
		return map[string]any{}
	}
}
