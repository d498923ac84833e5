// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/userbase/userbase/internal/metrics"
	"github.com/userbase/userbase/internal/model"
	"github.com/userbase/userbase/internal/repository"
)

// Service errors.
var (
	ErrDuplicateEmail = errors.New("a user with this email already exists")
)

// UserService applies the business rules for users.
type UserService struct {
	repo    UserRepository
	cache   UserCache
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewUserService creates a new UserService. cache may be nil.
func NewUserService(repo UserRepository, cache UserCache, recorder metrics.Recorder, logger *slog.Logger) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:    repo,
		cache:   cache,
		metrics: recorder,
		logger:  logger,
	}
}

// ListUsers returns the public view of every user in store order.
func (s *UserService) ListUsers(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	views := make([]model.PublicUser, len(users))
	for i, user := range users {
		views[i] = user.Public()
	}
	return views, nil
}

// GetUser returns the public view of a user.
// The boolean is false when the user does not exist.
func (s *UserService) GetUser(ctx context.Context, id int64) (model.PublicUser, bool, error) {
	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		cached, found, err := s.cache.GetUser(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("user cache read failed", "user_id", id, "error", err)
		case found:
			s.metrics.IncUserCacheHit()
			return cached, true, nil
		default:
			s.metrics.IncUserCacheMiss()
		}

		// The version must be read before the store so that a delete or
		// update racing this read makes the later cache write a no-op.
		v, err := s.cache.UserVersion(ctx, id)
		if err != nil {
			s.logger.Warn("user cache version read failed", "user_id", id, "error", err)
		} else {
			version, cacheable = v, true
		}
	}

	user, found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return model.PublicUser{}, false, fmt.Errorf("get user: %w", err)
	}
	if !found {
		return model.PublicUser{}, false, nil
	}

	view := user.Public()
	if cacheable {
		s.remember(ctx, view, version)
	}
	return view, true, nil
}

// CreateUser registers a new user. It fails with ErrDuplicateEmail when the
// email is already taken, without writing anything.
func (s *UserService) CreateUser(ctx context.Context, input model.CreateUserInput) (model.PublicUser, error) {
	_, exists, err := s.repo.FindByEmail(ctx, input.Email)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		s.metrics.IncDuplicateEmail()
		return model.PublicUser{}, ErrDuplicateEmail
	}

	created, err := s.repo.Create(ctx, model.User{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: model.PlaceholderPasswordHash,
	})
	if err != nil {
		// A concurrent insert can win between the check and the insert.
		if errors.Is(err, repository.ErrUniqueEmail) {
			s.metrics.IncDuplicateEmail()
			return model.PublicUser{}, ErrDuplicateEmail
		}
		return model.PublicUser{}, fmt.Errorf("create user: %w", err)
	}

	s.metrics.IncUserCreated()
	return created.Public(), nil
}

// UpdateUser applies a partial update. An empty patch returns the current state.
// The boolean is false when the user does not exist.
func (s *UserService) UpdateUser(ctx context.Context, id int64, patch model.UserPatch) (model.PublicUser, bool, error) {
	updated, found, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		// The write may have committed before the failure surfaced.
		if !patch.IsEmpty() && !errors.Is(err, repository.ErrUnknownField) {
			s.forget(ctx, id)
		}
		if errors.Is(err, repository.ErrUniqueEmail) {
			s.metrics.IncDuplicateEmail()
			return model.PublicUser{}, false, ErrDuplicateEmail
		}
		return model.PublicUser{}, false, fmt.Errorf("update user: %w", err)
	}

	if !patch.IsEmpty() {
		s.forget(ctx, id)
		if found {
			s.metrics.IncUserUpdated()
		}
	}

	if !found {
		return model.PublicUser{}, false, nil
	}
	return updated.Public(), true, nil
}

// DeleteUser removes a user. Deleting a missing user succeeds.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.forget(ctx, id)
	s.metrics.IncUserDeleted()
	return nil
}

func (s *UserService) remember(ctx context.Context, view model.PublicUser, version int64) {
	stored, err := s.cache.SetUser(ctx, view, version)
	switch {
	case err != nil:
		s.logger.Warn("user cache write failed", "user_id", view.ID, "error", err)
	case !stored:
		s.logger.Debug("user cache write skipped after invalidation", "user_id", view.ID)
	}
}

func (s *UserService) forget(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteUser(ctx, id); err != nil {
		s.logger.Warn("user cache invalidation failed", "user_id", id, "error", err)
	}
}
