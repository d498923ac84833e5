package service

import (
	"context"

	"github.com/userbase/userbase/internal/model"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/service_mocks.go -package=mock

// UserRepository is the persistence port used by UserService.
// Absence is reported through the boolean, never as an error.
type UserRepository interface {
	FindAll(ctx context.Context) ([]model.User, error)
	FindByID(ctx context.Context, id int64) (model.User, bool, error)
	FindByEmail(ctx context.Context, email string) (model.User, bool, error)
	Create(ctx context.Context, user model.User) (model.User, error)
	Update(ctx context.Context, id int64, patch model.UserPatch) (model.User, bool, error)
	Delete(ctx context.Context, id int64) error
}

// UserCache stores public views by id. DeleteUser advances the version of
// id, and SetUser stores only while the version still equals the one read
// through UserVersion.
type UserCache interface {
	GetUser(ctx context.Context, id int64) (model.PublicUser, bool, error)
	UserVersion(ctx context.Context, id int64) (int64, error)
	SetUser(ctx context.Context, user model.PublicUser, version int64) (bool, error)
	DeleteUser(ctx context.Context, id int64) error
}
