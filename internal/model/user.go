// Package model defines domain entities for the application.
package model

// PlaceholderPasswordHash is stored in place of a real credential.
// Password hashing is not implemented.
const PlaceholderPasswordHash = "a-real-app-would-hash-this"

// User is the full persisted user entity.
// It carries credential material and must not be returned to callers.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
}

// PublicUser is the externally safe projection of a User.
type PublicUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public strips credential material from the entity.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// CreateUserInput holds validated input for creating a user.
type CreateUserInput struct {
	Name  string
	Email string
}

// UserChange is a single field assignment in a partial update.
// The set of implementations is closed: only SetName and SetEmail exist.
type UserChange interface {
	userChange()
}

// SetName assigns a new name.
type SetName string

// SetEmail assigns a new email address.
type SetEmail string

func (SetName) userChange()  {}
func (SetEmail) userChange() {}

// UserPatch is an ordered list of changes. An empty patch changes nothing.
type UserPatch []UserChange

// IsEmpty reports whether the patch carries no changes.
func (p UserPatch) IsEmpty() bool {
	return len(p) == 0
}
