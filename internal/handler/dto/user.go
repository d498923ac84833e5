// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"github.com/userbase/userbase/internal/model"
)

// CreateUserRequest represents the request body for creating a user.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
}

// ToInput converts the request to service input.
func (r CreateUserRequest) ToInput() model.CreateUserInput {
	return model.CreateUserInput{Name: r.Name, Email: r.Email}
}

// UpdateUserRequest represents the request body for a partial update.
// Absent and null fields are left unchanged.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitnil,min=2"`
	Email *string `json:"email,omitempty" validate:"omitnil,email"`
}

// ToPatch converts the request to the set of changes it carries.
func (r UpdateUserRequest) ToPatch() model.UserPatch {
	var patch model.UserPatch
	if r.Name != nil {
		patch = append(patch, model.SetName(*r.Name))
	}
	if r.Email != nil {
		patch = append(patch, model.SetEmail(*r.Email))
	}
	return patch
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ValidationErrorResponse carries a message per rejected field.
type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

// ToUserResponse converts a public user view to UserResponse DTO.
func ToUserResponse(user model.PublicUser) UserResponse {
	return UserResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	}
}

// ToUserListResponse converts public views to DTOs. The result is never nil.
func ToUserListResponse(users []model.PublicUser) []UserResponse {
	out := make([]UserResponse, len(users))
	for i, user := range users {
		out[i] = ToUserResponse(user)
	}
	return out
}
