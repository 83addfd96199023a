package model

import "time"

// User represents a user row in the database.
type User struct {
	ID                        string
	Email                     string
	PasswordHash              string
	Name                      *string
	Role                      string
	CurrentHashedRefreshToken *string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// HasActiveSession reports whether a refresh token hash is on record.
func (u *User) HasActiveSession() bool {
	return u.CurrentHashedRefreshToken != nil && *u.CurrentHashedRefreshToken != ""
}

// UserResponse represents user data safe for API responses (no password or refresh token hash).
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserResponse strips the stored secrets from a user.
func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries the refresh token being exchanged.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

// MeResponse wraps the current user.
type MeResponse struct {
	User UserResponse `json:"user"`
}

// CreateUserRequest is used by the operator CLI to provision accounts.
type CreateUserRequest struct {
	Email    string  `validate:"required,email"`
	Password string  `validate:"required,min=8"`
	Name     *string `validate:"omitempty,max=255"`
	Role     string  `validate:"omitempty,oneof=user admin"`
}
