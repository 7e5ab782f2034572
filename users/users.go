// Package users holds account records read by the auth gate and written by
// the account endpoints.
package users

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("users: not found")

	// ErrExists is returned when an email is already registered.
	ErrExists = errors.New("users: already exists")
)

// User is a stored account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Picture      string
	Title        string
}

// Summary is the public listing form of a User.
type Summary struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Title string `json:"title"`
}

// Summary returns the fields safe to expose in listings.
func (u User) Summary() Summary {
	return Summary{ID: u.ID, Email: u.Email, Title: u.Title}
}

// Store persists users. Implementations must be safe for concurrent use and
// must return copies, never shared pointers into their own state.
type Store interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)

	// Create assigns the ID and returns the stored user.
	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, id int64) error

	// List returns all users ordered by ID.
	List(ctx context.Context) ([]User, error)
}
