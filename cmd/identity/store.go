package identity

import (
	"context"
	"strings"
	"time"
)

// User is a registered huddle account.
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// UserAuth pairs a user with its stored password hash. It never leaves the auth layer.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration. PasswordHash is an encoded hash, never a plain password.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the identity persistence boundary.
//
// Username and email are unique after normalization; a clash is a ConflictError.
// Lookups of missing rows return a NotFoundError.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	GetUserByID(ctx context.Context, id string) (User, error)
}

// validateCreate trims the input and checks required fields. Shared by all stores.
func validateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.PasswordHash = strings.TrimSpace(in.PasswordHash)

	switch {
	case in.Username == "":
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	case in.Email == "":
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	case in.PasswordHash == "":
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
