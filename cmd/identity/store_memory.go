package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for development and tests. Data is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]UserAuth
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]UserAuth),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}
	usernameNorm := NormalizeUsername(in.Username)
	emailNorm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Email is checked first, matching the order the API reports.
	if _, taken := s.byEmail[emailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	if _, taken := s.byUsername[usernameNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{ID: id, Username: in.Username, Email: in.Email, CreatedAt: in.Now}
	s.users[id] = UserAuth{User: u, PasswordHash: in.PasswordHash}
	s.byUsername[usernameNorm] = id
	s.byEmail[emailNorm] = id
	return u, nil
}

func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return ua.User, nil
}

var _ Store = (*MemoryStore)(nil)
