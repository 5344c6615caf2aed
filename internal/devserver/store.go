package devserver

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrEmailTaken    = errors.New("email is already registered")
	ErrUsernameTaken = errors.New("username is taken")
)

type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
}

// Token is a stored refresh or password-reset token.
type Token struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

// Store is the account storage behind the auth endpoints.
type Store interface {
	CreateUser(ctx context.Context, a *Account) error
	UserByEmail(ctx context.Context, email string) (*Account, error)
	UserByID(ctx context.Context, id string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateUsername(ctx context.Context, id, username string) error
	UpdatePassword(ctx context.Context, id, hash string) error

	SaveRefreshToken(ctx context.Context, t Token) error
	RefreshToken(ctx context.Context, value string) (Token, error)
	DeleteRefreshToken(ctx context.Context, value string) error
	DeleteRefreshTokens(ctx context.Context, userID string) error

	SaveResetToken(ctx context.Context, t Token) error
	// TakeResetToken returns the token and removes it, so each link works once.
	TakeResetToken(ctx context.Context, value string) (Token, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*Account
	refresh map[string]Token
	reset   map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*Account),
		refresh: make(map[string]Token),
		reset:   make(map[string]Token),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == a.Email {
			return ErrEmailTaken
		}
		if u.Username == a.Username {
			return ErrUsernameTaken
		}
	}
	cp := *a
	s.users[a.ID] = &cp
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateUsername(_ context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range s.users {
		if other.ID != id && other.Username == username {
			return ErrUsernameTaken
		}
	}
	u.Username = username
	return nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *MemoryStore) SaveRefreshToken(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[t.Value] = t
	return nil
}

func (s *MemoryStore) RefreshToken(_ context.Context, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) DeleteRefreshToken(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, value)
	return nil
}

func (s *MemoryStore) DeleteRefreshTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.refresh {
		if t.UserID == userID {
			delete(s.refresh, k)
		}
	}
	return nil
}

func (s *MemoryStore) SaveResetToken(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset[t.Value] = t
	return nil
}

func (s *MemoryStore) TakeResetToken(_ context.Context, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.reset[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	delete(s.reset, value)
	return t, nil
}
