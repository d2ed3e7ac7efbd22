package memory

import (
	"context"
	"sync"

	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/store"
)

// Store keeps credentials for the lifetime of the process only.
type Store struct {
	mu      sync.RWMutex
	access  string
	refresh string
	user    *model.User
}

func New() *Store {
	return &Store{}
}

func (s *Store) GetAccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.access == "" {
		return "", store.ErrNotFound
	}
	return s.access, nil
}

func (s *Store) GetRefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.refresh == "" {
		return "", store.ErrNotFound
	}
	return s.refresh, nil
}

func (s *Store) GetUser(ctx context.Context) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, store.ErrNotFound
	}
	return *s.user, nil
}

func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = token
	return nil
}

func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
	return nil
}

func (s *Store) SetUser(ctx context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	return nil
}

func (s *Store) ClearAuth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	s.user = nil
	return nil
}
