package store

import (
	"context"
	"errors"

	"github.com/alphabot-ai/threadline/internal/model"
)

var ErrNotFound = errors.New("not found")

// CredentialStore persists the session between runs. Getters return
// ErrNotFound for keys that were never set or have been cleared.
type CredentialStore interface {
	GetAccessToken(ctx context.Context) (string, error)
	GetRefreshToken(ctx context.Context) (string, error)
	GetUser(ctx context.Context) (model.User, error)
	SetAccessToken(ctx context.Context, token string) error
	SetRefreshToken(ctx context.Context, token string) error
	SetUser(ctx context.Context, user model.User) error
	// ClearAuth removes all three keys at once.
	ClearAuth(ctx context.Context) error
}
