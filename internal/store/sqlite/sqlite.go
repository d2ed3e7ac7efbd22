package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/store"

	_ "modernc.org/sqlite"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUser         = "user"
)

type Store struct {
	db     *sql.DB
	sealer *Sealer
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenSealed opens the store so that every value is encrypted at rest with
// sealer. Values written without a sealer cannot be read back through it.
func OpenSealed(path string, sealer *Sealer) (*Store, error) {
	st, err := Open(path)
	if err != nil {
		return nil, err
	}
	st.sealer = sealer
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: credential key/value table
	`
CREATE TABLE IF NOT EXISTS credentials (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) GetAccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyAccessToken)
}

func (s *Store) GetRefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyRefreshToken)
}

func (s *Store) GetUser(ctx context.Context) (model.User, error) {
	raw, err := s.get(ctx, keyUser)
	if err != nil {
		return model.User{}, err
	}
	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return model.User{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, keyAccessToken, token)
}

func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, keyRefreshToken, token)
}

func (s *Store) SetUser(ctx context.Context, user model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.set(ctx, keyUser, string(raw))
}

func (s *Store) ClearAuth(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM credentials WHERE key IN (?, ?, ?)
`, keyAccessToken, keyRefreshToken, keyUser); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT value
FROM credentials
WHERE key = ?
`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	if s.sealer == nil {
		return value, nil
	}
	opened, err := s.sealer.Open(value)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	return opened, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		value = sealed
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, time.Now().Unix())
	return err
}
