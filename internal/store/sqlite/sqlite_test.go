package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/store"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestCredentialLifecycle(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	if _, err := st.GetAccessToken(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := st.SetAccessToken(ctx, "access-1"); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if err := st.SetAccessToken(ctx, "access-2"); err != nil {
		t.Fatalf("overwrite access: %v", err)
	}
	if err := st.SetRefreshToken(ctx, "refresh-1"); err != nil {
		t.Fatalf("set refresh: %v", err)
	}
	if err := st.SetUser(ctx, model.User{ID: 42, Username: "a", Email: "a@example.com"}); err != nil {
		t.Fatalf("set user: %v", err)
	}

	access, err := st.GetAccessToken(ctx)
	if err != nil {
		t.Fatalf("get access: %v", err)
	}
	if access != "access-2" {
		t.Fatalf("expected overwritten access token, got %s", access)
	}
	user, err := st.GetUser(ctx)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ID != 42 || user.Email != "a@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}

	if err := st.ClearAuth(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	for name, get := range map[string]func(context.Context) (string, error){
		"access":  st.GetAccessToken,
		"refresh": st.GetRefreshToken,
	} {
		if _, err := get(ctx); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected %s cleared, got %v", name, err)
		}
	}
	if _, err := st.GetUser(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected user cleared, got %v", err)
	}
}

func TestSealedValuesAtRest(t *testing.T) {
	sealer, err := NewSealer(testKey)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := OpenSealed(path, sealer)
	if err != nil {
		t.Fatalf("open sealed: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	if err := st.SetRefreshToken(ctx, "refresh-secret"); err != nil {
		t.Fatalf("set refresh: %v", err)
	}

	var raw string
	row := st.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, keyRefreshToken)
	if err := row.Scan(&raw); err != nil {
		t.Fatalf("scan raw: %v", err)
	}
	if strings.Contains(raw, "refresh-secret") {
		t.Fatalf("expected sealed value, got plaintext %q", raw)
	}

	got, err := st.GetRefreshToken(ctx)
	if err != nil {
		t.Fatalf("get refresh: %v", err)
	}
	if got != "refresh-secret" {
		t.Fatalf("unexpected refresh token %q", got)
	}
}

func TestSealerRejectsWrongKey(t *testing.T) {
	if _, err := NewSealer("abcd"); err == nil {
		t.Fatalf("expected short key error")
	}

	a, _ := NewSealer(testKey)
	b, _ := NewSealer(strings.Repeat("ff", 32))
	sealed, err := a.Seal("value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatalf("expected decryption failure with wrong key")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()

	if err := applySchema(st.db); err != nil {
		t.Fatalf("reapply schema: %v", err)
	}
	var version int
	if err := st.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("read version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected version %d, got %d", len(migrations), version)
	}
}
