package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	sqlitestore "github.com/BrandonDHaskell/qrpass/internal/qrpass/store/sqlite"
)

func TestUserStore_CreateAndGet(t *testing.T) {
	conn := openTestDB(t)
	us := sqlitestore.NewUserStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := us.CreateUser(ctx, store.UserRecord{Login: "alice", PasswordHash: "$2a$hash", CreatedAt: created}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := us.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.PasswordHash != "$2a$hash" {
		t.Errorf("expected hash round-trip, got %q", got.PasswordHash)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at=%s, got %s", created, got.CreatedAt)
	}
}

func TestUserStore_CreateUser_Duplicate(t *testing.T) {
	conn := openTestDB(t)
	us := sqlitestore.NewUserStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := us.CreateUser(ctx, store.UserRecord{Login: "alice", PasswordHash: "h"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	err := us.CreateUser(ctx, store.UserRecord{Login: "alice", PasswordHash: "h2"})
	if !errors.Is(err, store.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestUserStore_GetUser_Missing(t *testing.T) {
	conn := openTestDB(t)
	us := sqlitestore.NewUserStore(conn, newTestWriter(t, conn))

	if _, err := us.GetUser(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
