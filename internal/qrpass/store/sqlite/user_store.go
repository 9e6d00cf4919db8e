package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/qrpass/internal/db"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
)

type UserStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewUserStore(db *sql.DB, writer *dbpkg.Worker) *UserStore {
	return &UserStore{db: db, writer: writer}
}

// CreateUser inserts a user with no credential.  Returns ErrUserExists when
// the login is taken.
func (s *UserStore) CreateUser(ctx context.Context, rec store.UserRecord) error {
	login := strings.TrimSpace(rec.Login)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ms := rec.CreatedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users(login, password_hash, qr_code, life_time, created_at_ms, updated_at_ms)
VALUES (?, ?, NULL, NULL, ?, ?);
`, login, rec.PasswordHash, ms, ms); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("CreateUser %s: %w", login, store.ErrUserExists)
			}
			return fmt.Errorf("CreateUser insert: %w", err)
		}
		return nil
	})
}

func (s *UserStore) GetUser(ctx context.Context, login string) (store.UserRecord, error) {
	login = strings.TrimSpace(login)

	var (
		hash      string
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT password_hash, created_at_ms
FROM users
WHERE login = ?;
`, login).Scan(&hash, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.UserRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("GetUser query: %w", err)
	}

	return store.UserRecord{
		Login:        login,
		PasswordHash: hash,
		CreatedAt:    time.UnixMilli(createdMs).UTC(),
	}, nil
}
