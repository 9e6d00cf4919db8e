package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type SeedDevOptions struct {
	// Users maps login to plaintext password.  Empty means alice/alice.
	Users map[string]string
}

// SeedDev creates local development users.  Existing users are left alone so
// their credentials survive restarts.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	users := opt.Users
	if len(users) == 0 {
		users = map[string]string{"alice": "alice"}
	}

	now := time.Now().UTC().UnixMilli()
	for login, password := range users {
		login = strings.TrimSpace(login)
		if login == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return fmt.Errorf("seed user %s: hash: %w", login, err)
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO users(login, password_hash, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?);`, login, string(hash), now, now); err != nil {
			return fmt.Errorf("seed user %s: %w", login, err)
		}
	}

	return nil
}
