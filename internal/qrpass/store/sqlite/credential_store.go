package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	dbpkg "github.com/BrandonDHaskell/qrpass/internal/db"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

// CredentialStore keeps each user's credential inline on the users row
// (qr_code, issued_at_ms, life_time).  qr_code carries a UNIQUE constraint,
// so a payload can never resolve to two owners.
type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker) *CredentialStore {
	return &CredentialStore{db: db, writer: writer}
}

// Issue overwrites the owner's credential with a single UPDATE.  Concurrent
// issuances for one owner serialize in the writer; the last one wins.
func (s *CredentialStore) Issue(ctx context.Context, cred types.Credential) error {
	owner := strings.TrimSpace(cred.Owner)
	if owner == "" {
		return store.ErrUnknownOwner
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}
	issuedMs := cred.IssuedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE users
SET qr_code       = ?,
    issued_at_ms  = ?,
    life_time     = ?,
    updated_at_ms = ?
WHERE login = ?;
`, cred.Payload, issuedMs, cred.TTLSeconds, issuedMs, owner)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("Issue %s: %w", owner, store.ErrStorageConflict)
			}
			return fmt.Errorf("Issue update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Issue rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("Issue %s: %w", owner, store.ErrUnknownOwner)
		}
		return nil
	})
}

func (s *CredentialStore) Lookup(ctx context.Context, payload string) (types.Credential, error) {
	if payload == "" {
		return types.Credential{}, store.ErrNotFound
	}

	var (
		login    string
		issuedMs sql.NullInt64
		lifeTime sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT login, issued_at_ms, life_time
FROM users
WHERE qr_code = ?;
`, payload).Scan(&login, &issuedMs, &lifeTime)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return types.Credential{}, fmt.Errorf("Lookup query: %w", err)
	}

	return types.Credential{
		Payload:    payload,
		Owner:      login,
		IssuedAt:   time.UnixMilli(issuedMs.Int64).UTC(),
		TTLSeconds: int(lifeTime.Int64),
	}, nil
}

// Consume is a compare-and-clear on (login, qr_code).
func (s *CredentialStore) Consume(ctx context.Context, owner, payload string) (bool, error) {
	var cleared bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE users
SET qr_code = NULL,
    issued_at_ms = NULL,
    life_time = NULL,
    updated_at_ms = ?
WHERE login = ? AND qr_code = ?;
`, time.Now().UTC().UnixMilli(), owner, payload)
		if err != nil {
			return fmt.Errorf("Consume update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Consume rows affected: %w", err)
		}
		cleared = n == 1
		return nil
	})
	return cleared, err
}

// isUniqueViolation matches both extended and primary result codes; which one
// surfaces depends on whether the connection has extended codes enabled.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
