// Package store defines the persistence ports for credentials, users and the
// access audit log.  Implementations live in store/sqlite and store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownOwner    = errors.New("unknown owner")
	ErrStorageConflict = errors.New("payload already bound to another owner")
	ErrUserExists      = errors.New("user already exists")
)

// CredentialStore holds the single active credential of each user.
type CredentialStore interface {
	// Issue replaces the owner's credential in one atomic write.  The
	// previous payload stops resolving the moment Issue returns.
	// Returns ErrUnknownOwner or ErrStorageConflict.
	Issue(ctx context.Context, cred types.Credential) error

	// Lookup resolves a payload to the one credential holding it, or
	// ErrNotFound.
	Lookup(ctx context.Context, payload string) (types.Credential, error)

	// Consume clears the owner's credential only if it still holds payload.
	// It reports whether this call did the clearing.
	Consume(ctx context.Context, owner, payload string) (bool, error)
}

type UserRecord struct {
	Login        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore is the identity side of the users table.
type UserStore interface {
	CreateUser(ctx context.Context, rec UserRecord) error
	GetUser(ctx context.Context, login string) (UserRecord, error)
}
