// Package memory provides in-process implementations of the store ports for
// tests and debug runs.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

type userRow struct {
	rec  store.UserRecord
	cred *types.Credential
}

// Store mirrors the sqlite users table: identity and at most one credential
// per user, with a payload index standing in for the UNIQUE column.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*userRow
	byPayload map[string]string
}

func New() *Store {
	return &Store{
		users:     make(map[string]*userRow),
		byPayload: make(map[string]string),
	}
}

func (s *Store) CreateUser(_ context.Context, rec store.UserRecord) error {
	rec.Login = strings.TrimSpace(rec.Login)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.Login]; ok {
		return store.ErrUserExists
	}
	s.users[rec.Login] = &userRow{rec: rec}
	return nil
}

func (s *Store) GetUser(_ context.Context, login string) (store.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.users[strings.TrimSpace(login)]
	if !ok {
		return store.UserRecord{}, store.ErrNotFound
	}
	return row.rec, nil
}

func (s *Store) Issue(_ context.Context, cred types.Credential) error {
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.users[strings.TrimSpace(cred.Owner)]
	if !ok {
		return store.ErrUnknownOwner
	}
	if holder, taken := s.byPayload[cred.Payload]; taken && holder != row.rec.Login {
		return store.ErrStorageConflict
	}
	if row.cred != nil {
		delete(s.byPayload, row.cred.Payload)
	}
	c := cred
	c.Owner = row.rec.Login
	row.cred = &c
	s.byPayload[c.Payload] = c.Owner
	return nil
}

func (s *Store) Lookup(_ context.Context, payload string) (types.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.byPayload[payload]
	if !ok || payload == "" {
		return types.Credential{}, store.ErrNotFound
	}
	return *s.users[owner].cred, nil
}

func (s *Store) Consume(_ context.Context, owner, payload string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[owner]
	if !ok || row.cred == nil || row.cred.Payload != payload {
		return false, nil
	}
	delete(s.byPayload, payload)
	row.cred = nil
	return true, nil
}
