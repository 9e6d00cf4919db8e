package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/qrpass/internal/db"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	var owner any
	if rec.Owner != "" {
		owner = rec.Owner
	}
	var payloadHash any
	if len(rec.PayloadHash) == 32 {
		payloadHash = rec.PayloadHash
	}
	var actuated int
	if rec.Actuated {
		actuated = 1
	}
	var result any
	if rec.ActuatorResult != "" {
		result = rec.ActuatorResult
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  received_at_ms, decided_at_ms, outcome, owner_login,
  payload_hash, actuated, actuator_result
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.ReceivedAt.UTC().UnixMilli(), rec.DecidedAt.UTC().UnixMilli(),
			string(rec.Outcome), owner, payloadHash, actuated, result,
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}
