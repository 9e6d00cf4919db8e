package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

// AccessEventRecord captures one consume-flow decision for the audit log.
type AccessEventRecord struct {
	ReceivedAt     time.Time
	DecidedAt      time.Time
	Outcome        types.Outcome
	Owner          string // empty unless a credential matched
	PayloadHash    []byte // SHA-256 of the decoded payload; nil when none
	Actuated       bool
	ActuatorResult string
}

// AccessEventStore persists access decisions as an append-only audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
}
