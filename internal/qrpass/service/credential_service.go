package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/BrandonDHaskell/qrpass/internal/logging"
	"github.com/BrandonDHaskell/qrpass/internal/metrics"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

var (
	ErrInvalidOwner = errors.New("owner is required")
	ErrInvalidTTL   = errors.New("ttl must be positive")
	// ErrCredentialCollision means every bounded attempt drew a payload that
	// another owner already holds.
	ErrCredentialCollision = errors.New("could not generate a unique credential")
)

const defaultIssueAttempts = 5

type CredentialConfig struct {
	// MaxAttempts bounds retries on payload collision.  Defaults to 5.
	MaxAttempts int
	Generate    PayloadGenerator
	Now         func() time.Time
}

// CredentialService issues and resolves credentials on top of a
// CredentialStore.
type CredentialService struct {
	store       store.CredentialStore
	generate    PayloadGenerator
	maxAttempts int
	now         func() time.Time
	logger      *log.Logger
	metrics     *metrics.Metrics
}

func NewCredentialService(st store.CredentialStore, cfg CredentialConfig, logger *log.Logger, m *metrics.Metrics) *CredentialService {
	gen := cfg.Generate
	if gen == nil {
		gen = defaultGenerator
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultIssueAttempts
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CredentialService{
		store:       st,
		generate:    gen,
		maxAttempts: attempts,
		now:         now,
		logger:      logger,
		metrics:     m,
	}
}

// RenderFunc runs against each candidate payload before it is persisted.
// An error aborts issuance without touching the store.
type RenderFunc func(payload string) error

// Issue generates a payload and binds it to owner, replacing any previous
// credential.  On ErrStorageConflict a fresh payload is drawn, up to
// MaxAttempts times.
func (s *CredentialService) Issue(ctx context.Context, owner string, ttl time.Duration, render RenderFunc) (types.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return types.Credential{}, ErrInvalidOwner
	}
	if ttl <= 0 {
		return types.Credential{}, ErrInvalidTTL
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		payload, err := s.generate()
		if err != nil {
			return types.Credential{}, err
		}
		if render != nil {
			if err := render(payload); err != nil {
				return types.Credential{}, err
			}
		}

		cred := types.Credential{
			Payload:    payload,
			Owner:      owner,
			IssuedAt:   s.now(),
			TTLSeconds: int(ttl / time.Second),
		}
		err = s.store.Issue(ctx, cred)
		switch {
		case err == nil:
			if s.metrics != nil {
				s.metrics.CredentialsIssued.Inc()
			}
			s.logger.Info("credential issued", "owner", owner, "payload", logging.Redact(payload), "ttl_s", cred.TTLSeconds)
			return cred, nil
		case errors.Is(err, store.ErrStorageConflict):
			if s.metrics != nil {
				s.metrics.IssueCollisions.Inc()
			}
			s.logger.Warn("payload collision, retrying", "owner", owner, "attempt", attempt)
			continue
		default:
			s.logger.Error("credential issue failed", "owner", owner, "err", err)
			return types.Credential{}, err
		}
	}

	s.logger.Error("credential issue exhausted attempts", "owner", owner, "attempts", s.maxAttempts)
	return types.Credential{}, fmt.Errorf("%w after %d attempts", ErrCredentialCollision, s.maxAttempts)
}

func (s *CredentialService) Lookup(ctx context.Context, payload string) (types.Credential, error) {
	return s.store.Lookup(ctx, payload)
}

// Consume clears owner's credential if it is still payload.
func (s *CredentialService) Consume(ctx context.Context, owner, payload string) (bool, error) {
	return s.store.Consume(ctx, owner, payload)
}

func (s *CredentialService) Now() time.Time { return s.now() }
