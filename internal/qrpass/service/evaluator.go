package service

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/codec"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

// CredentialLookup is the read side of a CredentialStore.
type CredentialLookup interface {
	Lookup(ctx context.Context, payload string) (types.Credential, error)
}

// Evaluator turns a decode result into an access decision.  It has no side
// effects: it neither actuates nor deletes anything.
type Evaluator struct {
	creds CredentialLookup
	now   func() time.Time
}

func NewEvaluator(creds CredentialLookup, now func() time.Time) *Evaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{creds: creds, now: now}
}

// Evaluate decides on a single decode result.  decodeErr carrying
// codec.ErrNoPayload yields OutcomeNoPayload.  A lookup failure other than
// not-found is returned alongside a rejection so callers can log it.
func (e *Evaluator) Evaluate(ctx context.Context, payload string, decodeErr error) (types.AccessDecision, error) {
	if decodeErr != nil {
		if errors.Is(decodeErr, codec.ErrNoPayload) {
			return types.AccessDecision{Outcome: types.OutcomeNoPayload, Reason: types.ReasonNoCode}, nil
		}
		return types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonError}, decodeErr
	}
	if payload == "" {
		return types.AccessDecision{Outcome: types.OutcomeNoPayload, Reason: types.ReasonNoCode}, nil
	}

	cred, err := e.creds.Lookup(ctx, payload)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonNotFound}, nil
	case err != nil:
		return types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonError}, err
	}

	if cred.IsExpired(e.now()) {
		return types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonExpired}, nil
	}
	return types.AccessDecision{
		Outcome:     types.OutcomeAccepted,
		MatchedUser: cred.Owner,
		Reason:      types.ReasonMatched,
	}, nil
}
