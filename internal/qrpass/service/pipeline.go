package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/BrandonDHaskell/qrpass/internal/logging"
	"github.com/BrandonDHaskell/qrpass/internal/metrics"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/artifact"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

var (
	// ErrCaptureFailed is the only error detail a capture source ever sees.
	ErrCaptureFailed = errors.New("capture could not be evaluated")
	ErrEmptyCapture  = errors.New("capture is empty")
)

// Codec renders payloads to images and reads them back.
type Codec interface {
	Encode(payload string) ([]byte, error)
	Decode(r io.Reader) (string, error)
}

// Actuator sends one command to the door controller and waits for the
// acknowledgment.
type Actuator interface {
	Send(ctx context.Context, cmd actuator.Command) error
}

type PipelineConfig struct {
	CredentialTTL time.Duration // default 60s
	GeneratedTTL  time.Duration // default 60s
	// SingleUse clears a credential the first time it is accepted.
	SingleUse bool
	// DecodeWorkers bounds concurrent image decodes.  Defaults to 4.
	DecodeWorkers int
}

// Issued is a freshly bound credential and the image that carries it.
type Issued struct {
	Credential types.Credential
	Artifact   artifact.Artifact
}

// CaptureResult is the outcome of one submitted image.
type CaptureResult struct {
	Decision    types.AccessDecision
	Actuated    bool
	ActuatorErr error
}

// Granted reports whether the door was actually opened.
func (r CaptureResult) Granted() bool { return r.Decision.Accepted() && r.Actuated }

// Pipeline wires the issue and consume flows together.
type Pipeline struct {
	creds     *CredentialService
	evaluator *Evaluator
	codec     Codec
	artifacts *artifact.Lifecycle
	actuator  Actuator
	events    store.AccessEventStore
	logger    *log.Logger
	metrics   *metrics.Metrics

	credentialTTL time.Duration
	generatedTTL  time.Duration
	singleUse     bool
	decodeSlots   *semaphore.Weighted

	inflight sync.WaitGroup
}

type PipelineDeps struct {
	Credentials *CredentialService
	Evaluator   *Evaluator
	Codec       Codec
	Artifacts   *artifact.Lifecycle
	Actuator    Actuator
	Events      store.AccessEventStore
	Logger      *log.Logger
	Metrics     *metrics.Metrics // optional
}

func NewPipeline(d PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 60 * time.Second
	}
	if cfg.GeneratedTTL <= 0 {
		cfg.GeneratedTTL = 60 * time.Second
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = 4
	}
	return &Pipeline{
		creds:         d.Credentials,
		evaluator:     d.Evaluator,
		codec:         d.Codec,
		artifacts:     d.Artifacts,
		actuator:      d.Actuator,
		events:        d.Events,
		logger:        d.Logger,
		metrics:       d.Metrics,
		credentialTTL: cfg.CredentialTTL,
		generatedTTL:  cfg.GeneratedTTL,
		singleUse:     cfg.SingleUse,
		decodeSlots:   semaphore.NewWeighted(int64(cfg.DecodeWorkers)),
	}
}

// IssueCredential writes the QR image for a new payload, binds the payload
// to owner and schedules the image for deletion after GeneratedTTL.  The
// owner's previous credential is only replaced once the image exists.
func (p *Pipeline) IssueCredential(ctx context.Context, owner string) (Issued, error) {
	var (
		a       artifact.Artifact
		written bool
	)
	discard := func() {
		if written {
			p.artifacts.DeleteNow(a, artifact.ReasonAborted)
			written = false
		}
	}

	cred, err := p.creds.Issue(ctx, owner, p.credentialTTL, func(payload string) error {
		discard() // image of a payload that collided
		png, err := p.codec.Encode(payload)
		if err != nil {
			return err
		}
		a, err = p.artifacts.CreateGenerated(png)
		if err != nil {
			p.logger.Error("write generated artifact", "owner", owner, "err", err)
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		discard()
		return Issued{}, err
	}
	p.artifacts.ScheduleDeferredDelete(a, p.generatedTTL)

	return Issued{Credential: cred, Artifact: a}, nil
}

// SubmitCapturedImage stores data, then decodes, evaluates and actuates
// before returning.  The returned error, if any, is ErrEmptyCapture or
// wraps ErrCaptureFailed.
func (p *Pipeline) SubmitCapturedImage(ctx context.Context, data []byte) (CaptureResult, error) {
	a, received, err := p.ingest(data)
	if err != nil {
		return CaptureResult{}, err
	}
	return p.process(ctx, a, received)
}

// SubmitCapturedImageAsync stores data and returns once the artifact
// exists.  Evaluation and actuation continue in the background, detached
// from ctx cancellation; their result is logged.  Wait blocks until all
// such work is done.
func (p *Pipeline) SubmitCapturedImageAsync(ctx context.Context, data []byte) (artifact.Artifact, error) {
	a, received, err := p.ingest(data)
	if err != nil {
		return artifact.Artifact{}, err
	}

	bg := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		res, err := p.process(bg, a, received)
		if err != nil {
			p.logger.Error("background capture failed", "artifact", a.Name, "err", err)
			return
		}
		p.logger.Info("background capture done", "artifact", a.Name,
			"outcome", res.Decision.Outcome, "granted", res.Granted())
	}()
	return a, nil
}

// Wait blocks until every background capture has finished.
func (p *Pipeline) Wait() { p.inflight.Wait() }

// Door sends an administrative command to the controller.
func (p *Pipeline) Door(ctx context.Context, cmd actuator.Command) error {
	return p.actuator.Send(ctx, cmd)
}

func (p *Pipeline) ingest(data []byte) (artifact.Artifact, time.Time, error) {
	if len(data) == 0 {
		return artifact.Artifact{}, time.Time{}, ErrEmptyCapture
	}
	received := p.creds.Now()
	a, err := p.artifacts.CreateCaptured(data)
	if err != nil {
		p.logger.Error("write captured artifact", "err", err)
		return artifact.Artifact{}, time.Time{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return a, received, nil
}

func (p *Pipeline) process(ctx context.Context, a artifact.Artifact, received time.Time) (CaptureResult, error) {
	payload, decodeErr := p.decode(ctx, a)

	decision, err := p.evaluator.Evaluate(ctx, payload, decodeErr)
	if err != nil {
		p.logger.Error("capture evaluation failed", "artifact", a.Name, "err", err)
	}

	if decision.Outcome == types.OutcomeNoPayload {
		p.artifacts.DeleteNow(a, artifact.ReasonNoPayload)
	}

	if decision.Accepted() && p.singleUse {
		won, cerr := p.creds.Consume(ctx, decision.MatchedUser, payload)
		switch {
		case cerr != nil:
			p.logger.Error("consume credential", "owner", decision.MatchedUser, "err", cerr)
			decision = types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonError}
			err = cerr
		case !won:
			decision = types.AccessDecision{Outcome: types.OutcomeRejected, Reason: types.ReasonConsumed}
		}
	}

	res := CaptureResult{Decision: decision}
	if decision.Accepted() {
		res.ActuatorErr = p.actuator.Send(ctx, actuator.Open)
		res.Actuated = res.ActuatorErr == nil
	}

	p.logger.Info("capture evaluated",
		"artifact", a.Name,
		"outcome", decision.Outcome,
		"reason", decision.Reason,
		"owner", decision.MatchedUser,
		"payload", logging.Redact(payload),
		"actuated", res.Actuated,
	)
	if p.metrics != nil {
		p.metrics.ObserveDecision(string(decision.Outcome))
	}
	p.record(ctx, received, payload, res)

	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return res, nil
}

func (p *Pipeline) decode(ctx context.Context, a artifact.Artifact) (string, error) {
	if err := p.decodeSlots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.decodeSlots.Release(1)

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveDecode(time.Since(start))
		}
	}()

	rc, err := p.artifacts.Open(a)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return p.codec.Decode(rc)
}

func (p *Pipeline) record(ctx context.Context, received time.Time, payload string, res CaptureResult) {
	if p.events == nil {
		return
	}
	rec := store.AccessEventRecord{
		ReceivedAt: received,
		DecidedAt:  p.creds.Now(),
		Outcome:    res.Decision.Outcome,
		Owner:      res.Decision.MatchedUser,
		Actuated:   res.Actuated,
	}
	if payload != "" {
		sum := sha256.Sum256([]byte(payload))
		rec.PayloadHash = sum[:]
	}
	if res.Decision.Accepted() {
		rec.ActuatorResult = "ok"
		if res.ActuatorErr != nil {
			rec.ActuatorResult = res.ActuatorErr.Error()
		}
	}
	if err := p.events.RecordEvent(ctx, rec); err != nil {
		p.logger.Warn("record access event", "err", err)
	}
}
