package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Sweeper removes aged captured artifacts.
type Sweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// ArtifactSweeper periodically deletes captured images older than MaxAge.
// Captures without a readable code are deleted as soon as they are
// evaluated.  Every other capture, and anything left behind by a crash or a
// failed delete, is removed here.
type ArtifactSweeper struct {
	artifacts Sweeper
	maxAge    time.Duration
	interval  time.Duration
	logger    *log.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type SweeperConfig struct {
	// Interval is how often the sweep runs.  Defaults to 300s when zero;
	// negative disables.
	Interval time.Duration

	// MaxAge is the minimum age of a capture before it is swept.
	// Defaults to 30s.
	MaxAge time.Duration
}

// NewArtifactSweeper creates a sweeper but does not start it.
func NewArtifactSweeper(a Sweeper, cfg SweeperConfig, logger *log.Logger) *ArtifactSweeper {
	interval := cfg.Interval
	if interval == 0 {
		interval = 300 * time.Second
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &ArtifactSweeper{
		artifacts: a,
		maxAge:    maxAge,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate sweep, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (s *ArtifactSweeper) Start(ctx context.Context) {
	if s.interval < 0 {
		s.logger.Info("artifact sweeper disabled")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info("artifact sweeper started", "interval", s.interval, "max_age", s.maxAge)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (s *ArtifactSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// RunOnce performs a single sweep and reports how many files were removed.
func (s *ArtifactSweeper) RunOnce(ctx context.Context) int {
	n, err := s.artifacts.Sweep(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("artifact sweep error", "err", err)
		return n
	}
	if n > 0 {
		s.logger.Info("artifact sweep", "deleted", n, "max_age", s.maxAge)
	}
	return n
}

func (s *ArtifactSweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
