package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/BrandonDHaskell/qrpass/internal/config"
	"github.com/BrandonDHaskell/qrpass/internal/db"
	"github.com/BrandonDHaskell/qrpass/internal/grpcapi"
	"github.com/BrandonDHaskell/qrpass/internal/metrics"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/artifact"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/codec"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/service"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store/sqlite"
)

// app owns every long-lived handle.  Components receive what they need at
// construction; only Close releases the database.
type app struct {
	cfg    config.Config
	logger *log.Logger

	db     *sql.DB
	writer *db.Worker

	metrics   *metrics.Metrics
	artifacts *artifact.Lifecycle
	actuator  *actuator.Client
	health    *grpcapi.Server
	users     *service.UserService
	pipeline  *service.Pipeline
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{}); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("seed dev: %w", err)
		}
	}
	writer := db.NewWorker(sqlDB)

	m := metrics.New()
	health := grpcapi.NewServer(cfg.GRPCAddr, logger.WithPrefix("grpc"))

	artifacts, err := artifact.New(cfg.ArtifactDir, logger.WithPrefix("artifact"), artifact.Options{
		OnDelete: func(kind artifact.Kind, reason string) {
			m.ObserveArtifactDeleted(string(kind), reason)
		},
	})
	if err != nil {
		writer.Close()
		sqlDB.Close()
		return nil, err
	}

	act := actuator.NewClient(actuator.Config{
		Addr:    cfg.ActuatorAddr,
		Timeout: cfg.ActuatorTimeout(),
		Debug:   cfg.ActuatorDebug,
	}, logger.WithPrefix("actuator"))
	act.Observe(func(cmd actuator.Command, err error) {
		m.ObserveActuator(string(cmd), err)
		health.ObserveActuator(cmd, err)
	})
	if act.Debug() {
		health.SetActuatorServing(true)
	}

	userStore := sqlite.NewUserStore(sqlDB, writer)
	credStore := sqlite.NewCredentialStore(sqlDB, writer)

	creds := service.NewCredentialService(credStore, service.CredentialConfig{
		MaxAttempts: cfg.IssueMaxAttempts,
	}, logger, m)

	pipeline := service.NewPipeline(service.PipelineDeps{
		Credentials: creds,
		Evaluator:   service.NewEvaluator(credStore, nil),
		Codec:       codec.New(codec.Options{MaxPixels: cfg.MaxCapturePixels}),
		Artifacts:   artifacts,
		Actuator:    act,
		Events:      sqlite.NewAccessEventStore(sqlDB, writer),
		Logger:      logger,
		Metrics:     m,
	}, service.PipelineConfig{
		CredentialTTL: cfg.CredentialTTL(),
		GeneratedTTL:  cfg.GeneratedArtifactTTL(),
		SingleUse:     cfg.SingleUse,
		DecodeWorkers: cfg.DecodeWorkers,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        sqlDB,
		writer:    writer,
		metrics:   m,
		artifacts: artifacts,
		actuator:  act,
		health:    health,
		users:     service.NewUserService(userStore, 0, logger),
		pipeline:  pipeline,
	}, nil
}

func (a *app) sweeper() *service.ArtifactSweeper {
	return service.NewArtifactSweeper(a.artifacts, service.SweeperConfig{
		Interval: a.cfg.SweepInterval(),
		MaxAge:   a.cfg.SweepMaxAge(),
	}, a.logger.WithPrefix("sweep"))
}

// Close waits for background captures, removes generated codes that are
// still scheduled for deletion and closes the database.
func (a *app) Close() {
	a.pipeline.Wait()
	if n := a.artifacts.Flush(); n > 0 {
		a.logger.Info("flushed generated artifacts", "count", n)
	}
	a.writer.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close db", "err", err)
	}
}
