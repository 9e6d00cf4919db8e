package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/qrpass/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers and the artifact sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address")
	cmd.Flags().String("grpc-addr", "", "gRPC health listen address")
	cmd.Flags().Bool("single-use", false, "clear a credential the first time it opens the door")
	cmd.Flags().Bool("capture-async", false, "answer captures before evaluation finishes")
	return cmd
}

func serve(ctx context.Context, c *cli) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:          c.logger.WithPrefix("http"),
		Addr:            c.cfg.HTTPAddr,
		Pipeline:        a.pipeline,
		Users:           a.users,
		Artifacts:       a.artifacts,
		Metrics:         a.metrics,
		PublicBaseURL:   c.cfg.PublicBaseURL,
		MaxCaptureBytes: c.cfg.MaxCaptureBytes,
		CaptureAsync:    c.cfg.CaptureAsync,
	})

	g, gctx := errgroup.WithContext(ctx)

	sweeper := a.sweeper()
	sweeper.Start(gctx)

	g.Go(func() error {
		c.logger.Info("listening", "addr", c.cfg.HTTPAddr, "env", c.cfg.Env,
			"single_use", c.cfg.SingleUse, "actuator_debug", c.cfg.ActuatorDebug)
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if c.cfg.GRPCAddr != "" {
		g.Go(a.health.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sweeper.Stop()
		err := errors.Join(srv.Shutdown(shutdownCtx), a.health.Shutdown(shutdownCtx))
		c.logger.Info("shut down")
		return err
	})

	return g.Wait()
}
