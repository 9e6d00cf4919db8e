package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/qrpass/internal/config"
	"github.com/BrandonDHaskell/qrpass/internal/logging"
)

var version = "dev" // set by the linker

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

// cli is the state shared by every subcommand once PersistentPreRunE has
// loaded the configuration.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *log.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:          "qrpass-server",
		Short:        "Issue short-lived QR door credentials and open the door for them",
		SilenceUsage: true,
		Version:      version,
	}
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(c.cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c.cfg = cfg
		c.logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
		return nil
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default ./qrpass.yaml if present)")
	cmd.PersistentFlags().String("log-level", "info", `log level ("debug", "info", "warn", "error")`)
	cmd.PersistentFlags().String("db-path", "", "sqlite database path")
	cmd.PersistentFlags().String("actuator-addr", "", "door controller host:port")
	cmd.PersistentFlags().Bool("actuator-debug", false, "log door commands instead of sending them")

	cmd.AddCommand(
		newServeCmd(c),
		newUserCmd(c),
		newSweepCmd(c),
		newDoorCmd(c),
		newHealthCmd(c),
	)
	return cmd
}
