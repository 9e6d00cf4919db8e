package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/qrpass/internal/grpcapi"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
)

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users who may request codes",
	}

	var password string
	add := &cobra.Command{
		Use:   "add <login>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("--password is required")
			}
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.users.Register(cmd.Context(), args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s added\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "login password")

	cmd.AddCommand(add)
	return cmd
}

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete aged captured images once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n := a.sweeper().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d captured artifacts\n", n)
			return nil
		},
	}
}

func newDoorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "door <open|enable|disable>",
		Short:     "Send one command to the door controller",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"open", "enable", "disable"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := actuator.ParseCommand(args[0])
			if err != nil {
				return err
			}
			client := actuator.NewClient(actuator.Config{
				Addr:    c.cfg.ActuatorAddr,
				Timeout: c.cfg.ActuatorTimeout(),
				Debug:   c.cfg.ActuatorDebug,
			}, c.logger)
			if err := client.Send(cmd.Context(), command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s acknowledged\n", command)
			return nil
		},
	}
}

func newHealthCmd(c *cli) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running server's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := grpcapi.Probe(cmd.Context(), c.cfg.GRPCAddr, service, 3*time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", grpcapi.ActuatorService, `health service name ("" for overall)`)
	return cmd
}
