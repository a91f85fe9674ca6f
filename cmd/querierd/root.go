package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuafuller/querierd/internal/config"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querierd",
		Short: "IGMP querier daemon",
	}

	cfg, ifacesCSV := config.Register(root.PersistentFlags())

	root.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Finalize(*ifacesCSV); err != nil {
			return err
		}
		return runDaemon(cfg)
	}

	root.AddCommand(newRunCmd(cfg, ifacesCSV))
	root.AddCommand(newVersionCmd())

	return root
}

func newRunCmd(cfg *config.Config, ifacesCSV *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the querier daemon (default when no subcommand is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Finalize(*ifacesCSV); err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
			return nil
		},
	}
}
