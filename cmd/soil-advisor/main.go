// AgSys Soil Advisor
// Main entry point for the offline soil advisor
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agsys/soil-advisor/internal/config"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand
type cli struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "soil-advisor",
		Short:         "AgSys Soil Advisor",
		Long:          "Offline soil advisor: records soil measurements, rates soil health, ranks crops and syncs with the cloud when a connection is available.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.InitLogger(cfg.Log); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			zap.L().Sync() //nolint:errcheck
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Configuration file path (default ./advisor.yaml or /etc/agsys/advisor.yaml)")

	root.AddCommand(
		c.newRecordCmd(),
		c.newCropsCmd(),
		c.newHistoryCmd(),
		c.newSyncCmd(),
		c.newListenCmd(),
		c.newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "AgSys Soil Advisor v%s\n", version)
			},
		},
	)
	return root
}
