package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "watch-tower",
		Short: "Cross-chain monitoring & alerts CLI (EVM + Algorand + Stellar)",
	}
)

func init() {
	cobra.EnableCommandSorting = false

	defaultCfgPath := "config"
	if v := os.Getenv("WATCH_TOWER_CONFIG"); v != "" {
		defaultCfgPath = v
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfgPath, "Path to the config directory (networks/, monitors/, triggers/), or $WATCH_TOWER_CONFIG")

	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		validateCmd,
		runCmd,
		stateCmd,
		exportCmd,
	)
}

// Execute runs the root command tree.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
