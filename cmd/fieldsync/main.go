// Package main is the entry point for the fieldsync CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/fieldsync/internal/config"
)

var (
	cfg        *config.Config
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Keep field engineers' schedules in sync with dispatch",
		Long: `fieldsync synchronizes field engineers' task schedules between a dispatch
authority and every device an engineer is logged in on. It enforces the task
lifecycle, pushes schedule changes to live sessions and forwards engineer
status changes back to dispatch.`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Config file (.toml or .yaml)")

	rootCmd.AddCommand(
		initCmd(),
		serveCmd(),
		scheduleCmd(),
		loadCmd(),
		purgeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultConfigPath is .fieldsync/fieldsync.toml in the working directory
func defaultConfigPath() string {
	if v := os.Getenv("FIELDSYNC_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(".fieldsync", "fieldsync.toml")
}
