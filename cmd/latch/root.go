package main

import (
	"fmt"
	"os"

	"github.com/aretw0/latch/internal/cli"
	"github.com/aretw0/latch/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "latch",
	Short:         "latch drives the private mobile login handshake",
	Long:          `latch logs in through the mobile app's private protocol, handling two-factor and checkpoint challenges, and exposes the handshake over HTTP and MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "latch.yaml", "Config file (YAML or JSON); LATCH_* variables override it")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")
}

// loadConfig reads the config file named by --config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openStack builds the shared client stack from config and flags.
func openStack(cmd *cobra.Command) (*cli.Stack, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := cli.NewLogger(cfg.LogLevel, debug)
	if err != nil {
		return nil, err
	}
	return cli.NewStack(cmd.Context(), cfg, logger)
}
