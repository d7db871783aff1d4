package main

import (
	"os"

	"github.com/aretw0/latch/internal/cli"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage the stored session",
	Long:    `List, show and remove the values the last successful login persisted.`,
}

var credentialsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		return cli.ListCredentials(cmd.Context(), store, os.Stdout, reveal)
	},
}

var credentialsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		return cli.GetCredential(cmd.Context(), store, os.Stdout, args[0], reveal)
	},
}

var credentialsRmCmd = &cobra.Command{
	Use:   "rm [key]...",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return cmd.Usage()
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		return cli.RemoveCredentials(cmd.Context(), store, os.Stdout, args, all)
	},
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsLsCmd)
	credentialsCmd.AddCommand(credentialsGetCmd)
	credentialsCmd.AddCommand(credentialsRmCmd)

	credentialsCmd.PersistentFlags().Bool("reveal", false, "Show sensitive values instead of masking them")
	credentialsRmCmd.Flags().Bool("all", false, "Remove every stored credential")
}

func openStore(cmd *cobra.Command) (ports.CredentialStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, _, err := cli.OpenStore(cfg.Store)
	return store, err
}
