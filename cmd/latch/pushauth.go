package main

import (
	"os"

	"github.com/aretw0/latch/internal/cli"
	"github.com/spf13/cobra"
)

var pushAuthCmd = &cobra.Command{
	Use:   "push-auth",
	Short: "Print realtime push channel credentials",
	Long:  `Derives the push channel client id, account id and password from the stored session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		reveal, _ := cmd.Flags().GetBool("reveal")
		return cli.PrintPushAuth(cmd.Context(), stack, os.Stdout, reveal)
	},
}

func init() {
	rootCmd.AddCommand(pushAuthCmd)
	pushAuthCmd.Flags().Bool("reveal", false, "Show the password instead of masking it")
}
