package main

import (
	"os"

	"github.com/aretw0/latch/internal/cli"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in interactively",
	Long: `Runs the login handshake in the terminal, prompting for the password,
two-factor codes and checkpoint fields as the server asks for them.
The resulting session is written to the configured credential store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		opts := cli.LoginOptions{}
		if len(args) > 0 {
			opts.Username = args[0]
		}
		opts.Quiet, _ = cmd.Flags().GetBool("quiet")
		if passwordFile, _ := cmd.Flags().GetString("password-file"); passwordFile != "" {
			if opts.Password, err = cli.ReadSecretFile(passwordFile); err != nil {
				return err
			}
		}

		prompter := cli.NewTerminalPrompter(os.Stdin, os.Stderr)
		return cli.HandleExecutionError(cli.RunLogin(ctx, stack, prompter, os.Stdout, opts))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().String("password-file", "", "Read the password from a file instead of prompting")
	loginCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
