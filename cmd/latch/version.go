package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/latch"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of latch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("latch version %s\n", strings.TrimSpace(latch.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
