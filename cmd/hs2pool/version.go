package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/hs2pool"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hs2pool",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hs2pool version %s\n", strings.TrimSpace(hs2pool.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
