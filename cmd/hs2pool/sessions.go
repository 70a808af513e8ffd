package main

import (
	"github.com/aretw0/hs2pool/internal/cli"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage pooled session records",
	Long:    `List, inspect, count and remove the session records of one pool key.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the sessions of a pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := poolKey(cmd)
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		return cli.ListSessions(cmd.Context(), rt, key, cmd.OutOrStdout(), asJSON)
	},
}

var sessionsInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show one session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := poolKey(cmd)
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return cli.InspectSession(cmd.Context(), rt, key, args[0], cmd.OutOrStdout())
	},
}

var sessionsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of active sessions of a pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := poolKey(cmd)
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return cli.CountSessions(cmd.Context(), rt, key, cmd.OutOrStdout())
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more session records",
	Long: `Removes session records so no call selects them again. The remote sessions
are left open unless --close is given, which needs a transport.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := poolKey(cmd)
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		closeRemote, _ := cmd.Flags().GetBool("close")
		return cli.RemoveSessions(cmd.Context(), rt, key, args, closeRemote, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsLsCmd, sessionsInspectCmd, sessionsCountCmd, sessionsRmCmd)
	sessionsLsCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	sessionsRmCmd.Flags().Bool("close", false, "Also close the remote session")
}
