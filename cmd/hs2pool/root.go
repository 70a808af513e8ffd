package main

import (
	"fmt"
	"os"

	"github.com/aretw0/hs2pool/internal/cli"
	"github.com/aretw0/hs2pool/internal/config"
	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "hs2pool",
	Short:         "Inspect and administer pooled HiveServer2 sessions",
	Long:          `hs2pool manages the session records shared by every process that pools sessions through the same store.`,
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
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("owner", "", "Pool owner (user the sessions belong to)")
	rootCmd.PersistentFlags().String("app", "hive", "Pool application")
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func openRuntime(cmd *cobra.Command) (*cli.Runtime, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Build(cfg)
}

func poolKey(cmd *cobra.Command) (domain.PoolKey, error) {
	owner, _ := cmd.Flags().GetString("owner")
	app, _ := cmd.Flags().GetString("app")
	key := domain.PoolKey{Owner: owner, Application: app}
	if !key.Valid() {
		return key, fmt.Errorf("%w: --owner and --app are required", domain.ErrInvalidPoolKey)
	}
	return key, nil
}
