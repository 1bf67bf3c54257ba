package main

import (
	"fmt"
	"os"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse - sign-in service with LDAP, remote user and two-factor support",
	Long: `Gatehouse authenticates users against a trusted proxy header, an LDAP
directory and a local password store, throttles repeated failures and
enforces TOTP two-factor authentication.

Run "gatehouse serve" to start the HTTP server. The other commands manage
users, settings and lockouts against the same database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger.Init(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_PATH"), "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(throttleCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
