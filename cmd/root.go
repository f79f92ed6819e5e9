// Package cmd implements the twinalyzer command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gbabichev/Twinalyzer-sub001/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "twinalyzer",
	Short: "Find duplicate and near-duplicate images across folder trees",
	Long: `Twinalyzer scans selected folder trees for duplicate and near-duplicate
images and groups them into reference/match clusters with a similarity score.

Two detection pipelines are available: a fast local fingerprint method and a
higher-quality embedding method backed by an external embedding server.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig builds the effective configuration: env vars, then the optional
// config file on top.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
