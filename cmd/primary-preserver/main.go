// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the primary-preserver CLI.
// See docs/ARCHITECTURE § Pipeline Interface, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/primary-preserver/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API credentials loaded from .secrets/ at startup.
// Values are never logged; only key names appear in diagnostics.
var loadedSecrets map[string]string

// secretDefault returns fallback when set, otherwise the secret value for
// key if it exists.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the primary-preserver CLI.
var rootCmd = &cobra.Command{
	Use:   "primary-preserver",
	Short: "Archive scholarly primary documents with a verifiable provenance trail",
	Long: `primary-preserver archives the primary documents of a scholarly corpus:
it discovers candidate records in a bibliographic index, fetches the documents
from trusted hosts, verifies the payloads, and records every attempt in an
append-only provenance ledger.

Each stage is a subcommand: discover finds records missing from the master
catalog, preserve downloads and verifies candidate documents, and ledger
inspects or exports the provenance trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./primary-preserver.yaml or ~/.config/primary-preserver/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "human-readable debug logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("primary-preserver")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "primary-preserver"))
		}
	}

	viper.SetEnvPrefix("PRIMARY_PRESERVER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
