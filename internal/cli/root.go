// Package cli implements the ragkit command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragkit/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ragkit",
	Short: "Hybrid retrieval knowledge base for LLM grounding",
	Long: `ragkit ingests documents into named collections, retrieves them with
hybrid vector + keyword search, and assembles token-budgeted context for
LLM question answering.

Example usage:
  ragkit add -c docs ./documents        # Ingest a directory
  ragkit query -c docs -q "how do sessions expire?"
  ragkit collections list`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			wd, werr := os.Getwd()
			if werr != nil {
				return fmt.Errorf("failed to get working directory: %w", werr)
			}
			cfg, err = config.LoadFromDir(wd)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ragkit.yaml)")
}
