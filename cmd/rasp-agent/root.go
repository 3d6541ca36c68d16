package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rasp-agent",
	Short: "Runtime application self-protection agent",
	Long: `rasp-agent intercepts sensitive operations of the application it
protects, asks the configured policy plugins for a verdict and replaces the
response with a block page when a request must be stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		setupLogger()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $RASP_CONFIG or ./rasp.yaml)")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return getEnv("RASP_CONFIG", config.DefaultPath)
}

func loadConfig() (*config.Config, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}
