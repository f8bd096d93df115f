package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/config"
	"github.com/hakim/scriptwatch/internal/logger"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scriptwatch",
	Short: "Verify tracking-script installation across many websites",
	Long: `ScriptWatch checks that a set of websites carry the expected tracking
script tags in the expected configuration.

Each site is first fetched with a plain HTTP request. Sites that cannot be
settled that way are opened in a real browser, with session warming, human
pacing and periodic browser restarts. Sites that repeatedly block automation
are quarantined and reported for manual checking instead of being retried.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		skipConfig := map[string]bool{
			"init":    true,
			"help":    true,
			"version": true,
		}
		if skipConfig[cmd.Name()] {
			return nil
		}

		loaded, err := config.Load(cfgFile)
		switch {
		case err == nil:
			cfg = loaded
		case cmd.Flags().Changed("config"):
			return fmt.Errorf("failed to load config: %w", err)
		default:
			cfg = config.DefaultConfig()
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		if err := logger.Init(logger.Options{
			Level:  level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
			Writer: os.Stderr,
		}); err != nil {
			fmt.Printf("[!] Warning: %v\n", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: search for scriptwatch.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
