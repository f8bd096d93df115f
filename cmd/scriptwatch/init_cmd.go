package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/config"
	"github.com/hakim/scriptwatch/internal/storage"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize scriptwatch with default configuration",
	Long: `Creates a default configuration file (scriptwatch.yaml), the data and
evidence directories, and the history database.

This is typically the first command you run when setting up scriptwatch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(initDir, "scriptwatch.yaml")

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("config file already exists at %s. Use --force to overwrite", configPath)
		}

		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("Created %s with default configuration\n", configPath)

		// Load the config we just created to get paths
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		for _, dir := range []string{cfg.DataDir, cfg.EvidenceDir} {
			if err := storage.EnsureDir(dir); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
			fmt.Printf("Created directory: %s\n", dir)
		}

		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		fmt.Printf("Initialized database: %s\n", cfg.DBPath)

		fmt.Println()
		fmt.Println("ScriptWatch initialized successfully!")
		fmt.Println("Run 'scriptwatch check' to verify your browser.")

		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "output directory")
	rootCmd.AddCommand(initCmd)
}
