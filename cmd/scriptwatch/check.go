package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/tools"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that a Chrome or Chromium binary is available",
	Long: `Locate the browser used for second-tier verification. When
browser.chrome_path is configured only that path is checked; otherwise the
usual install locations and PATH are searched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := tools.FindBrowser(context.Background(), cfg.Browser.ChromePath, tools.DefaultCandidates())

		if !res.Found {
			if res.Configured {
				fmt.Printf("[-] Configured browser not found: %s\n", cfg.Browser.ChromePath)
			} else {
				fmt.Println("[-] No Chrome or Chromium binary found")
			}
			fmt.Printf("    Install: %s\n", res.Hint)
			return errors.New("browser is missing")
		}

		fmt.Printf("[+] Browser: %s\n", res.Path)
		fmt.Printf("    Version: %s\n", res.Version)
		if !res.Configured {
			fmt.Println("    Set browser.chrome_path to pin this binary.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
