package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/diff"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/report"
	"github.com/hakim/scriptwatch/internal/storage"
)

var diffCmd = &cobra.Command{
	Use:   "diff [previous-batch] [current-batch]",
	Short: "Compare two batches",
	Long: `Show which sites changed status between two batches.

With no arguments the two most recent batches are compared. Batch IDs may be
given in full or as the 8-character prefix shown by 'scriptwatch history'.

Examples:
  scriptwatch diff
  scriptwatch diff 1f0c2a9e 7d41b3c2 -o changes.md`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		prevMeta, currMeta, err := pickBatches(store, args)
		if err != nil {
			return err
		}

		prev, err := store.BatchResults(prevMeta.ID)
		if err != nil {
			return fmt.Errorf("loading batch %s: %w", prevMeta.ID, err)
		}
		curr, err := store.BatchResults(currMeta.ID)
		if err != nil {
			return fmt.Errorf("loading batch %s: %w", currMeta.ID, err)
		}

		result := diff.Compare(prev, curr)
		fmt.Printf("[*] Comparing %s -> %s\n", shortID(prevMeta.ID), shortID(currMeta.ID))
		printDiff(result)

		if output != "" {
			if err := report.WriteDiffReport(prevMeta, currMeta, result, output); err != nil {
				return err
			}
			fmt.Printf("[+] Diff report written to %s\n", output)
		}
		return nil
	},
}

// pickBatches resolves the two batches to compare, oldest first.
func pickBatches(store *storage.Store, args []string) (*models.BatchMeta, *models.BatchMeta, error) {
	batches, err := store.ListBatches(0)
	if err != nil {
		return nil, nil, fmt.Errorf("listing batches: %w", err)
	}

	if len(args) == 0 {
		if len(batches) < 2 {
			return nil, nil, errors.New("need at least two batches to compare")
		}
		return batches[1], batches[0], nil
	}
	if len(args) == 1 {
		return nil, nil, errors.New("give both batch IDs, or none to compare the latest two")
	}

	prev, err := findBatch(batches, args[0])
	if err != nil {
		return nil, nil, err
	}
	curr, err := findBatch(batches, args[1])
	if err != nil {
		return nil, nil, err
	}
	return prev, curr, nil
}

func findBatch(batches []*models.BatchMeta, prefix string) (*models.BatchMeta, error) {
	prefix = strings.TrimSuffix(prefix, "...")
	var match *models.BatchMeta
	for _, b := range batches {
		if strings.HasPrefix(b.ID, prefix) {
			if match != nil {
				return nil, fmt.Errorf("batch prefix %q is ambiguous", prefix)
			}
			match = b
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no batch matches %q", prefix)
	}
	return match, nil
}

func printDiff(d *diff.DiffResult) {
	if d.Empty() {
		fmt.Printf("[+] No changes (%d site(s) unchanged)\n", d.Unchanged)
		return
	}
	for _, c := range d.Regressions {
		fmt.Printf("  [!] %-32s %s -> %s  %s\n", c.Domain, statusLabel(c.Previous.Status), statusLabel(c.Current.Status), c.Current.Message)
	}
	for _, c := range d.Recoveries {
		fmt.Printf("  [+] %-32s %s -> %s\n", c.Domain, statusLabel(c.Previous.Status), statusLabel(c.Current.Status))
	}
	for _, c := range d.Changed {
		fmt.Printf("  [*] %-32s %s -> %s\n", c.Domain, statusLabel(c.Previous.Status), statusLabel(c.Current.Status))
	}
	fmt.Printf("\nRegressions: %d | Recoveries: %d | Changed: %d | Added: %d | Removed: %d | Unchanged: %d\n",
		len(d.Regressions), len(d.Recoveries), len(d.Changed), len(d.Added), len(d.Removed), d.Unchanged)
}

func init() {
	diffCmd.Flags().StringP("output", "o", "", "Write a markdown diff report to this path")
	rootCmd.AddCommand(diffCmd)
}
