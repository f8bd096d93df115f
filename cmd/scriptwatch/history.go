package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/storage"
)

const separator = "────────────────────────────────────────────────────────────────────────"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past batches or the result history of one site",
	Long: `Without --domain, list recent batches newest-first with their status
counts. With --domain, list every stored result for that site, newest-first.

Use --limit to cap the number of rows shown (default: 10).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		domain, _ := cmd.Flags().GetString("domain")
		limit, _ := cmd.Flags().GetInt("limit")

		// Step 2: Open bbolt store
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if domain != "" {
			return printDomainHistory(store, domain, limit)
		}
		return printBatches(store, limit)
	},
}

func printBatches(store *storage.Store, limit int) error {
	batches, err := store.ListBatches(limit)
	if err != nil {
		return fmt.Errorf("listing batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("No batches recorded yet")
		return nil
	}

	fmt.Printf("\nBatch History\n")
	fmt.Println(separator)
	fmt.Printf("  %-3s  %-12s  %-17s  %-10s  %-9s  %s\n", "#", "Batch ID", "Started", "Status", "Processed", "Counts")
	fmt.Println(separator)
	for i, b := range batches {
		fmt.Printf("  %-3d  %-12s  %-17s  %-10s  %-9s  %s\n",
			i+1,
			shortID(b.ID),
			b.StartedAt.Local().Format("2006-01-02 15:04"),
			b.Status,
			fmt.Sprintf("%d/%d", b.Processed, b.Total),
			formatCounts(b.Counts))
	}
	fmt.Println(separator)
	fmt.Printf("Total: %d batch(es)\n\n", len(batches))
	return nil
}

func printDomainHistory(store *storage.Store, domain string, limit int) error {
	entries, err := store.DomainHistory(domain, limit)
	if err != nil {
		return fmt.Errorf("listing history for %s: %w", domain, err)
	}
	key := blocktrack.NormalizeDomain(domain)
	if len(entries) == 0 {
		fmt.Printf("No scan history found for %s\n", key)
		return nil
	}

	fmt.Printf("\nScan History for %s\n", key)
	fmt.Println(separator)
	for _, e := range entries {
		r := e.Result
		fmt.Printf("  %s  %s  %-10s  %s\n",
			r.CheckedAt.Local().Format("2006-01-02 15:04"),
			statusLabel(r.Status),
			r.Method,
			r.Message)
	}
	fmt.Println(separator)
	fmt.Printf("Total: %d result(s)\n\n", len(entries))
	return nil
}

// shortID returns the first 8 characters of a UUID followed by "..." for
// compact table display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// formatCounts renders non-zero status counts in report order.
func formatCounts(counts map[models.Status]int) string {
	out := ""
	for _, st := range models.Statuses {
		n := counts[st]
		if n == 0 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", st, n)
	}
	if out == "" {
		return "-"
	}
	return out
}

func init() {
	historyCmd.Flags().StringP("domain", "d", "", "Show results for one site (URL or domain)")
	historyCmd.Flags().Int("limit", 10, "Maximum number of rows to display")
	rootCmd.AddCommand(historyCmd)
}
