package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hakim/scriptwatch/internal/blocktrack"
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Inspect and reset the block tracker",
	Long: `Sites that block automation repeatedly are quarantined and skipped by
later batches. Use these commands to see which domains are affected and to
release a domain for re-testing.`,
}

var blocksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains with recent blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := openTracker(cfg)
		counts := tracker.Snapshot()

		quarantined := make(map[string]bool)
		for _, d := range tracker.ListQuarantined() {
			quarantined[d] = true
			if _, ok := counts[d]; !ok {
				counts[d] = 0
			}
		}

		if len(counts) == 0 {
			fmt.Println("No blocked domains.")
			return nil
		}

		domains := make([]string, 0, len(counts))
		for d := range counts {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Domain\tBlocks\tState")
		fmt.Fprintln(w, "------\t------\t-----")
		for _, d := range domains {
			state := "watching"
			if quarantined[d] {
				state = "QUARANTINED"
			}
			fmt.Fprintf(w, "%s\t%d/%d\t%s\n", d, counts[d], tracker.Threshold(), state)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d domain(s), %d quarantined\n", len(domains), len(quarantined))
		return nil
	},
}

var blocksResetCmd = &cobra.Command{
	Use:   "reset <url|domain>",
	Short: "Clear block history so a site is scanned again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := openTracker(cfg)
		found, err := tracker.Reset(args[0])
		if err != nil {
			return fmt.Errorf("resetting %s: %w", args[0], err)
		}
		domain := blocktrack.NormalizeDomain(args[0])
		if !found {
			fmt.Printf("[*] %s has no block history\n", domain)
			return nil
		}
		fmt.Printf("[+] %s reset; it will be scanned in the next batch\n", domain)
		return nil
	},
}

func init() {
	blocksCmd.AddCommand(blocksListCmd, blocksResetCmd)
	rootCmd.AddCommand(blocksCmd)
}
