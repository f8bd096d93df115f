// Package report renders batch results for operators: a markdown summary for
// reading and an XLSX workbook for sorting and sharing.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hakim/scriptwatch/internal/models"
)

// WriteBatchReport generates a markdown report for one batch and writes it to
// outputPath. quarantined lists the domains the block tracker currently holds.
func WriteBatchReport(meta *models.BatchMeta, results []models.ScanResult, quarantined []string, outputPath string) error {
	var b strings.Builder

	// Header
	b.WriteString("# Tracking Script Verification Report\n\n")
	b.WriteString(fmt.Sprintf("**Batch:** %s\n", meta.ID))
	b.WriteString(fmt.Sprintf("**Date:** %s\n", meta.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	if meta.Preset != "" {
		b.WriteString(fmt.Sprintf("**Preset:** %s\n", meta.Preset))
	}
	b.WriteString(fmt.Sprintf("**Status:** %s | **Processed:** %d of %d",
		meta.Status, meta.Processed, meta.Total))
	if meta.CompletedAt != nil {
		b.WriteString(fmt.Sprintf(" | **Elapsed:** %s", meta.CompletedAt.Sub(meta.StartedAt).Round(time.Second)))
	}
	b.WriteString("\n\n")

	writeSummaryTable(&b, results)
	writeAttention(&b, results)
	writeAllResults(&b, results)
	writeQuarantine(&b, quarantined)

	return writeFile(outputPath, b.String())
}

// ---------------------------------------------------------------------------
// Section writers
// ---------------------------------------------------------------------------

func writeSummaryTable(b *strings.Builder, results []models.ScanResult) {
	counts := CountByStatus(results)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Status | Count |\n")
	b.WriteString("|--------|-------|\n")
	for _, st := range models.Statuses {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", st, counts[st]))
	}
	b.WriteString("\n")
}

// writeAttention lists every result that is not a clean PASS, worst first.
func writeAttention(b *strings.Builder, results []models.ScanResult) {
	var flagged []models.ScanResult
	for _, r := range results {
		if r.Status != models.StatusPass {
			flagged = append(flagged, r)
		}
	}

	b.WriteString(fmt.Sprintf("## Needs Attention (%d)\n\n", len(flagged)))
	if len(flagged) == 0 {
		b.WriteString("None found.\n\n")
		return
	}

	sort.SliceStable(flagged, func(i, j int) bool {
		return severityRank(flagged[i].Status) < severityRank(flagged[j].Status)
	})

	b.WriteString("| Name | Status | Message | Vendor |\n")
	b.WriteString("|------|--------|---------|--------|\n")
	for _, r := range flagged {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			cell(r.DisplayName), r.Status, cell(r.Message), cell(r.Vendor)))
	}
	b.WriteString("\n")
}

func writeAllResults(b *strings.Builder, results []models.ScanResult) {
	b.WriteString("## All Results\n\n")
	if len(results) == 0 {
		b.WriteString("No results.\n\n")
		return
	}

	ordered := append([]models.ScanResult(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	b.WriteString("| # | Name | URL | Status | Category | Vendor | Method | Message |\n")
	b.WriteString("|---|------|-----|--------|----------|--------|--------|---------|\n")
	for _, r := range ordered {
		b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s | %s |\n",
			r.Position+1, cell(r.DisplayName), cell(r.TargetURL), r.Status, r.Category,
			cell(r.Vendor), r.Method, cell(r.Message)))
	}
	b.WriteString("\n")
}

func writeQuarantine(b *strings.Builder, domains []string) {
	b.WriteString("## Quarantined Domains\n\n")
	if len(domains) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	b.WriteString("These sites repeatedly blocked automation and need a manual check.\n\n")
	for _, d := range domains {
		b.WriteString(fmt.Sprintf("- %s\n", d))
	}
	b.WriteString("\n")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// CountByStatus tallies results per status.
func CountByStatus(results []models.ScanResult) map[models.Status]int {
	counts := make(map[models.Status]int, len(models.Statuses))
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

// severityRank orders statuses from most to least in need of a human.
func severityRank(s models.Status) int {
	switch s {
	case models.StatusFail:
		return 0
	case models.StatusUnverifiable:
		return 1
	case models.StatusBlocked:
		return 2
	case models.StatusError:
		return 3
	case models.StatusWarn:
		return 4
	default:
		return 5
	}
}

// cell makes s safe inside a markdown table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}
