package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/hakim/scriptwatch/internal/diff"
	"github.com/hakim/scriptwatch/internal/models"
)

// WriteDiffReport renders the delta between two batches and writes it to
// outputPath.
func WriteDiffReport(previous, current *models.BatchMeta, result *diff.DiffResult, outputPath string) error {
	var b strings.Builder

	b.WriteString("# Batch Diff Report\n\n")
	b.WriteString(fmt.Sprintf("**Date:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Previous:** %s (%s)\n", previous.ID, previous.StartedAt.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("**Current:** %s (%s)\n\n", current.ID, current.StartedAt.UTC().Format("2006-01-02 15:04")))

	if result.Empty() {
		b.WriteString("No changes detected.\n")
		return writeFile(outputPath, b.String())
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Change | Sites |\n")
	b.WriteString("|--------|-------|\n")
	b.WriteString(fmt.Sprintf("| Regressions | %d |\n", len(result.Regressions)))
	b.WriteString(fmt.Sprintf("| Recoveries | %d |\n", len(result.Recoveries)))
	b.WriteString(fmt.Sprintf("| Other status changes | %d |\n", len(result.Changed)))
	b.WriteString(fmt.Sprintf("| Added | %d |\n", len(result.Added)))
	b.WriteString(fmt.Sprintf("| Removed | %d |\n", len(result.Removed)))
	b.WriteString(fmt.Sprintf("| Unchanged | %d |\n\n", result.Unchanged))

	writeChanges(&b, "Regressions", result.Regressions)
	writeChanges(&b, "Recoveries", result.Recoveries)
	writeChanges(&b, "Other Status Changes", result.Changed)
	writeSites(&b, "Added Sites", "+", result.Added)
	writeSites(&b, "Removed Sites", "-", result.Removed)

	return writeFile(outputPath, b.String())
}

// writeChanges renders one change section. Skipped when empty.
func writeChanges(b *strings.Builder, title string, changes []diff.Change) {
	if len(changes) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s (%d)\n\n", title, len(changes)))
	b.WriteString("| Site | Before | After | Message |\n")
	b.WriteString("|------|--------|-------|---------|\n")
	for _, c := range changes {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			cell(c.Domain), c.Previous.Status, c.Current.Status, cell(c.Current.Message)))
	}
	b.WriteString("\n")
}

// writeSites renders added or removed sites. Skipped when empty.
func writeSites(b *strings.Builder, title, sign string, results []models.ScanResult) {
	if len(results) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s (%s%d)\n\n", title, sign, len(results)))
	for _, r := range results {
		b.WriteString(fmt.Sprintf("- %s (%s)\n", r.TargetURL, r.Status))
	}
	b.WriteString("\n")
}
