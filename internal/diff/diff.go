// Package diff computes the delta between two batches. Results are matched by
// site domain so a re-ordered job list still compares cleanly.
package diff

import (
	"sort"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/models"
)

// Change is one site whose status moved between batches.
type Change struct {
	Domain   string            `json:"domain"`
	Previous models.ScanResult `json:"previous"`
	Current  models.ScanResult `json:"current"`
}

// DiffResult is the outcome of comparing a previous batch to a current one.
type DiffResult struct {
	// Regressions passed before and do not now.
	Regressions []Change `json:"regressions"`
	// Recoveries did not pass before and do now.
	Recoveries []Change `json:"recoveries"`
	// Changed moved between two non-passing statuses.
	Changed []Change `json:"changed"`

	Added   []models.ScanResult `json:"added"`
	Removed []models.ScanResult `json:"removed"`

	Unchanged int `json:"unchanged"`
}

// Empty reports whether nothing moved.
func (d *DiffResult) Empty() bool {
	return len(d.Regressions) == 0 && len(d.Recoveries) == 0 && len(d.Changed) == 0 &&
		len(d.Added) == 0 && len(d.Removed) == 0
}

// Compare matches results by domain. When a batch holds several results for
// one domain the last one wins.
func Compare(previous, current []models.ScanResult) *DiffResult {
	prev := index(previous)
	curr := index(current)
	out := &DiffResult{}

	for _, domain := range sortedKeys(curr) {
		c := curr[domain]
		p, ok := prev[domain]
		if !ok {
			out.Added = append(out.Added, c)
			continue
		}

		if p.Status == c.Status {
			out.Unchanged++
			continue
		}

		ch := Change{Domain: domain, Previous: p, Current: c}
		switch {
		case p.Status == models.StatusPass:
			out.Regressions = append(out.Regressions, ch)
		case c.Status == models.StatusPass:
			out.Recoveries = append(out.Recoveries, ch)
		default:
			out.Changed = append(out.Changed, ch)
		}
	}

	for _, domain := range sortedKeys(prev) {
		if _, ok := curr[domain]; !ok {
			out.Removed = append(out.Removed, prev[domain])
		}
	}

	return out
}

func index(results []models.ScanResult) map[string]models.ScanResult {
	m := make(map[string]models.ScanResult, len(results))
	for _, r := range results {
		m[blocktrack.NormalizeDomain(r.TargetURL)] = r
	}
	return m
}

func sortedKeys(m map[string]models.ScanResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
