// Package rules holds the tracking-script signature table and the pure
// evaluator that turns per-section script counts into a verdict.
package rules

import (
	"strings"

	"github.com/hakim/scriptwatch/internal/models"
)

// Signature maps a script path fragment to the configuration it identifies.
type Signature struct {
	Category models.Category `mapstructure:"category" yaml:"category"`
	Path     string          `mapstructure:"path" yaml:"path"`
}

// Table is the data-driven rule set shared by both tiers.
type Table struct {
	// Base is the prefix common to every variant. Its presence in markup
	// means the page loaded far enough to be judged.
	Base string

	// Signatures is ordered by precedence: SPA, DCOM, BUNDLE, STD.
	Signatures []Signature

	// Expected is the per-category body count that constitutes PASS.
	Expected map[models.Category]int

	// VendorExpected overrides the STD expectation for specific platforms.
	VendorExpected map[string]int
}

// DefaultTable returns the production signature set.
func DefaultTable() *Table {
	return &Table{
		Base: "idrove.it/behaviour",
		Signatures: []Signature{
			{Category: models.CategorySPA, Path: "idrove.it/behaviour.spa.js"},
			{Category: models.CategoryDCOM, Path: "idrove.it/behaviour.dcom.js"},
			{Category: models.CategoryBundle, Path: "idrove.it/behaviour.bundle.js"},
			{Category: models.CategorySTD, Path: "idrove.it/behaviour.js"},
		},
		Expected: map[models.Category]int{
			models.CategorySPA:    4,
			models.CategoryDCOM:   1,
			models.CategoryBundle: 2,
			models.CategorySTD:    2,
		},
		VendorExpected: map[string]int{
			"DealerOn":   1,
			"Dealer.com": 1,
		},
	}
}

// Classify returns the first signature whose path occurs in s.
// Used per script element, so precedence decides overlapping matches.
func (t *Table) Classify(s string) (models.Category, bool) {
	lower := strings.ToLower(s)
	for _, sig := range t.Signatures {
		if strings.Contains(lower, strings.ToLower(sig.Path)) {
			return sig.Category, true
		}
	}
	return "", false
}

// Match scans raw text for the first signature in precedence order, falling
// back to the base prefix, which maps to STD. It returns the matched path.
func (t *Table) Match(text string) (models.Category, string, bool) {
	lower := strings.ToLower(text)
	for _, sig := range t.Signatures {
		if strings.Contains(lower, strings.ToLower(sig.Path)) {
			return sig.Category, sig.Path, true
		}
	}
	if t.Base != "" && strings.Contains(lower, strings.ToLower(t.Base)) {
		return models.CategorySTD, t.Base, true
	}
	return "", "", false
}

// HasBase reports whether the base prefix occurs anywhere in markup.
func (t *Table) HasBase(markup string) bool {
	return t.Base != "" && strings.Contains(strings.ToLower(markup), strings.ToLower(t.Base))
}

// Section holds occurrence counts split by document section.
type Section struct {
	Head int
	Body int
}

// Total is Head + Body.
func (s Section) Total() int { return s.Head + s.Body }

// Counts is the per-category tally of matching script elements.
type Counts map[models.Category]Section

// Add records one occurrence of cat in the head or body.
func (c Counts) Add(cat models.Category, inHead bool) {
	s := c[cat]
	if inHead {
		s.Head++
	} else {
		s.Body++
	}
	c[cat] = s
}
