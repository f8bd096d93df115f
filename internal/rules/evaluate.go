package rules

import (
	"fmt"

	"github.com/hakim/scriptwatch/internal/models"
)

// Evaluate turns script counts and the detected vendor into a verdict.
//
// Precedence is fixed by the table order: the first category with any
// occurrence decides, and lower-precedence categories are ignored even when
// present. PASS requires the exact expected total with nothing in the head.
// Only STD honours the vendor override table.
func (t *Table) Evaluate(counts Counts, vendor string) models.Verdict {
	for _, sig := range t.Signatures {
		sec := counts[sig.Category]
		if sec.Total() == 0 {
			continue
		}

		expected := t.Expected[sig.Category]
		if sig.Category == models.CategorySTD {
			if n, ok := t.VendorExpected[vendor]; ok {
				return vendorVerdict(sec, n, vendor)
			}
		}

		v := models.Verdict{Category: sig.Category, Vendor: vendor}
		if sec.Total() == expected && sec.Head == 0 {
			v.Status = models.StatusPass
			v.Message = fmt.Sprintf("Perfect (Rule of %d)", expected)
		} else {
			v.Status = models.StatusWarn
			v.Message = fmt.Sprintf("Found %d (Expected %d)", sec.Total(), expected)
		}
		return v
	}

	return models.Verdict{
		Status:   models.StatusFail,
		Message:  "No scripts found",
		Category: models.CategoryNone,
		Vendor:   vendor,
	}
}

func vendorVerdict(sec Section, expected int, vendor string) models.Verdict {
	v := models.Verdict{Category: models.CategorySTD, Vendor: vendor}
	if sec.Total() == expected && sec.Head == 0 {
		v.Status = models.StatusPass
		v.Message = fmt.Sprintf("Perfect (%s Rule of %d)", vendor, expected)
	} else {
		v.Status = models.StatusWarn
		v.Message = fmt.Sprintf("Found %d (%s expects %d)", sec.Total(), vendor, expected)
	}
	return v
}
