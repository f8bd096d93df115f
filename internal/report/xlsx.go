package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/hakim/scriptwatch/internal/models"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

var resultColumns = []struct {
	title string
	width float64
}{
	{"#", 6},
	{"Name", 32},
	{"URL", 48},
	{"Reference", 14},
	{"Status", 15},
	{"Category", 10},
	{"Vendor", 22},
	{"Method", 14},
	{"Message", 60},
	{"Checked At", 22},
}

// statusFill is the background colour of the Status cell.
var statusFill = map[models.Status]string{
	models.StatusPass:         "#C6EFCE",
	models.StatusWarn:         "#FFEB9C",
	models.StatusFail:         "#FFC7CE",
	models.StatusBlocked:      "#F4B183",
	models.StatusUnverifiable: "#D9D2E9",
	models.StatusError:        "#D9D9D9",
}

// WriteWorkbook exports a batch to an XLSX file with a results sheet and a
// summary sheet.
func WriteWorkbook(meta *models.BatchMeta, results []models.ScanResult, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("report: naming sheet: %w", err)
	}
	if err := writeResultsSheet(f, results); err != nil {
		return err
	}
	if err := writeSummarySheet(f, meta, results); err != nil {
		return err
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("report: saving workbook to %s: %w", outputPath, err)
	}
	return nil
}

func writeResultsSheet(f *excelize.File, results []models.ScanResult) error {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("report: header style: %w", err)
	}

	fills := make(map[models.Status]int, len(statusFill))
	for st, colour := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{colour}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("report: status style: %w", err)
		}
		fills[st] = id
	}

	for i, c := range resultColumns {
		ref, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(resultsSheet, ref, c.title); err != nil {
			return fmt.Errorf("report: writing header: %w", err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(resultsSheet, col, col, c.width); err != nil {
			return fmt.Errorf("report: column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(resultColumns), 1)
	if err := f.SetCellStyle(resultsSheet, "A1", last, header); err != nil {
		return fmt.Errorf("report: styling header: %w", err)
	}

	ordered := append([]models.ScanResult(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	for i, r := range ordered {
		row := i + 2
		values := []any{
			r.Position + 1,
			r.DisplayName,
			r.TargetURL,
			r.Reference,
			string(r.Status),
			string(r.Category),
			r.Vendor,
			string(r.Method),
			r.Message,
			r.CheckedAt.Format("2006-01-02 15:04:05"),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(resultsSheet, start, &values); err != nil {
			return fmt.Errorf("report: writing row %d: %w", row, err)
		}
		if id, ok := fills[r.Status]; ok {
			ref, _ := excelize.CoordinatesToCellName(5, row)
			if err := f.SetCellStyle(resultsSheet, ref, ref, id); err != nil {
				return fmt.Errorf("report: styling status: %w", err)
			}
		}
	}

	if len(ordered) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(resultColumns), len(ordered)+1)
		if err := f.AutoFilter(resultsSheet, "A1:"+end, nil); err != nil {
			return fmt.Errorf("report: auto filter: %w", err)
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, meta *models.BatchMeta, results []models.ScanResult) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("report: creating summary sheet: %w", err)
	}

	rows := [][]any{
		{"Batch", meta.ID},
		{"Started", meta.StartedAt.Format("2006-01-02 15:04:05")},
		{"Status", string(meta.Status)},
		{"Processed", meta.Processed},
		{"Total", meta.Total},
		{},
		{"Status", "Count"},
	}
	counts := CountByStatus(results)
	for _, st := range models.Statuses {
		rows = append(rows, []any{string(st), counts[st]})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		ref, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, ref, &row); err != nil {
			return fmt.Errorf("report: writing summary: %w", err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 38)
}
