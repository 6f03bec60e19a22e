package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"guiascan/internal"
)

// RowsFromReconciled shapes an in-memory batch for export, used by the
// one-shot scan path where nothing was persisted.
func RowsFromReconciled(guides []internal.ReconciledGuide) []internal.GuideExportRow {
	out := make([]internal.GuideExportRow, 0, len(guides))
	for _, g := range guides {
		out = append(out, internal.GuideExportRow{
			Page:                 g.PageNumber,
			RawIdentifier:        g.RawIdentifier,
			NormalizedIdentifier: g.NormalizedIdentifier,
			ClientID:             g.MatchedClientID,
			ClientName:           g.MatchedClientName,
			RawPeriod:            g.RawPeriod,
			PeriodKey:            g.PeriodKey,
			Amount:               g.Amount.String(),
			Status:               string(g.Status),
		})
	}
	return out
}

func ExportRowsToXLSX(rows []internal.GuideExportRow, stats internal.BatchStats, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{
		"page", "raw_identifier", "normalized_identifier",
		"client_id", "client_name",
		"raw_period", "period_key", "amount", "status", "artifact",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.Page)
		set(2, row.RawIdentifier)
		set(3, row.NormalizedIdentifier)
		set(4, derefInt(row.ClientID))
		set(5, derefString(row.ClientName))
		set(6, row.RawPeriod)
		set(7, row.PeriodKey)
		set(8, row.Amount)
		set(9, row.Status)
		set(10, derefString(row.ArtifactPath))
	}

	summaryRow := len(rows) + 3
	summary := [][2]any{
		{"guides", stats.Count},
		{"total_value", stats.TotalValue.String()},
		{"errors", stats.ErrorCount},
		{"warnings", stats.WarningCount},
	}
	for i, pair := range summary {
		labelCell, _ := excelize.CoordinatesToCellName(1, summaryRow+i)
		valueCell, _ := excelize.CoordinatesToCellName(2, summaryRow+i)
		_ = f.SetCellValue(sheet, labelCell, pair[0])
		_ = f.SetCellValue(sheet, valueCell, pair[1])
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
