package pipeline

import (
	"github.com/shopspring/decimal"

	"guiascan/internal"
)

// ComputeStats derives the batch totals from the reconciled set. Guides
// with a mismatched competência stay out of the payable total; they do
// not belong to the current run.
func ComputeStats(guides []internal.ReconciledGuide) internal.BatchStats {
	stats := internal.BatchStats{Count: len(guides), TotalValue: decimal.Zero}

	for _, g := range guides {
		switch g.Status {
		case internal.StatusPeriodMismatch:
			stats.ErrorCount++
			continue
		case internal.StatusDuplicateInBatch:
			stats.WarningCount++
		}
		stats.TotalValue = stats.TotalValue.Add(g.Amount)
	}

	return stats
}

// StatsFromExportRows rebuilds the batch totals from persisted guide rows
// under the same exclusion rules as ComputeStats.
func StatsFromExportRows(rows []internal.GuideExportRow) internal.BatchStats {
	stats := internal.BatchStats{Count: len(rows), TotalValue: decimal.Zero}

	for _, r := range rows {
		switch internal.GuideStatus(r.Status) {
		case internal.StatusPeriodMismatch:
			stats.ErrorCount++
			continue
		case internal.StatusDuplicateInBatch:
			stats.WarningCount++
		}
		if amount, err := decimal.NewFromString(r.Amount); err == nil {
			stats.TotalValue = stats.TotalValue.Add(amount)
		}
	}

	return stats
}
