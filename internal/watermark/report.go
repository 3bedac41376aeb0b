package watermark

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/mlsdata/transfermkt-ingest/internal/catalog"
)

// SourceBreakdown aggregates completeness for one data source. Records
// sums only rows with a recorded count; rows that exist but were never
// counted contribute nothing rather than zero-padding the total.
type SourceBreakdown struct {
	Expected int   `json:"expected"`
	Complete int   `json:"complete"`
	Records  int   `json:"records"`
	Bytes    int64 `json:"bytes"`
}

// EntityBreakdown aggregates completeness for one club.
type EntityBreakdown struct {
	Expected int `json:"expected"`
	Complete int `json:"complete"`
}

// Report summarizes a date's ledger for display by callers.
type Report struct {
	Date                string                     `json:"date"`
	LedgerFound         bool                       `json:"ledger_found"`
	OverallCompleteness float64                    `json:"overall_completeness"`
	TotalExpected       int                        `json:"total_expected_files"`
	TotalComplete       int                        `json:"total_complete_files"`
	MissingFiles        int                        `json:"missing_files"`
	BySource            map[string]SourceBreakdown `json:"completeness_by_source,omitempty"`
	ByEntity            map[string]EntityBreakdown `json:"completeness_by_team,omitempty"`
	GeneratedAt         time.Time                  `json:"generated_at"`
}

// CompletenessReport computes aggregate completeness for date. When no
// snapshot exists it returns an explicit LedgerFound=false report rather
// than an error.
func (m *Manager) CompletenessReport(ctx context.Context, date string) (*Report, error) {
	report := &Report{
		Date:        date,
		GeneratedAt: m.clock.Now(),
	}

	snap, err := m.Load(ctx, date)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return report, nil
		}
		return nil, err
	}

	report.LedgerFound = true
	report.BySource = make(map[string]SourceBreakdown)
	report.ByEntity = make(map[string]EntityBreakdown)

	for _, e := range snap.Entries {
		report.TotalExpected++
		bySource := report.BySource[e.Source]
		bySource.Expected++
		if e.DataExists {
			report.TotalComplete++
			bySource.Complete++
			bySource.Bytes += e.FileSizeBytes
			if e.RecordCount != nil {
				bySource.Records += *e.RecordCount
			}
		}
		report.BySource[e.Source] = bySource

		if e.EntityID != catalog.EntityAll {
			byEntity := report.ByEntity[e.EntityID]
			byEntity.Expected++
			if e.DataExists {
				byEntity.Complete++
			}
			report.ByEntity[e.EntityID] = byEntity
		}
	}

	report.MissingFiles = report.TotalExpected - report.TotalComplete
	if report.TotalExpected > 0 {
		pct := float64(report.TotalComplete) / float64(report.TotalExpected) * 100
		report.OverallCompleteness = math.Round(pct*100) / 100
	}
	return report, nil
}
