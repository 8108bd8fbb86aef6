package output

import (
	"context"
	"strings"
	"time"

	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/status"
)

// StatusFromResult builds the status payload of one reconciled record.
func StatusFromResult(res status.RecordResult) *StatusRecord {
	return &StatusRecord{
		ID:        res.Record.ID,
		Runcard:   res.Record.Runcard,
		RunFolder: res.Record.RunFolder,
		JobType:   strings.ToLower(string(res.Record.JobType)),
		Status:    res.Status.String(),
		Counts:    res.Breakdown.Counts,
		Total:     res.Breakdown.Total,
	}
}

// SummaryFromDashboard builds the closing payload of a sweep.
func SummaryFromDashboard(d status.Dashboard, elapsed time.Duration) *SummaryRecord {
	return &SummaryRecord{
		Records:       len(d.Rows),
		Counts:        d.Counts,
		Total:         d.Total,
		Consistent:    d.Consistent(),
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
}

// FetchFromSeed builds the payload for one fetched production seed.
func FetchFromSeed(r pipeline.SeedResult) *FetchRecord {
	f := &FetchRecord{
		Seed:    r.Seed,
		Archive: r.Archive,
		Missing: r.Missing,
		Logs:    r.Logs,
		Data:    r.Data,
	}
	if r.Err != nil {
		f.Error = r.Err.Error()
	}
	return f
}

// WriteDashboard streams one status line per row followed by the summary.
func WriteDashboard(ctx context.Context, w Writer, d status.Dashboard, elapsed time.Duration) error {
	for _, row := range d.Rows {
		if err := w.WriteStatus(ctx, StatusFromResult(row)); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, SummaryFromDashboard(d, elapsed))
}
