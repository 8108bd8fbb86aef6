package status

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Dashboard is the cross-record view over a set of records.
type Dashboard struct {
	Rows   []RecordResult  `json:"rows"`
	Counts jobstore.Counts `json:"counts"`

	// Total is the sum of the sub-job totals reported per record.
	Total int `json:"total"`
}

// Consistent reports whether the per-status tally covers every sub-job.
func (d Dashboard) Consistent() bool {
	return d.Counts.Total() == d.Total
}

// BuildDashboard folds record results into a dashboard.
func BuildDashboard(rows []RecordResult) Dashboard {
	d := Dashboard{Rows: rows}
	for _, r := range rows {
		d.Counts.Merge(r.Breakdown.Counts)
		d.Total += r.Breakdown.Total
	}
	return d
}

// StatsJob reconciles the given records (all active ones when ids is empty)
// and summarises them.
func (a *Aggregator) StatsJob(ctx context.Context, ids ...int64) (Dashboard, error) {
	rows, err := a.ReconcileAll(ctx, ids...)
	if err != nil {
		return BuildDashboard(rows), err
	}
	return BuildDashboard(rows), nil
}

// WriteTable prints one row per record followed by the totals and the sum
// check.
func (d Dashboard) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tRUNCARD\tRUNFOLDER\tTYPE\tSTATUS\tDONE\tWAITING\tRUNNING\tFAILED\tUNKNOWN\tTOTAL")
	for _, r := range d.Rows {
		c := r.Breakdown.Counts
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Record.ID, r.Record.Runcard, r.Record.RunFolder, r.Record.JobType, r.Status.Label(),
			c.Done, c.Waiting, c.Running, c.Fail, c.Unknown, r.Breakdown.Total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	c := d.Counts
	_, _ = fmt.Fprintf(w, "\n >> Total number of subjobs: %d\n", d.Total)
	_, _ = fmt.Fprintf(w, "    >> Done:    %d\n", c.Done)
	_, _ = fmt.Fprintf(w, "    >> Waiting: %d\n", c.Waiting)
	_, _ = fmt.Fprintf(w, "    >> Running: %d\n", c.Running)
	_, _ = fmt.Fprintf(w, "    >> Failed:  %d\n", c.Fail)
	_, _ = fmt.Fprintf(w, "    >> Unknown: %d\n", c.Unknown)
	_, _ = fmt.Fprintf(w, "    >> Sum      %d\n", c.Total())
	if !d.Consistent() {
		_, err := fmt.Fprintf(w, "    !! Sum does not match total (%d != %d)\n", c.Total(), d.Total)
		return err
	}
	return nil
}
