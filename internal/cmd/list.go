package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List job records of the backend",
	Long: `List the job records stored for the selected backend. Inactive
(disabled) records are hidden unless --all is given. Statuses are the ones
last written by stats or watch; list never talks to the scheduler.

Examples:
  hepgrid list --backend wms
  hepgrid list --all --jobtype production --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("all", false, "Include disabled records")
	listCmd.Flags().String("jobtype", "", "Only records of this type (warmup, production)")
	listCmd.Flags().String("runcard", "", "Only records of this runcard")
	listCmd.Flags().Bool("json", false, "Output as JSON lines")
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	filter := jobstore.ListFilter{}
	filter.IncludeInactive, _ = cmd.Flags().GetBool("all")
	filter.Runcard, _ = cmd.Flags().GetString("runcard")
	if raw, _ := cmd.Flags().GetString("jobtype"); raw != "" {
		if filter.JobType, err = jobstore.ParseJobType(raw); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --jobtype", err)
		}
	}

	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}
	records, err := mgr.List(ctx, filter)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list records", err)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		w := a.jsonl(os.Stdout)
		defer func() { _ = w.Close() }()
		for i := range records {
			if err := w.WriteRecord(ctx, &records[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No records found")
		return nil
	}
	return writeRecordTable(os.Stdout, records)
}

func writeRecordTable(w io.Writer, records []jobstore.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tDATE\tRUNCARD\tRUNFOLDER\tTYPE\tSTATUS\tJOBS\tSEED\tACTIVE")
	for _, r := range records {
		active := "yes"
		if !r.Active {
			active = "no"
		}
		seed := "-"
		if r.JobType == jobstore.JobTypeProduction && r.Seed > 0 {
			seed = fmt.Sprintf("%d-%d", r.Seed, r.Seed+r.NoRuns-1)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Date.Format("2006-01-02 15:04"), r.Runcard, r.RunFolder,
			strings.ToLower(string(r.JobType)), r.Status.Label(), len(r.JobIDs), seed, active)
	}
	return tw.Flush()
}
