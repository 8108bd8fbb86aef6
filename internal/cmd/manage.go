package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/runs"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// recordAction is a manager method expression applied to one record id.
type recordAction func(m *runs.Manager, ctx context.Context, id int64) error

func newRecordCmd(use, short, long, done string, action recordAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordAction(cmd, args, done, action)
		},
	}
}

func runRecordAction(cmd *cobra.Command, args []string, done string, action recordAction) error {
	ctx := cmd.Context()
	ids := make([]int64, 0, len(args))
	for _, raw := range args {
		id, err := parseRecordID(raw)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid record id", err)
		}
		ids = append(ids, id)
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()
	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := action(mgr, ctx, id); err != nil {
			return actionError(err)
		}
		observability.CLILogger.Info(done, zap.Int64("record_id", id))
	}
	return nil
}

func actionError(err error) error {
	switch {
	case confirm.IsDeclined(err):
		return exitError(foundry.ExitInvalidArgument, "Aborted", err)
	case jobstore.IsNotFound(err):
		return exitError(foundry.ExitInvalidArgument, "No such record", err)
	case scheduler.IsUnavailable(err):
		return exitError(foundry.ExitExternalServiceUnavailable, "Scheduler unavailable", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, "Operation failed", err)
}

func init() {
	rootCmd.AddCommand(
		newRecordCmd("kill", "Cancel every job of a record",
			`Cancel the scheduler jobs of each record after confirmation and mark
the record as failed.`,
			"Killed", (*runs.Manager).Kill),
		newRecordCmd("clean", "Remove remote sandboxes and disable a record",
			`Remove the remote job sandboxes of each record after confirmation and
disable it. Backends without remote sandboxes only disable the record.`,
			"Cleaned", (*runs.Manager).Clean),
		newRecordCmd("disable", "Hide a record from default listings",
			`Mark records inactive. They stay in the database and are shown by
list --all.`,
			"Disabled", (*runs.Manager).Deactivate),
		newRecordCmd("enable", "Re-activate a disabled record",
			`Mark records active again.`,
			"Enabled", (*runs.Manager).Reactivate),
		newRecordCmd("renew", "Renew the delegated credential of a record's jobs",
			`Renew the proxy credential attached to the jobs of each record.
Only backends that delegate credentials support this.`,
			"Renewed", (*runs.Manager).RenewProxy),
	)
}
