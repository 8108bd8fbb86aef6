package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/hepgrid/internal/server"
	"github.com/3leaps/hepgrid/pkg/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve job records and pipeline state over HTTP",
	Long: `Start a read-only HTTP API over the job database and the pipeline
state directory.

Endpoints:
  GET /health, /healthz     health with a database check
  GET /version
  GET /runs?backend=&all=&jobtype=&runcard=
  GET /runs/{id}?backend=
  GET /runs/{id}/jobs?backend=
  GET /pipeline

Examples:
  hepgrid serve
  hepgrid serve --set server.port=9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.jobStore(ctx)
	if err != nil {
		return err
	}
	sc := a.cfg.Server
	srv := server.New(sc.Host, sc.Port, server.Options{
		Version:         versionInfo.Version,
		Store:           store,
		Tables:          a.tables(),
		Backend:         a.kind,
		States:          pipeline.NewStateStore(a.cfg.StateDir),
		Logger:          a.logger,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	})
	if p, err := a.storageProvider(ctx); err == nil {
		srv.Health().RegisterOptionalChecker("storage", storageChecker{p: p})
	}
	if err := srv.Run(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
