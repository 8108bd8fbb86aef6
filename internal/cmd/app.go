package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/config"
	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/archive"
	"github.com/3leaps/hepgrid/pkg/artifact"
	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/output"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/provider"
	"github.com/3leaps/hepgrid/pkg/provider/file"
	"github.com/3leaps/hepgrid/pkg/provider/gfal"
	"github.com/3leaps/hepgrid/pkg/provider/minio"
	"github.com/3leaps/hepgrid/pkg/provider/s3"
	"github.com/3leaps/hepgrid/pkg/runs"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/scheduler/grid"
	"github.com/3leaps/hepgrid/pkg/scheduler/local"
	"github.com/3leaps/hepgrid/pkg/scheduler/wms"
	"github.com/3leaps/hepgrid/pkg/shell"
	"github.com/3leaps/hepgrid/pkg/status"
)

// app wires the components one command needs from the loaded config.
// Everything is built lazily and released by close.
type app struct {
	cfg    *config.Config
	kind   scheduler.Kind
	logger *zap.Logger
	runner shell.Runner
	prompt confirm.Prompt

	store    *jobstore.Store
	provider provider.Provider
	pipe     *pipeline.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	if cfg == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Configuration not loaded", fmt.Errorf("no config"))
	}
	kind, err := scheduler.ParseKind(cfg.Backend)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid backend", err)
	}
	logger := observability.CLILogger
	var prompt confirm.Prompt = confirm.NewTerminal(os.Stdin, os.Stderr)
	if assumeYes {
		prompt = confirm.PreAuthorized{}
	}
	return &app{
		cfg:    cfg,
		kind:   kind,
		logger: logger,
		runner: shell.NewExecRunner(cfg.RateLimit, logger),
		prompt: prompt,
	}, nil
}

func (a *app) close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *app) tables() map[scheduler.Kind]string {
	return map[scheduler.Kind]string{
		scheduler.KindGrid:  a.cfg.Table(scheduler.KindGrid),
		scheduler.KindWMS:   a.cfg.Table(scheduler.KindWMS),
		scheduler.KindLocal: a.cfg.Table(scheduler.KindLocal),
	}
}

func (a *app) jobStore(ctx context.Context) (*jobstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	tables := a.tables()
	st, err := jobstore.Open(ctx, jobstore.Config{
		Path:      a.cfg.Database.Path,
		URL:       a.cfg.Database.URL,
		AuthToken: a.cfg.Database.AuthToken,
		Tables:    []string{tables[scheduler.KindGrid], tables[scheduler.KindWMS], tables[scheduler.KindLocal]},
	})
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job database", err)
	}
	a.store = st
	return st, nil
}

// storageProvider builds the configured artifact backend.
func (a *app) storageProvider(ctx context.Context) (provider.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	sc := a.cfg.Storage
	var (
		p   provider.Provider
		err error
	)
	switch provider.ProviderType(sc.Provider) {
	case provider.ProviderFile:
		p, err = file.New(file.Config{BaseDir: sc.BaseDir})
	case provider.ProviderS3:
		p, err = s3.New(ctx, s3.Config{
			Bucket:          sc.Bucket,
			Prefix:          sc.Prefix,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			Profile:         sc.Profile,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			ForcePathStyle:  sc.ForcePathStyle,
		})
	case provider.ProviderMinio:
		p, err = minio.New(minio.Config{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKeyID,
			SecretKey: sc.SecretAccessKey,
			Region:    sc.Region,
			UseSSL:    sc.UseSSL,
			Bucket:    sc.Bucket,
			Prefix:    sc.Prefix,
		})
	case provider.ProviderGfal:
		p, err = gfal.New(gfal.Config{BaseURL: sc.GfalBase, TempDir: a.cfg.WorkDir}, a.runner)
	default:
		err = fmt.Errorf("unsupported storage provider %q", sc.Provider)
	}
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to configure storage provider", err)
	}
	a.provider = p
	return p, nil
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	if a.pipe != nil {
		return a.pipe, nil
	}
	p, err := a.storageProvider(ctx)
	if err != nil {
		return nil, err
	}
	program, err := pipeline.ParseProgram(a.cfg.Program)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid program", err)
	}
	pipe, err := pipeline.New(
		artifact.NewProviderStore(p, a.logger),
		archive.New(),
		pipeline.NewStateStore(a.cfg.StateDir),
		a.prompt,
		pipeline.Config{
			Naming:            pipeline.Naming{Program: program},
			Executable:        a.cfg.ExecutablePath(),
			WorkDir:           a.cfg.WorkDir,
			ProvidedWarmupDir: a.cfg.Warmup.ProvidedDir,
			FetchConcurrency:  a.cfg.Fetch.Concurrency,
		},
		a.logger,
	)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to build pipeline", err)
	}
	a.pipe = pipe
	return pipe, nil
}

// tracker returns the pipeline as lifecycle observer, or nil when storage
// is not usable. Record-only commands still work without it.
func (a *app) tracker(ctx context.Context) *pipeline.Pipeline {
	pipe, err := a.pipeline(ctx)
	if err != nil {
		a.logger.Debug("Pipeline tracking disabled", zap.Error(err))
		return nil
	}
	return pipe
}

func (a *app) adapter(ctx context.Context, kind scheduler.Kind) (scheduler.Adapter, error) {
	store, err := a.jobStore(ctx)
	if err != nil {
		return nil, err
	}
	table := a.cfg.Table(kind)
	var ad scheduler.Adapter
	switch kind {
	case scheduler.KindGrid:
		ad, err = grid.New(store, table, grid.Config{
			CE:            a.cfg.Grid.CE,
			JobDatabase:   a.cfg.Grid.JobDatabase,
			KillBatchSize: a.cfg.Grid.KillBatchSize,
			Memory:        a.cfg.Grid.Memory,
			WallTime:      a.cfg.Grid.WallTime,
			ScratchDir:    a.cfg.WorkDir,
		}, a.runner, a.prompt, a.logger)
	case scheduler.KindWMS:
		ad, err = wms.New(store, table, wms.Config{
			Owner:       a.cfg.WMS.Owner,
			Platform:    a.cfg.WMS.Platform,
			BannedSites: a.cfg.WMS.BannedSites,
		}, a.runner, a.prompt, a.logger)
	case scheduler.KindLocal:
		ad, err = local.New(store, table, local.Config{
			RunDir:    a.cfg.Local.RunDir,
			Partition: a.cfg.Local.Partition,
		}, a.runner, a.prompt, a.logger)
	default:
		err = fmt.Errorf("scheduler %s: %w", kind, scheduler.ErrUnsupported)
	}
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to build scheduler adapter", err)
	}
	return ad, nil
}

func (a *app) manager(ctx context.Context) (*runs.Manager, error) {
	ad, err := a.adapter(ctx, a.kind)
	if err != nil {
		return nil, err
	}
	opts := runs.Options{Logger: a.logger}
	if t := a.tracker(ctx); t != nil {
		opts.Tracker = t
	}
	m, err := runs.New(a.store, ad, opts)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to build run manager", err)
	}
	return m, nil
}

func (a *app) aggregator(ctx context.Context) (*status.Aggregator, error) {
	ad, err := a.adapter(ctx, a.kind)
	if err != nil {
		return nil, err
	}
	opts := status.Options{Concurrency: a.cfg.Stats.Concurrency, Logger: a.logger}
	if t := a.tracker(ctx); t != nil {
		opts.Observer = t
	}
	agg, err := status.New(a.store, ad, opts)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to build status aggregator", err)
	}
	return agg, nil
}

// warmupDir is where a retrieved warmup for rec lands.
func (a *app) warmupDir(rec jobstore.Record) string {
	base := rec.PathFolder
	if base == "" {
		base = a.cfg.Warmup.BaseDir
	}
	return filepath.Join(base, rec.RunFolder)
}

func (a *app) productionDir(rec jobstore.Record) string {
	base := rec.PathFolder
	if base == "" {
		base = a.cfg.Production.BaseDir
	}
	return filepath.Join(base, rec.RunFolder)
}

// jsonl returns a JSONL writer whose lines share one session id.
func (a *app) jsonl(w io.Writer) *output.JSONLWriter {
	return output.NewJSONLWriter(w, uuid.NewString(), string(a.kind))
}
