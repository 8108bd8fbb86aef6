// Package pipeline stages warmup and production bundles and retrieves their
// results. Production depends on a completed warmup of the same
// (runcard, run folder) identity; the dependency is tracked by StateStore.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/archive"
	"github.com/3leaps/hepgrid/pkg/artifact"
	"github.com/3leaps/hepgrid/pkg/confirm"
)

// DefaultFetchConcurrency bounds parallel output downloads.
const DefaultFetchConcurrency = 15

// RunDefinition answers phase questions about one runcard.
type RunDefinition interface {
	IsWarmupActive() bool
	IsProductionActive() bool
	IsContinuation() bool
	WarmupArtifactBaseName() string
}

// Archiver packs and unpacks bundles. *archive.Service implements it.
type Archiver interface {
	Create(paths []string, archivePath string) error
	ListEntries(archivePath string) ([]archive.Entry, error)
	Extract(archivePath, destDir string, keep func(archive.Entry) bool) ([]string, error)
	ExtractBySuffix(archivePath, destDir string, suffixes []string) ([]string, error)
}

// Run is one runcard staged under one run folder.
type Run struct {
	Runcard     string
	RunFolder   string
	RuncardPath string
	Definition  RunDefinition
}

func (r Run) Identity() string { return identity(r.Runcard, r.RunFolder) }

func (r Run) validate() error {
	if r.Runcard == "" || r.RunFolder == "" {
		return &ValidationError{Runcard: r.Runcard, Reason: "runcard and run folder are required"}
	}
	if r.Definition == nil {
		return &ValidationError{Runcard: r.Runcard, Reason: "run definition is required"}
	}
	if _, err := os.Stat(r.RuncardPath); err != nil {
		return &ValidationError{Runcard: r.Runcard, Reason: fmt.Sprintf("runcard file: %v", err)}
	}
	return nil
}

type Config struct {
	Naming Naming

	// Executable is the full path of the program binary packed into every
	// bundle.
	Executable string

	// WorkDir is the parent for temporary staging directories.
	WorkDir string

	// ProvidedWarmupDir is the configured fallback warmup location used by
	// production staging in place of a download.
	ProvidedWarmupDir string

	FetchConcurrency int
}

// Pipeline drives staging and retrieval for one program.
type Pipeline struct {
	store   artifact.Store
	archive Archiver
	states  *StateStore
	prompt  confirm.Prompt
	cfg     Config
	logger  *zap.Logger
}

func New(store artifact.Store, arch Archiver, states *StateStore, prompt confirm.Prompt, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if arch == nil {
		return nil, fmt.Errorf("archiver is required")
	}
	if states == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if prompt == nil {
		return nil, fmt.Errorf("confirmation prompt is required")
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.Naming.Program == "" {
		cfg.Naming.Program = ProgramNNLOJET
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, archive: arch, states: states, prompt: prompt, cfg: cfg, logger: logger}, nil
}

func (p *Pipeline) Naming() Naming { return p.cfg.Naming }

func (p *Pipeline) States() *StateStore { return p.states }

// StageOptions tune StageWarmup and StageProduction.
type StageOptions struct {
	// ProvidedWarmup is a file or directory holding a warmup grid to pack
	// instead of downloading one.
	ProvidedWarmup string

	// Continue stages a continuation warmup.
	Continue bool

	// OverwriteWarmup packs an existing remote warmup into a new warmup
	// bundle.
	OverwriteWarmup bool

	// Reset discards the stored lifecycle before staging.
	Reset bool
}

// StageWarmup packs {executable, runcard, optional warmup grid}, replaces
// any existing input bundle of the same name and records WarmupStaged.
func (p *Pipeline) StageWarmup(ctx context.Context, run Run, opts StageOptions) error {
	if err := run.validate(); err != nil {
		return err
	}
	def := run.Definition
	if err := p.softCheck(ctx, run, def.IsWarmupActive(), "Warmup is not active in runcard"); err != nil {
		return err
	}
	if opts.Continue {
		if err := p.softCheck(ctx, run, def.IsContinuation(), "Continue warmup is not active in runcard"); err != nil {
			return err
		}
	}
	if err := p.softCheck(ctx, run, !def.IsProductionActive(), "Production is active in runcard"); err != nil {
		return err
	}
	if err := p.checkExecutable(run); err != nil {
		return err
	}
	if err := p.prepareState(run, opts.Reset, StateWarmupStaged); err != nil {
		return err
	}

	ws, err := p.workspace()
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(ws) }()

	files := []string{p.cfg.Executable, run.RuncardPath}
	if opts.ProvidedWarmup != "" {
		match, err := ResolveLocalWarmup(def.WarmupArtifactBaseName(), opts.ProvidedWarmup)
		if err != nil {
			return err
		}
		files = append(files, match)
	}
	if opts.OverwriteWarmup {
		name := p.cfg.Naming.WarmupArchive(run.Runcard, run.RunFolder)
		exists, err := p.store.Exists(ctx, name, artifact.DirWarmup)
		if err != nil {
			return err
		}
		if exists {
			p.logger.Info("Warmup found in remote storage", zap.String("archive", name))
			fetched, err := p.fetchWarmup(ctx, run.Runcard, run.RunFolder, ws, true)
			if err != nil {
				return err
			}
			files = append(files, fetched.Files()...)
		}
	}

	if err := p.packAndShip(ctx, run, ws, files); err != nil {
		return err
	}
	_, err = p.states.Transition(run.Runcard, run.RunFolder, StateWarmupStaged, "warmup staged")
	return err
}

// StageProduction resolves the warmup grid, packs it with the executable
// and runcard, replaces any existing input bundle and records
// ProductionStaged.
//
// The warmup comes from, in order: opts.ProvidedWarmup, the configured
// fallback directory, or the remote warmup directory. The first two bypass
// the dependency check. A remote warmup is only used once the identity has
// reached WarmupComplete, or adopted when no lifecycle is recorded at all.
// A production that was already submitted may be re-staged for a new batch.
func (p *Pipeline) StageProduction(ctx context.Context, run Run, opts StageOptions) error {
	if err := run.validate(); err != nil {
		return err
	}
	def := run.Definition
	if err := p.softCheck(ctx, run, !def.IsWarmupActive(), "Warmup is active in runcard"); err != nil {
		return err
	}
	if err := p.softCheck(ctx, run, def.IsProductionActive(), "Production is not active in runcard"); err != nil {
		return err
	}
	if err := p.checkExecutable(run); err != nil {
		return err
	}
	if opts.Reset {
		if err := p.states.Reset(run.Runcard, run.RunFolder); err != nil {
			return err
		}
	}

	st, err := p.states.Load(run.Runcard, run.RunFolder)
	if err != nil {
		return err
	}
	if st.State.Terminal() {
		return &TransitionError{Identity: run.Identity(), From: st.State, To: StateProductionStaged}
	}

	override := opts.ProvidedWarmup
	if override == "" {
		override = p.cfg.ProvidedWarmupDir
	}

	ws, err := p.workspace()
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(ws) }()

	files := []string{p.cfg.Executable, run.RuncardPath}
	if override != "" {
		match, err := ResolveLocalWarmup(def.WarmupArtifactBaseName(), override)
		if err != nil {
			return err
		}
		p.logger.Info("Using provided warmup", zap.String("path", match))
		files = append(files, match)
	} else {
		adopt := false
		switch st.State {
		case StateWarmupComplete, StateProductionStaged, StateProductionSubmitted:
		case StateUninitialized:
			name := p.cfg.Naming.WarmupArchive(run.Runcard, run.RunFolder)
			exists, err := p.store.Exists(ctx, name, artifact.DirWarmup)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s: no completed warmup and no warmup provided", ErrDependency, run.Identity())
			}
			adopt = true
		default:
			return fmt.Errorf("%w: %s: warmup is %s", ErrDependency, run.Identity(), st.State)
		}

		p.logger.Info("Retrieving warmup from remote storage", zap.String("identity", run.Identity()))
		fetched, err := p.fetchWarmup(ctx, run.Runcard, run.RunFolder, ws, true)
		if err != nil {
			return err
		}
		files = append(files, fetched.Files()...)
		if adopt {
			if _, err := p.states.Force(run.Runcard, run.RunFolder, StateWarmupComplete, "adopted remote warmup "+fetched.Source); err != nil {
				return err
			}
		}
	}

	if err := p.packAndShip(ctx, run, ws, files); err != nil {
		return err
	}
	if override != "" {
		_, err = p.states.Force(run.Runcard, run.RunFolder, StateProductionStaged, "explicit warmup override")
		return err
	}
	_, err = p.states.Transition(run.Runcard, run.RunFolder, StateProductionStaged, "production staged")
	return err
}

// prepareState checks the identity can enter `to`, resetting first when
// asked.
func (p *Pipeline) prepareState(run Run, reset bool, to State) error {
	if reset {
		if err := p.states.Reset(run.Runcard, run.RunFolder); err != nil {
			return err
		}
	}
	st, err := p.states.Load(run.Runcard, run.RunFolder)
	if err != nil {
		return err
	}
	if !CanTransition(st.State, to) {
		return &TransitionError{Identity: run.Identity(), From: st.State, To: to}
	}
	return nil
}

func (p *Pipeline) packAndShip(ctx context.Context, run Run, ws string, files []string) error {
	name := p.cfg.Naming.InputArchive(run.Runcard, run.RunFolder)
	local := filepath.Join(ws, name)
	if err := p.archive.Create(files, local); err != nil {
		return fmt.Errorf("pack %s: %w", name, err)
	}

	exists, err := p.store.Exists(ctx, name, artifact.DirInput)
	if err != nil {
		return err
	}
	if exists {
		if err := p.prompt.Confirm(ctx, fmt.Sprintf("Remove old version of %s from remote %s?", name, artifact.DirInput)); err != nil {
			return err
		}
		p.logger.Info("Removing old version from remote storage", zap.String("archive", name))
		if err := p.store.Delete(ctx, name, artifact.DirInput); err != nil {
			return err
		}
	}
	p.logger.Info("Sending bundle to remote storage", zap.String("archive", name), zap.String("dir", artifact.DirInput.String()))
	return p.store.Put(ctx, local, artifact.DirInput)
}

// softCheck asks the prompt to continue when ok is false. A declined
// prompt is a ValidationError.
func (p *Pipeline) softCheck(ctx context.Context, run Run, ok bool, reason string) error {
	if ok {
		return nil
	}
	err := p.prompt.Confirm(ctx, fmt.Sprintf("%s (%s). Continue?", reason, run.Runcard))
	if err == nil {
		p.logger.Warn("Continuing despite runcard check", zap.String("runcard", run.Runcard), zap.String("reason", reason))
		return nil
	}
	if confirm.IsDeclined(err) {
		return &ValidationError{Runcard: run.Runcard, Reason: reason}
	}
	return err
}

func (p *Pipeline) checkExecutable(run Run) error {
	st, err := os.Stat(p.cfg.Executable)
	if err != nil || st.IsDir() {
		return &ValidationError{Runcard: run.Runcard, Reason: fmt.Sprintf("could not find executable at %s", p.cfg.Executable)}
	}
	return nil
}

func (p *Pipeline) workspace() (string, error) {
	parent := p.cfg.WorkDir
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	dir := filepath.Join(parent, "hepgrid-stage-"+uuid.NewString())
	return dir, os.MkdirAll(dir, 0o755)
}

// ResolveLocalWarmup finds the warmup grid to pack. A file path is used
// as-is. A directory must hold exactly one file whose lower-cased name
// starts with baseName and does not end in .txt or .log.
func ResolveLocalWarmup(baseName, provided string) (string, error) {
	st, err := os.Stat(provided)
	if err != nil {
		return "", fmt.Errorf("%w: provided warmup: %v", ErrDependency, err)
	}
	if !st.IsDir() {
		return provided, nil
	}
	entries, err := os.ReadDir(provided)
	if err != nil {
		return "", err
	}
	base := strings.ToLower(baseName)
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(strings.ToLower(name), base) {
			continue
		}
		if strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".log") {
			continue
		}
		matches = append(matches, name)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no warmup matches for %q in %s", ErrDependency, baseName, provided)
	case 1:
		return filepath.Join(provided, matches[0]), nil
	}
	return "", &ValidationError{Runcard: baseName, Reason: fmt.Sprintf("multiple warmup matches in %s: %s", provided, strings.Join(matches, " "))}
}

var errArtifactMissing = errors.New("artifact missing")
