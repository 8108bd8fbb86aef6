package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/archive"
	"github.com/3leaps/hepgrid/pkg/artifact"
)

// GridSuffixes are the warmup grid file extensions worth keeping.
var GridSuffixes = []string{".RRa", ".RRb", ".vRa", ".vRb", ".vBa", ".vBb"}

// LogSuffix marks the run log.
const LogSuffix = ".log"

// WarmupLogTag is appended to a retrieved warmup log so it is not mistaken
// for a production log.
const WarmupLogTag = "-warmup"

// gridAllowList adds the multichannel variant of every grid suffix.
func gridAllowList() []string {
	out := make([]string, 0, 2*len(GridSuffixes)+1)
	for _, s := range GridSuffixes {
		out = append(out, s, s+"_channel")
	}
	return out
}

func warmupAllowList() []string {
	return append(gridAllowList(), LogSuffix)
}

// WarmupFetch describes a validated and extracted warmup.
type WarmupFetch struct {
	// Source is "<dir>/<archive>" of the archive that validated.
	Source string
	Grids  []string
	Logs   []string
	Backup bool
}

// Files returns the grid and tagged log paths.
func (w *WarmupFetch) Files() []string {
	return append(append([]string(nil), w.Grids...), w.Logs...)
}

type candidate struct {
	name string
	dir  artifact.Dir
}

// fetchWarmup downloads the warmup archive for the identity, falling back to
// per-worker backups when the primary is missing or invalid, and extracts
// the allow-listed payload into dest.
func (p *Pipeline) fetchWarmup(ctx context.Context, runcard, runFolder, dest string, tryBackups bool) (*WarmupFetch, error) {
	name := p.cfg.Naming.WarmupArchive(runcard, runFolder)
	tmp := filepath.Join(dest, "warmup-download.tar.gz")
	defer func() { _ = os.Remove(tmp) }()

	sawCorrupt := false
	attempt := func(c candidate) error {
		err := p.tryWarmup(ctx, c, tmp)
		if IsCorruptArtifact(err) {
			sawCorrupt = true
		}
		return err
	}

	chosen := candidate{name: name, dir: artifact.DirWarmup}
	err := attempt(chosen)
	backup := false
	if err != nil {
		p.logger.Warn("Warmup archive unusable", zap.String("archive", name), zap.Error(err))
		if !tryBackups {
			return nil, err
		}
		chosen, err = p.tryBackups(ctx, name, tmp, attempt)
		if err != nil {
			if sawCorrupt {
				return nil, fmt.Errorf("%w: %s: no valid warmup or backup; did the warmup complete successfully?", ErrCorruptArtifact, name)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrDependency, name, err)
		}
		backup = true
	}

	extracted, err := p.archive.ExtractBySuffix(tmp, dest, warmupAllowList())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, name, err)
	}
	out := &WarmupFetch{Source: string(chosen.dir) + "/" + chosen.name, Backup: backup}
	for _, f := range extracted {
		if !strings.HasSuffix(f, LogSuffix) {
			out.Grids = append(out.Grids, f)
			continue
		}
		tagged := f + WarmupLogTag
		if err := os.Rename(f, tagged); err != nil {
			return nil, err
		}
		out.Logs = append(out.Logs, tagged)
	}
	p.logger.Info("Warmup files retrieved",
		zap.String("source", out.Source),
		zap.Int("grids", len(out.Grids)),
		zap.Bool("backup", backup))
	return out, nil
}

func (p *Pipeline) tryBackups(ctx context.Context, name, tmp string, attempt func(candidate) error) (candidate, error) {
	dir := artifact.BackupDir(name)
	backups, err := p.store.ListDirectory(ctx, dir)
	if err != nil {
		return candidate{}, fmt.Errorf("list backups: %w", err)
	}
	if len(backups) == 0 {
		return candidate{}, fmt.Errorf("no backups found in %s", dir)
	}
	for i, b := range backups {
		c := candidate{name: b, dir: dir}
		p.logger.Info("Attempting warmup backup", zap.String("backup", b), zap.Int("index", i+1), zap.Int("of", len(backups)))
		if err := attempt(c); err != nil {
			p.logger.Warn("Warmup backup unusable", zap.String("backup", b), zap.Error(err))
			continue
		}
		return c, nil
	}
	return candidate{}, fmt.Errorf("none of %d backups in %s validated", len(backups), dir)
}

func (p *Pipeline) tryWarmup(ctx context.Context, c candidate, tmp string) error {
	_ = os.Remove(tmp)
	ok, err := p.store.Get(ctx, c.name, c.dir, tmp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", errArtifactMissing, c.dir, c.name)
	}
	return p.validateWarmup(tmp)
}

// validateWarmup requires at least one grid file, no zero-byte grid and a
// run log.
func (p *Pipeline) validateWarmup(path string) error {
	entries, err := p.archive.ListEntries(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	grids, logs := 0, 0
	for _, e := range entries {
		switch {
		case archive.HasSuffix(e.Base(), gridAllowList()):
			if e.Size == 0 {
				return fmt.Errorf("%w: empty warmup file %s", ErrCorruptArtifact, e.Name)
			}
			grids++
		case strings.HasSuffix(e.Base(), LogSuffix):
			logs++
		}
	}
	if grids == 0 {
		return fmt.Errorf("%w: no warmup grid files", ErrCorruptArtifact)
	}
	if logs == 0 {
		return fmt.Errorf("%w: no warmup log file", ErrCorruptArtifact)
	}
	return nil
}

// Presence is the outcome of CheckWarmup.
type Presence string

const (
	PresencePresent   Presence = "present"
	PresenceMissing   Presence = "missing"
	PresenceCorrupted Presence = "corrupted"
)

// CheckWarmup reports whether the primary warmup archive exists and
// validates. Backups are not consulted and nothing is kept locally.
func (p *Pipeline) CheckWarmup(ctx context.Context, runcard, runFolder string) (Presence, error) {
	ws, err := p.workspace()
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(ws) }()

	err = p.tryWarmup(ctx, candidate{name: p.cfg.Naming.WarmupArchive(runcard, runFolder), dir: artifact.DirWarmup}, filepath.Join(ws, "check.tar.gz"))
	switch {
	case err == nil:
		return PresencePresent, nil
	case errors.Is(err, errArtifactMissing):
		return PresenceMissing, nil
	case IsCorruptArtifact(err):
		return PresenceCorrupted, nil
	}
	return "", err
}

// RetrieveWarmup downloads and validates the warmup for an identity into
// dest, trying backups when needed.
func (p *Pipeline) RetrieveWarmup(ctx context.Context, runcard, runFolder, dest string) (*WarmupFetch, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	return p.fetchWarmup(ctx, runcard, runFolder, dest, true)
}
