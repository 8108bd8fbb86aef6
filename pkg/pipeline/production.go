package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/hepgrid/pkg/archive"
	"github.com/3leaps/hepgrid/pkg/artifact"
)

const (
	LogSubdir  = "log"
	DataSubdir = "dat"
)

// FetchRequest names the seeds of one production identity to download into
// Dest.
type FetchRequest struct {
	Runcard   string
	RunFolder string
	Seeds     []int
	Dest      string
}

// SeedsRange returns [start, start+n).
func SeedsRange(start, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

// SeedResult is the outcome for one seed.
type SeedResult struct {
	Seed    int
	Archive string
	Missing bool
	Logs    []string
	Data    []string
	Err     error
}

// FetchReport lists per-seed results in seed order.
type FetchReport struct {
	Results []SeedResult
}

func (r *FetchReport) Fetched() []int {
	return r.seeds(func(s SeedResult) bool { return !s.Missing && s.Err == nil })
}

func (r *FetchReport) Missing() []int { return r.seeds(func(s SeedResult) bool { return s.Missing }) }

func (r *FetchReport) Failed() []int { return r.seeds(func(s SeedResult) bool { return s.Err != nil }) }

func (r *FetchReport) seeds(keep func(SeedResult) bool) []int {
	var out []int
	for _, s := range r.Results {
		if keep(s) {
			out = append(out, s.Seed)
		}
	}
	return out
}

// FetchProduction downloads one output archive per seed with bounded
// concurrency, extracts .run/.log files into Dest/log and .dat files into
// Dest/dat, and removes each archive after extraction. Missing archives and
// per-seed failures are recorded in the report and do not stop other seeds.
func (p *Pipeline) FetchProduction(ctx context.Context, req FetchRequest) (*FetchReport, error) {
	if req.Dest == "" {
		return nil, fmt.Errorf("fetch destination is required")
	}
	for _, sub := range []string{LogSubdir, DataSubdir} {
		if err := os.MkdirAll(filepath.Join(req.Dest, sub), 0o755); err != nil {
			return nil, err
		}
	}

	seeds := append([]int(nil), req.Seeds...)
	sort.Ints(seeds)
	results := make([]SeedResult, len(seeds))

	var g errgroup.Group
	g.SetLimit(p.cfg.FetchConcurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			results[i] = p.fetchSeed(ctx, req, seed)
			return nil
		})
	}
	_ = g.Wait()

	report := &FetchReport{Results: results}
	for _, r := range results {
		switch {
		case r.Missing:
			p.logger.Warn("Output archive missing; skipped", zap.Int("seed", r.Seed), zap.String("archive", r.Archive))
		case r.Err != nil:
			p.logger.Error("Output fetch failed", zap.Int("seed", r.Seed), zap.String("archive", r.Archive), zap.Error(r.Err))
		}
	}
	p.logger.Info("Production fetch finished",
		zap.String("runcard", req.Runcard),
		zap.String("runfolder", req.RunFolder),
		zap.Int("fetched", len(report.Fetched())),
		zap.Int("missing", len(report.Missing())),
		zap.Int("failed", len(report.Failed())))
	return report, nil
}

func (p *Pipeline) fetchSeed(ctx context.Context, req FetchRequest, seed int) SeedResult {
	name := p.cfg.Naming.OutputArchive(req.Runcard, req.RunFolder, seed)
	res := SeedResult{Seed: seed, Archive: name}
	local := filepath.Join(req.Dest, p.cfg.Naming.LocalOutputArchive(req.RunFolder, seed))
	defer func() { _ = os.Remove(local) }()

	ok, err := p.store.Get(ctx, name, artifact.DirOutput, local)
	if err != nil {
		res.Err = err
		return res
	}
	if !ok {
		res.Missing = true
		return res
	}

	entries, err := p.archive.ListEntries(local)
	if err != nil {
		res.Err = err
		return res
	}
	wantLogs, wantData := false, false
	for _, e := range entries {
		wantLogs = wantLogs || isLogEntry(e)
		wantData = wantData || isDataEntry(e)
	}
	if wantLogs {
		res.Logs, err = p.archive.Extract(local, filepath.Join(req.Dest, LogSubdir), isLogEntry)
		if err != nil {
			res.Err = err
			return res
		}
	}
	if wantData {
		res.Data, err = p.archive.Extract(local, filepath.Join(req.Dest, DataSubdir), isDataEntry)
		if err != nil {
			res.Err = err
		}
	}
	return res
}

func isLogEntry(e archive.Entry) bool {
	return !e.IsDir && archive.HasSuffix(e.Base(), []string{".run", ".log"})
}

// isDataEntry skips PDF set files shipped under an lhapdf/ directory.
func isDataEntry(e archive.Entry) bool {
	if e.IsDir || !strings.HasSuffix(e.Base(), ".dat") {
		return false
	}
	return !strings.Contains("/"+e.Name, "/lhapdf/")
}
