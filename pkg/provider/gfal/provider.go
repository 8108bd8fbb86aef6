// Package gfal stores run artifacts on a grid storage element through the
// gfal2 command-line tools (gfal-copy, gfal-ls, gfal-stat, gfal-rm).
package gfal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/hepgrid/pkg/provider"
	"github.com/3leaps/hepgrid/pkg/shell"
)

type Config struct {
	// BaseURL is the storage element root, e.g.
	// "gsiftp://se01.dur.scotgrid.ac.uk/dpm/dur.scotgrid.ac.uk/home/pheno/user".
	BaseURL string

	// TempDir holds staged copies. Empty uses os.TempDir().
	TempDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("gfal base URL is required")
	}
	if !strings.Contains(c.BaseURL, "://") {
		return fmt.Errorf("gfal base URL must include a scheme: %q", c.BaseURL)
	}
	return nil
}

// Provider shells out to gfal2 for every operation. Objects pass through a
// local temp file because gfal-copy only moves whole files.
type Provider struct {
	base   string
	tmp    string
	runner shell.Runner
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Lister   = (*Provider)(nil)
)

func New(cfg Config, runner shell.Runner) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New("gfal provider requires a runner")
	}
	tmp := cfg.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	return &Provider{base: strings.TrimRight(cfg.BaseURL, "/"), tmp: tmp, runner: runner}, nil
}

func (p *Provider) url(key string) string {
	return p.base + "/" + strings.TrimPrefix(key, "/")
}

var sizeRE = regexp.MustCompile(`(?m)^\s*Size:\s*(\d+)`)

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.runner.Run(ctx, "gfal-stat", p.url(key))
	if err != nil {
		return nil, p.wrapError("Head", key, out, err)
	}
	meta := &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: key, Size: -1}}
	if m := sizeRE.FindStringSubmatch(out); m != nil {
		meta.Size, _ = strconv.ParseInt(m[1], 10, 64)
	}
	return meta, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	local := filepath.Join(p.tmp, "hepgrid-get-"+uuid.NewString())
	if out, err := p.runner.Run(ctx, "gfal-copy", "-f", p.url(key), "file://"+local); err != nil {
		_ = os.Remove(local)
		return nil, 0, p.wrapError("GetObject", key, out, err)
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, "", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(local)
		return nil, 0, p.wrapError("GetObject", key, "", err)
	}
	return &tempFile{File: f}, st.Size(), nil
}

// tempFile removes its backing file on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	_ = os.Remove(t.File.Name())
	return err
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = contentLength
	f, err := os.CreateTemp(p.tmp, "hepgrid-put-*")
	if err != nil {
		return p.wrapError("PutObject", key, "", err)
	}
	local := f.Name()
	defer func() { _ = os.Remove(local) }()

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return p.wrapError("PutObject", key, "", err)
	}
	if err := f.Close(); err != nil {
		return p.wrapError("PutObject", key, "", err)
	}
	if out, err := p.runner.Run(ctx, "gfal-copy", "-f", "-p", "file://"+local, p.url(key)); err != nil {
		return p.wrapError("PutObject", key, out, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	out, err := p.runner.Run(ctx, "gfal-rm", p.url(key))
	if err != nil {
		wrapped := p.wrapError("DeleteObject", key, out, err)
		if provider.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

// List runs gfal-ls on the directory part of prefix and filters by the
// remaining name fragment. It does not recurse.
func (p *Provider) List(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	dir := prefix
	if !strings.HasSuffix(prefix, "/") {
		dir = path.Dir(prefix) + "/"
		if dir == "./" {
			dir = ""
		}
	}
	out, err := p.runner.Run(ctx, "gfal-ls", "-l", p.url(dir))
	if err != nil {
		wrapped := p.wrapError("List", prefix, out, err)
		if provider.IsNotFound(wrapped) {
			return []provider.ObjectSummary{}, nil
		}
		return nil, wrapped
	}

	objects := []provider.ObjectSummary{}
	for _, line := range strings.Split(out, "\n") {
		obj, ok := parseListLine(line)
		if !ok {
			continue
		}
		obj.Key = dir + obj.Key
		if strings.HasPrefix(obj.Key, prefix) {
			objects = append(objects, obj)
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// parseListLine reads one `gfal-ls -l` row:
//
//	-rw-r--r--   1 101   102   1048576 Mar  3 10:12 outputLO-warm-run.tar.gz
func parseListLine(line string) (provider.ObjectSummary, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 || strings.HasPrefix(fields[0], "d") {
		return provider.ObjectSummary{}, false
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return provider.ObjectSummary{}, false
	}
	return provider.ObjectSummary{Key: strings.Join(fields[8:], " "), Size: size}, true
}

func (p *Provider) Close() error { return nil }

func (p *Provider) wrapError(op, key, output string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderGfal, Bucket: p.base, Key: key, Err: err}
	text := output + " " + err.Error()
	switch {
	case os.IsNotExist(err), strings.Contains(text, "No such file or directory"), strings.Contains(text, "ENOENT"):
		wrapped.Err = provider.ErrNotFound
	case strings.Contains(text, "Permission denied"), strings.Contains(text, "EACCES"):
		wrapped.Err = provider.ErrAccessDenied
	case strings.Contains(text, "proxy"), strings.Contains(text, "credential"):
		wrapped.Err = provider.ErrInvalidCredentials
	case strings.Contains(text, "Connection timed out"), strings.Contains(text, "Connection refused"):
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}
