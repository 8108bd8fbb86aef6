package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/provider"
)

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	return p, dir
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	p, dir := newTestProvider(t)

	require.NoError(t, p.PutObject(ctx, "warmup/outputLO-warm-run1.tar.gz", strings.NewReader("grid"), 4))
	_, err := os.Stat(filepath.Join(dir, "warmup", "outputLO-warm-run1.tar.gz"))
	require.NoError(t, err)

	meta, err := p.Head(ctx, "warmup/outputLO-warm-run1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(4), meta.Size)

	body, size, err := p.GetObject(ctx, "/warmup/outputLO-warm-run1.tar.gz")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "grid", string(data))
	assert.Equal(t, int64(4), size)

	require.NoError(t, p.DeleteObject(ctx, "warmup/outputLO-warm-run1.tar.gz"))
	require.NoError(t, p.DeleteObject(ctx, "warmup/outputLO-warm-run1.tar.gz"))

	_, err = p.Head(ctx, "warmup/outputLO-warm-run1.tar.gz")
	assert.True(t, provider.IsNotFound(err))
	_, _, err = p.GetObject(ctx, "warmup/outputLO-warm-run1.tar.gz")
	assert.True(t, provider.IsNotFound(err))
}

func TestHead_DirectoryIsNotFound(t *testing.T) {
	ctx := context.Background()
	p, dir := newTestProvider(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "output"), 0o755))

	_, err := p.Head(ctx, "output")
	assert.True(t, provider.IsNotFound(err))
}

func TestList_PartialNamePrefix(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	for _, k := range []string{
		"output/outputLO-run1-400.tar.gz",
		"output/outputLO-run1-401.tar.gz",
		"output/outputNLO-run1-400.tar.gz",
		"warmup/outputLO-warm-run1.tar.gz",
	} {
		require.NoError(t, p.PutObject(ctx, k, strings.NewReader("x"), 1))
	}

	got, err := p.List(ctx, "output/outputLO-")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "output/outputLO-run1-400.tar.gz", got[0].Key)
	assert.Equal(t, "output/outputLO-run1-401.tar.gz", got[1].Key)

	all, err := p.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := p.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFullPath_RejectsTraversal(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.fullPath("../etc/passwd")
	// Clean("/../etc") collapses to /etc, so traversal stays inside the root.
	require.NoError(t, err)

	full, err := p.fullPath("a/../../b")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, p.baseDir))
}
