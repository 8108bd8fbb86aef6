package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/provider"
	"github.com/3leaps/hepgrid/pkg/provider/file"
)

func newFileStore(t *testing.T) *ProviderStore {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return NewProviderStore(p, nil)
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestBackupDir(t *testing.T) {
	assert.Equal(t, Dir("warmup/outputLO.run-warm-WM_VAL_Ra"), BackupDir("outputLO.run-warm-WM_VAL_Ra.tar.gz"))
	assert.Equal(t, Dir("warmup/x"), BackupDir("/tmp/x.tar.gz"))
	assert.True(t, BackupDir("a.tar.gz").Valid())
}

func TestDirValid(t *testing.T) {
	for _, d := range []Dir{DirInput, DirWarmup, DirOutput, "warmup/abc"} {
		assert.True(t, d.Valid(), d)
	}
	for _, d := range []Dir{"", "tmp", "warmup/a/b", "warmup/..", "input/x"} {
		assert.False(t, d.Valid(), d)
	}
}

func TestPutGetExistsDelete(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	local := writeLocal(t, t.TempDir(), "LO.runWM_VAL_Ra.tar.gz", "bundle")

	ok, err := s.Exists(ctx, "LO.runWM_VAL_Ra.tar.gz", DirInput)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, local, DirInput))
	ok, err = s.Exists(ctx, "LO.runWM_VAL_Ra.tar.gz", DirInput)
	require.NoError(t, err)
	assert.True(t, ok)

	dst := filepath.Join(t.TempDir(), "sub", "copy.tar.gz")
	got, err := s.Get(ctx, "LO.runWM_VAL_Ra.tar.gz", DirInput, dst)
	require.NoError(t, err)
	assert.True(t, got)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(b))

	require.NoError(t, s.Delete(ctx, "LO.runWM_VAL_Ra.tar.gz", DirInput))
	got, err = s.Get(ctx, "LO.runWM_VAL_Ra.tar.gz", DirInput, dst+".2")
	require.NoError(t, err)
	assert.False(t, got)
	_, err = os.Stat(dst + ".2")
	assert.True(t, os.IsNotExist(err))
}

func TestListDirectory_DirectChildrenOnly(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	tmp := t.TempDir()

	require.NoError(t, s.Put(ctx, writeLocal(t, tmp, "b.tar.gz", "x"), DirWarmup))
	require.NoError(t, s.Put(ctx, writeLocal(t, tmp, "a.tar.gz", "x"), DirWarmup))
	require.NoError(t, s.Put(ctx, writeLocal(t, tmp, "a-1.tar.gz", "x"), BackupDir("a.tar.gz")))

	names, err := s.ListDirectory(ctx, DirWarmup)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tar.gz", "b.tar.gz"}, names)

	backups, err := s.ListDirectory(ctx, BackupDir("a.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1.tar.gz"}, backups)
}

func TestListDirectory_BackupsInWorkerOrder(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	tmp := t.TempDir()
	dir := BackupDir("a.tar.gz")
	for _, n := range []string{"a-10.tar.gz", "a-2.tar.gz", "a-1.tar.gz", "a-02.tar.gz"} {
		require.NoError(t, s.Put(ctx, writeLocal(t, tmp, n, "x"), dir))
	}

	backups, err := s.ListDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1.tar.gz", "a-2.tar.gz", "a-02.tar.gz", "a-10.tar.gz"}, backups)
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"w-2.tar.gz", "w-10.tar.gz", true},
		{"w-10.tar.gz", "w-2.tar.gz", false},
		{"a.tar.gz", "b.tar.gz", true},
		{"w-1", "w-1.tar.gz", true},
		{"same", "same", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"<"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, naturalLess(tt.a, tt.b))
		})
	}
}

func TestInvalidDirRejected(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	_, err := s.Exists(ctx, "x", Dir("../etc"))
	assert.ErrorIs(t, err, ErrInvalidDir)

	err = s.Put(ctx, writeLocal(t, t.TempDir(), "x", "y"), Dir("tmp"))
	assert.True(t, IsTransfer(err))
	assert.ErrorIs(t, err, ErrInvalidDir)
}

type failingProvider struct {
	provider.Provider
}

func (failingProvider) GetObject(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Err: provider.ErrAccessDenied}
}

func TestGet_TransferErrorWrapsProvider(t *testing.T) {
	s := NewProviderStore(failingProvider{}, nil)
	_, err := s.Get(context.Background(), "x.tar.gz", DirOutput, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, IsTransfer(err))
	assert.True(t, provider.IsAccessDenied(err))

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "get", te.Op)
	assert.True(t, strings.Contains(te.Error(), "output/x.tar.gz"))
}
