//go:build cloudintegration

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/test/cloudtest"
)

func TestProviderStore_S3RoundTrip(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	s := NewProviderStore(cloudtest.Provider(t, ctx, bucket, "hepgrid/"), nil)

	local := writeLocal(t, t.TempDir(), "output-r1-101.tar.gz", "seed 101")
	require.NoError(t, s.Put(ctx, local, DirOutput))

	ok, err := s.Exists(ctx, "output-r1-101.tar.gz", DirOutput)
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := s.ListDirectory(ctx, DirOutput)
	require.NoError(t, err)
	assert.Equal(t, []string{"output-r1-101.tar.gz"}, names)

	dest := filepath.Join(t.TempDir(), "got.tar.gz")
	ok, err = s.Get(ctx, "output-r1-101.tar.gz", DirOutput, dest)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "seed 101", string(data))

	require.NoError(t, s.Delete(ctx, "output-r1-101.tar.gz", DirOutput))
	ok, err = s.Get(ctx, "output-r1-101.tar.gz", DirOutput, dest+".2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderStore_S3PrefixIsolation(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "other/warmup/foreign.tar.gz", []byte("x"))
	s := NewProviderStore(cloudtest.Provider(t, ctx, bucket, "hepgrid"), nil)

	names, err := s.ListDirectory(ctx, DirWarmup)
	require.NoError(t, err)
	assert.Empty(t, names)

	cloudtest.PutObject(t, ctx, bucket, "hepgrid/warmup/ZJ.run-warm-r1.tar.gz", []byte("grid"))
	ok, err := s.Exists(ctx, "ZJ.run-warm-r1.tar.gz", DirWarmup)
	require.NoError(t, err)
	assert.True(t, ok)
}
