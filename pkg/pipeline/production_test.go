package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/artifact"
)

func TestSeedsRange(t *testing.T) {
	assert.Equal(t, []int{400, 401, 402}, SeedsRange(400, 3))
	assert.Nil(t, SeedsRange(1, 0))
}

func TestFetchProduction_SkipsMissingSeed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	seeds := SeedsRange(400, 11)
	for _, seed := range seeds {
		if seed == 405 {
			continue
		}
		h.putArchive(t, artifact.DirOutput, h.p.Naming().OutputArchive(testRuncard, testFolder, seed), map[string]string{
			fmt.Sprintf("Ra_Wm.s%d.log", seed):          "log",
			fmt.Sprintf("Ra_Wm.s%d.run", seed):          "card",
			fmt.Sprintf("Ra_Wm.y%d.dat", seed):          "hist",
			fmt.Sprintf("lhapdf/NNPDF31/m%d.dat", seed): "pdf",
			fmt.Sprintf("Ra_Wm.s%d.RRa", seed):          "grid",
		})
	}

	dest := t.TempDir()
	report, err := h.p.FetchProduction(ctx, FetchRequest{
		Runcard:   testRuncard,
		RunFolder: testFolder,
		Seeds:     seeds,
		Dest:      dest,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{405}, report.Missing())
	assert.Empty(t, report.Failed())
	assert.Len(t, report.Fetched(), 10)

	logs, err := os.ReadDir(filepath.Join(dest, LogSubdir))
	require.NoError(t, err)
	assert.Len(t, logs, 20)
	dats, err := os.ReadDir(filepath.Join(dest, DataSubdir))
	require.NoError(t, err)
	assert.Len(t, dats, 10)
	for _, d := range dats {
		assert.NotContains(t, d.Name(), "m4", "PDF set data is not extracted")
	}

	_, err = os.Stat(filepath.Join(dest, LogSubdir, "Ra_Wm.s405.log"))
	assert.True(t, os.IsNotExist(err))

	top, err := os.ReadDir(dest)
	require.NoError(t, err)
	var names []string
	for _, e := range top {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{LogSubdir, DataSubdir}, names, "downloaded archives are removed")
}

func TestFetchProduction_CorruptSeedIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.putArchive(t, artifact.DirOutput, h.p.Naming().OutputArchive(testRuncard, testFolder, 1), map[string]string{"a.s1.log": "x"})

	bad := filepath.Join(t.TempDir(), h.p.Naming().OutputArchive(testRuncard, testFolder, 2))
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	require.NoError(t, h.store.Put(ctx, bad, artifact.DirOutput))

	report, err := h.p.FetchProduction(ctx, FetchRequest{Runcard: testRuncard, RunFolder: testFolder, Seeds: []int{2, 1}, Dest: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Fetched())
	assert.Equal(t, []int{2}, report.Failed())
	assert.Equal(t, 1, report.Results[0].Seed)
}
