package runcard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const positional = `WM_VAL      ! Job name id
Ra_Wm       ! Process name
10000       ! Number of events
.true.      ! Warmup
.false.     ! Production
! comment line
.false.     ! Continuation of warmup
`

func TestParse_Positional(t *testing.T) {
	rc, err := Parse(strings.NewReader(positional))
	require.NoError(t, err)
	assert.True(t, rc.IsWarmupActive())
	assert.False(t, rc.IsProductionActive())
	assert.False(t, rc.IsContinuation())
	assert.Equal(t, "WM_VAL", rc.ID)
	assert.Equal(t, "ra_wm.wm_val", rc.WarmupArtifactBaseName())
}

func TestParse_Block(t *testing.T) {
	rc, err := Parse(strings.NewReader(`
PROCESS Z
  id = Z_NNLO
  warmup = .false.
  production = .TRUE.
  continuation = .true.
  multi_channel = .true.
END
`))
	require.NoError(t, err)
	assert.False(t, rc.IsWarmupActive())
	assert.True(t, rc.IsProductionActive())
	assert.True(t, rc.IsContinuation())
	assert.True(t, rc.MultiChannel)
	assert.Equal(t, "z_nnlo", rc.WarmupArtifactBaseName())
}

func TestParse_ValueTable(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{".true.", true},
		{".TRUE.", true},
		{".false.", false},
		{"2[2]", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, isTrue(tt.value))
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Ra_Wm.run")
	require.NoError(t, os.WriteFile(path, []byte(positional), 0o644))

	rc, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "Ra_Wm.run", rc.Name)
	assert.Equal(t, path, rc.Path)

	_, err = Open(filepath.Join(t.TempDir(), "missing.run"))
	assert.ErrorContains(t, err, "runcard not found")
}
