package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// isolate points every user-level lookup at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("HEPGRID_CONFIG", "")
	return home
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		home := isolate(t)
		cfg, err := Load(ctx, LoadOptions{})
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "NNLOJET", cfg.Program)
		assert.Equal(t, "grid", cfg.Backend)
		assert.Equal(t, "arcjobs", cfg.Tables.Grid)
		assert.Equal(t, 150, cfg.Grid.KillBatchSize)
		assert.Equal(t, 10, cfg.Stats.Concurrency)
		assert.Equal(t, 15, cfg.Fetch.Concurrency)
		assert.Equal(t, "file", cfg.Storage.Provider)
		assert.Equal(t, "@every 10m", cfg.Watch.Schedule)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "info", cfg.Logging.Level)

		dataDir := filepath.Join(home, ".local", "share", "hepgrid")
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dataDir, "jobs.db"), cfg.Database.Path)
		assert.Equal(t, filepath.Join(dataDir, "pipeline"), cfg.StateDir)
		assert.Equal(t, filepath.Join(dataDir, "storage"), cfg.Storage.BaseDir)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, LoadOptions{}, overrides)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("HEPGRID_PORT", "3000")
		t.Setenv("HEPGRID_LOG_LEVEL", "warn")
		t.Setenv("HEPGRID_GRID_CE", "ce2.example.org")
		t.Setenv("HEPGRID_WMS_BANNED_SITES", "LCG.A.uk,LCG.B.uk")

		cfg, err := Load(ctx, LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "ce2.example.org", cfg.Grid.CE)
		assert.Equal(t, []string{"LCG.A.uk", "LCG.B.uk"}, cfg.WMS.BannedSites)
	})

	t.Run("LayerPrecedence", func(t *testing.T) {
		isolate(t)
		dir := t.TempDir()
		site := writeFile(t, dir, "site.yaml", `
program: HEJ
backend: wms
grid:
  ce: ce-site.example.org
  kill_batch_size: 50
production:
  jobs: 20
`)
		run := writeFile(t, dir, "run.yaml", `
runs:
  Ra_Wm.run: WM_VAL_Ra
grid:
  ce: ce-run.example.org
production:
  jobs: 40
`)
		t.Setenv("HEPGRID_PRODUCTION_JOBS", "60")

		cfg, err := Load(ctx, LoadOptions{ConfigFile: site, RunFile: run}, map[string]any{"backend": "local"})
		require.NoError(t, err)
		assert.Equal(t, "HEJ", cfg.Program, "site layer over defaults")
		assert.Equal(t, 50, cfg.Grid.KillBatchSize, "site value survives run merge")
		assert.Equal(t, "ce-run.example.org", cfg.Grid.CE, "run layer over site")
		assert.Equal(t, 60, cfg.Production.Jobs, "env over run layer")
		assert.Equal(t, "local", cfg.Backend, "runtime over everything")
	})

	t.Run("SiteFromEnv", func(t *testing.T) {
		isolate(t)
		site := writeFile(t, t.TempDir(), "site.yaml", "stats:\n  concurrency: 3\n")
		t.Setenv("HEPGRID_CONFIG", site)

		cfg, err := Load(ctx, LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Stats.Concurrency)
	})

	t.Run("UserConfigPath", func(t *testing.T) {
		home := isolate(t)
		dir := filepath.Join(home, ".config", "hepgrid")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeFile(t, dir, "config.yaml", "fetch:\n  concurrency: 4\n")

		cfg, err := Load(ctx, LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Fetch.Concurrency)
	})

	t.Run("Dotenv", func(t *testing.T) {
		isolate(t)
		env := writeFile(t, t.TempDir(), "test.env", "HEPGRID_STORAGE_BUCKET=from-dotenv\n")
		t.Setenv("HEPGRID_STORAGE_BUCKET", "")
		require.NoError(t, os.Unsetenv("HEPGRID_STORAGE_BUCKET"))

		cfg, err := Load(ctx, LoadOptions{EnvFile: env})
		require.NoError(t, err)
		assert.Equal(t, "from-dotenv", cfg.Storage.Bucket)

		_, err = Load(ctx, LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
		assert.Error(t, err)
	})

	t.Run("MissingSiteFile", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, LoadOptions{ConfigFile: "/nonexistent/site.yaml"})
		assert.ErrorContains(t, err, "read site config")
	})
}

func TestValidate(t *testing.T) {
	isolate(t)
	ctx := context.Background()
	tests := []struct {
		name     string
		override map[string]any
		errPart  string
	}{
		{"program", map[string]any{"program": "sherpa"}, "unknown program"},
		{"backend", map[string]any{"backend": "pbs"}, "unknown scheduler"},
		{"storage", map[string]any{"storage": map[string]any{"provider": "ftp"}}, "unsupported provider"},
		{"fetch", map[string]any{"fetch": map[string]any{"concurrency": 0}}, "fetch.concurrency"},
		{"port", map[string]any{"server": map[string]any{"port": 70000}}, "out of range"},
		{"schedule", map[string]any{"watch": map[string]any{"schedule": "every tuesday"}}, "watch.schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(ctx, LoadOptions{}, tt.override)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), LoadOptions{}, map[string]any{"server": map[string]any{"port": 8181}})
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Port, GetConfig().Server.Port)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "HEPGRID_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		_, known := Defaults()[spec.Path]
		assert.True(t, known, "env var %s maps to unknown key %s", spec.Name, spec.Path)
	}
}

func TestParseSetFlags(t *testing.T) {
	got, err := ParseSetFlags([]string{"grid.ce=ce1", "stats.concurrency=4", "rate_limit=2.5", "storage.use_ssl=false"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"grid.ce":           "ce1",
		"stats.concurrency": 4,
		"rate_limit":        2.5,
		"storage.use_ssl":   false,
	}, got)

	_, err = ParseSetFlags([]string{"novalue"})
	assert.Error(t, err)
}

func TestConfigHelpers(t *testing.T) {
	cfg := &Config{Program: "NNLOJET", Executable: ExecutableConfig{SrcDir: "/opt/nnlojet", Name: "NNLOJET"}}
	assert.Equal(t, filepath.Join("/opt/nnlojet", "driver", "NNLOJET"), cfg.ExecutablePath())

	cfg.Tables = TablesConfig{Grid: "g", WMS: "w", Local: "l"}
	assert.Equal(t, "w", cfg.Table(scheduler.KindWMS))
	assert.Equal(t, "l", cfg.Table(scheduler.KindLocal))
	assert.Equal(t, "g", cfg.Table(scheduler.KindGrid))
}
