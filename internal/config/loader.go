package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/provider"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "HEPGRID"

	// ConfigName is the base name of the site file in user config paths.
	ConfigName = "hepgrid"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// LoadOptions names the file layers.
type LoadOptions struct {
	// ConfigFile is the site file. Empty falls back to $HEPGRID_CONFIG and
	// then the first existing user config path.
	ConfigFile string

	// RunFile is the run-specific override file, usually the run manifest.
	RunFile string

	// EnvFile is a dotenv file loaded before environment binding. Empty
	// tries ".env" in the working directory; a missing file is not an error.
	EnvFile string
}

// EnvSpec maps an environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// Load merges every layer and decodes the result. The returned Config is
// also kept for GetConfig.
func Load(ctx context.Context, opts LoadOptions, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := loadDotenv(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	site := opts.ConfigFile
	if site == "" {
		site = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if site == "" {
		for _, p := range getUserConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				site = p
				break
			}
		}
	}
	if site != "" {
		v.SetConfigFile(site)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read site config %s: %w", site, err)
		}
	}
	if opts.RunFile != "" {
		v.SetConfigFile(opts.RunFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read run config %s: %w", opts.RunFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
}

func loadDotenv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// getUserConfigPaths lists candidate site files in search order.
func getUserConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths,
			filepath.Join(dir, ConfigName, "config.yaml"),
			filepath.Join(dir, ConfigName, "config.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+ConfigName+".yaml"))
	}
	return paths
}

// getEnvSpecs are the short aliases accepted next to the automatic
// HEPGRID_<SECTION>_<KEY> names.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_VERBOSE", Path: "logging.verbose"},
		{Name: EnvPrefix + "_HOST", Path: "server.host"},
		{Name: EnvPrefix + "_PORT", Path: "server.port"},
		{Name: EnvPrefix + "_DB", Path: "database.path"},
		{Name: EnvPrefix + "_DB_URL", Path: "database.url"},
		{Name: EnvPrefix + "_DB_AUTH_TOKEN", Path: "database.auth_token"},
		{Name: EnvPrefix + "_STORAGE", Path: "storage.provider"},
		{Name: EnvPrefix + "_BUCKET", Path: "storage.bucket"},
		{Name: EnvPrefix + "_CE", Path: "grid.ce"},
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// ParseSetFlags turns "section.key=value" pairs into an override map.
// Integers, floats and booleans are converted; everything else stays a
// string.
func ParseSetFlags(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		out[key] = parseScalar(strings.TrimSpace(raw))
	}
	return out, nil
}

func parseScalar(raw string) any {
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// resolvePaths fills directories derived from DataDir.
func (c *Config) resolvePaths() error {
	if c.DataDir == "" {
		base, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = filepath.Join(base, ".local", "share", ConfigName)
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.DataDir, "pipeline")
	}
	if c.Database.Path == "" && c.Database.URL == "" {
		c.Database.Path = filepath.Join(c.DataDir, "jobs.db")
	}
	if c.Storage.Provider == string(provider.ProviderFile) && c.Storage.BaseDir == "" {
		c.Storage.BaseDir = filepath.Join(c.DataDir, "storage")
	}
	if c.Local.RunDir == "" {
		c.Local.RunDir = filepath.Join(c.DataDir, "runs")
	}
	return nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := pipeline.ParseProgram(c.Program); err != nil {
		errs = append(errs, err)
	}
	if _, err := scheduler.ParseKind(c.Backend); err != nil {
		errs = append(errs, err)
	}
	switch provider.ProviderType(c.Storage.Provider) {
	case provider.ProviderFile, provider.ProviderS3, provider.ProviderMinio, provider.ProviderGfal:
	default:
		errs = append(errs, fmt.Errorf("storage.provider: unsupported provider %q", c.Storage.Provider))
	}
	if c.Stats.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("stats.concurrency must be >= 1"))
	}
	if c.Fetch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("fetch.concurrency must be >= 1"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative"))
	}
	if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("watch.schedule: %w", err))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ExecutablePath is the program binary packed into bundles.
func (c *Config) ExecutablePath() string {
	program, err := pipeline.ParseProgram(c.Program)
	if err != nil {
		program = pipeline.ProgramNNLOJET
	}
	return pipeline.Naming{Program: program}.Executable(c.Executable.SrcDir, c.Executable.Name)
}

// Table returns the record table of a scheduler kind.
func (c *Config) Table(kind scheduler.Kind) string {
	switch kind {
	case scheduler.KindWMS:
		return c.Tables.WMS
	case scheduler.KindLocal:
		return c.Tables.Local
	}
	return c.Tables.Grid
}
