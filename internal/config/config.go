// Package config resolves the hepgrid configuration.
//
// Layers, lowest first: built-in defaults, the site file, the run override
// file, HEPGRID_* environment variables, runtime overrides. The merged
// result is decoded once into a Config that callers treat as read-only.
package config

import (
	"time"
)

// Config is the resolved configuration.
type Config struct {
	// Program selects artifact naming: NNLOJET or HEJ.
	Program string `mapstructure:"program"`

	// Backend is the default scheduler: grid, wms or local.
	Backend string `mapstructure:"backend"`

	Executable ExecutableConfig `mapstructure:"executable"`

	RuncardDir string `mapstructure:"runcard_dir"`

	// DataDir is the root for the job database, pipeline state and the
	// default file storage when those are not set explicitly.
	DataDir  string `mapstructure:"data_dir"`
	StateDir string `mapstructure:"state_dir"`
	WorkDir  string `mapstructure:"work_dir"`

	Database   DatabaseConfig   `mapstructure:"database"`
	Tables     TablesConfig     `mapstructure:"tables"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Grid       GridConfig       `mapstructure:"grid"`
	WMS        WMSConfig        `mapstructure:"wms"`
	Local      LocalConfig      `mapstructure:"local"`
	Warmup     WarmupConfig     `mapstructure:"warmup"`
	Production ProductionConfig `mapstructure:"production"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Fetch      FetchConfig      `mapstructure:"fetch"`

	// RateLimit caps scheduler and storage client spawns per second. Zero
	// disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`

	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

type ExecutableConfig struct {
	SrcDir string `mapstructure:"src_dir"`
	Name   string `mapstructure:"name"`

	// Wrapper is the job script the schedulers run; it receives the
	// program arguments.
	Wrapper string `mapstructure:"wrapper"`
}

type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type TablesConfig struct {
	Grid  string `mapstructure:"grid"`
	WMS   string `mapstructure:"wms"`
	Local string `mapstructure:"local"`
}

// StorageConfig selects and configures the artifact store provider.
type StorageConfig struct {
	// Provider is one of file, s3, minio, gfal.
	Provider string `mapstructure:"provider"`

	// BaseDir is the root for the file provider.
	BaseDir string `mapstructure:"base_dir"`

	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	UseSSL          bool   `mapstructure:"use_ssl"`

	// GfalBase is the storage element URL for the gfal provider.
	GfalBase string `mapstructure:"gfal_base"`
}

type GridConfig struct {
	CE            string `mapstructure:"ce"`
	JobDatabase   string `mapstructure:"job_database"`
	KillBatchSize int    `mapstructure:"kill_batch_size"`
	Memory        int    `mapstructure:"memory"`
	WallTime      string `mapstructure:"wall_time"`
}

type WMSConfig struct {
	Owner       string   `mapstructure:"owner"`
	Platform    string   `mapstructure:"platform"`
	BannedSites []string `mapstructure:"banned_sites"`
}

type LocalConfig struct {
	RunDir    string `mapstructure:"run_dir"`
	Partition string `mapstructure:"partition"`
}

type WarmupConfig struct {
	// ProvidedDir is the fallback warmup location for production staging.
	ProvidedDir string `mapstructure:"provided_dir"`

	// BaseDir receives retrieved warmups.
	BaseDir string `mapstructure:"base_dir"`

	Threads int `mapstructure:"threads"`
}

type ProductionConfig struct {
	BaseSeed int `mapstructure:"base_seed"`
	Jobs     int `mapstructure:"jobs"`

	// BaseDir receives fetched production output.
	BaseDir string `mapstructure:"base_dir"`
}

type StatsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type FetchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WatchConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 10m".
	Schedule string `mapstructure:"schedule"`
}

// Defaults are the built-in bottom layer.
func Defaults() map[string]any {
	return map[string]any{
		"program":            "NNLOJET",
		"backend":            "grid",
		"executable.src_dir": "",
		"executable.name":    "NNLOJET",
		"executable.wrapper": "",
		"runcard_dir":        ".",
		"data_dir":           "",
		"state_dir":          "",
		"work_dir":           "",

		"database.path":       "",
		"database.url":        "",
		"database.auth_token": "",

		"tables.grid":  "arcjobs",
		"tables.wms":   "diracjobs",
		"tables.local": "slurmjobs",

		"storage.provider":          "file",
		"storage.base_dir":          "",
		"storage.bucket":            "",
		"storage.prefix":            "",
		"storage.region":            "",
		"storage.endpoint":          "",
		"storage.profile":           "",
		"storage.access_key_id":     "",
		"storage.secret_access_key": "",
		"storage.force_path_style":  false,
		"storage.use_ssl":           true,
		"storage.gfal_base":         "",

		"grid.ce":              "",
		"grid.job_database":    "",
		"grid.kill_batch_size": 150,
		"grid.memory":          100,
		"grid.wall_time":       "",

		"wms.owner":        "",
		"wms.platform":     "",
		"wms.banned_sites": []string{},

		"local.run_dir":   "",
		"local.partition": "",

		"warmup.provided_dir": "",
		"warmup.base_dir":     ".",
		"warmup.threads":      1,

		"production.base_seed": 1,
		"production.jobs":      1,
		"production.base_dir":  ".",

		"stats.concurrency": 10,
		"fetch.concurrency": 15,
		"rate_limit":        0.0,

		"logging.level":   "info",
		"logging.verbose": false,

		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",

		"watch.schedule": "@every 10m",
	}
}
