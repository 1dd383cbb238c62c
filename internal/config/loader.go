// Package config loads hpbatch configuration from defaults, an optional
// config file, HPBATCH_* environment variables, bound CLI flags, and runtime
// overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/hpbatch/pkg/monitor"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HPBATCH"

// ConfigName is the base name of the config file and the user config dir.
const ConfigName = "hpbatch"

// Config is the typed view of every setting.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Submit    SubmitConfig    `mapstructure:"submit"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Server    ServerConfig    `mapstructure:"server"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SchedulerConfig configures the Slurm command-line client.
type SchedulerConfig struct {
	Sbatch        string        `mapstructure:"sbatch"`
	Squeue        string        `mapstructure:"squeue"`
	Sacct         string        `mapstructure:"sacct"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QueryRetries  int           `mapstructure:"query_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HistoryWindow time.Duration `mapstructure:"history_window"`
}

// SubmitConfig holds the batch settings used when no manifest is given.
type SubmitConfig struct {
	InputRoot   string   `mapstructure:"input_root"`
	OutputRoot  string   `mapstructure:"output_root"`
	DODTemplate string   `mapstructure:"dod_template"`
	Account     string   `mapstructure:"account"`
	Partition   string   `mapstructure:"partition"`
	LogDir      string   `mapstructure:"log_dir"`
	Periods     []string `mapstructure:"periods"`
	Concurrency int      `mapstructure:"concurrency"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	ScriptDir   string   `mapstructure:"script_dir"`
	SkipActive  bool     `mapstructure:"skip_active"`
}

type PipelineConfig struct {
	Command     []string `mapstructure:"command"`
	Setup       []string `mapstructure:"setup"`
	NWorkers    int      `mapstructure:"n_workers"`
	MemoryLimit string   `mapstructure:"memory_limit"`
	BatchSize   int      `mapstructure:"batch_size"`
	Rerun       bool     `mapstructure:"rerun"`
}

type MonitorConfig struct {
	User   string `mapstructure:"user"`
	Prefix string `mapstructure:"prefix"`
	Recent int    `mapstructure:"recent"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig locates the submission ledger. An empty Dir means the
// user data directory.
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// EnvSpec documents one environment variable and the key it sets.
type EnvSpec struct {
	Name string
	Path string
}

// envAliases are short names kept for operators used to the common
// LOG_LEVEL/PORT/HOST convention. Every other key is reachable through its
// full name, e.g. HPBATCH_SCHEDULER_TIMEOUT.
var envAliases = map[string]string{
	"LOG_LEVEL": "logging.level",
	"HOST":      "server.host",
	"PORT":      "server.port",
	"USER":      "monitor.user",
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Option adjusts a Load call.
type Option func(*loadOptions)

type loadOptions struct {
	file      string
	overrides []map[string]any
}

// WithFile reads path as the config file. It must exist.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithOverrides applies nested maps above every other source.
func WithOverrides(m map[string]any) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, m) }
}

// Load builds a Config from v. A nil v uses a fresh viper instance. Flags
// already bound to v keep their precedence over environment and file.
//
// Without WithFile, hpbatch.yaml in the user config dir is read if present.
func Load(v *viper.Viper, opts ...Option) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if v == nil {
		v = viper.New()
	}

	SetDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if err := readFile(v, o.file); err != nil {
		return nil, err
	}
	for _, m := range o.overrides {
		for key, value := range flatten("", m) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded Config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects settings no command could run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Scheduler.Timeout <= 0 {
		problems = append(problems, "scheduler.timeout must be positive")
	}
	if c.Scheduler.QueryRetries < 0 {
		problems = append(problems, "scheduler.query_retries must be >= 0")
	}
	if c.Submit.Concurrency < 0 {
		problems = append(problems, "submit.concurrency must be >= 0")
	}
	if c.Submit.RateLimit < 0 {
		problems = append(problems, "submit.rate_limit must be >= 0")
	}
	if c.Monitor.Recent < 0 || c.Monitor.Recent > monitor.DefaultRecentLimit {
		problems = append(problems, fmt.Sprintf("monitor.recent must be between 0 and %d", monitor.DefaultRecentLimit))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 0 and 65535")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// EnvSpecs lists the short environment aliases.
func EnvSpecs() []EnvSpec {
	specs := make([]EnvSpec, 0, len(envAliases))
	for name, path := range envAliases {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + name, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// UserConfigPath is where Load looks for a config file by default.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ConfigName, ConfigName+".yaml")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range EnvSpecs() {
		if err := v.BindEnv(spec.Path, envName(spec.Path), spec.Name); err != nil {
			return fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func readFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", file, err)
		}
		return nil
	}

	path := UserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
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
