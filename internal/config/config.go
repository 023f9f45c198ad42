// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive providers accepted by recovery.archive.provider.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Target   TargetConfig   `mapstructure:"target"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Run      RunConfig      `mapstructure:"run"`
}

// PathsConfig locates inputs and outputs on disk.
type PathsConfig struct {
	Dataset    string `mapstructure:"dataset"`
	Template   string `mapstructure:"template"`
	ConfigsDir string `mapstructure:"configs_dir"`
	OutputDir  string `mapstructure:"output_dir"`
}

// DatasetConfig names the CSV columns.
type DatasetConfig struct {
	NameColumn string `mapstructure:"name_column"`
	IDColumn   string `mapstructure:"id_column"`
	Delimiter  string `mapstructure:"delimiter"`
}

// TargetConfig builds the page URL handed to the worker.
type TargetConfig struct {
	URLPattern string `mapstructure:"url_pattern"`
}

// WorkerConfig describes how the external scraper is launched.
type WorkerConfig struct {
	Command           []string `mapstructure:"command"`
	ConfigFlag        string   `mapstructure:"config_flag"`
	Env               []string `mapstructure:"env"`
	SignalOnInterrupt bool     `mapstructure:"signal_on_interrupt"`
	InterruptGraceMs  int      `mapstructure:"interrupt_grace_ms"`
}

// InterruptGrace returns the configured grace as a duration.
func (w WorkerConfig) InterruptGrace() time.Duration {
	return time.Duration(w.InterruptGraceMs) * time.Millisecond
}

// RecoveryConfig controls what happens after an interruption.
type RecoveryConfig struct {
	IncludeInFlight bool          `mapstructure:"include_in_flight"`
	Archive         ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig selects the optional mirror for recovered documents.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ProgressConfig enables progress sinks beyond metrics.
type ProgressConfig struct {
	LogEvents     bool   `mapstructure:"log_events"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// MetricsConfig exposes the Prometheus registry.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Textfile   string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RunConfig holds per-invocation switches, usually set from flags.
type RunConfig struct {
	SkipExisting bool `mapstructure:"skip_existing"`
	Limit        int  `mapstructure:"limit"`
}

// New returns a Viper instance with env binding and defaults applied. Callers
// may bind flags before handing it to Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// ReadFile merges path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.dataset", "restaurants.csv")
	v.SetDefault("paths.template", "config.yaml")
	v.SetDefault("paths.configs_dir", "configs")
	v.SetDefault("paths.output_dir", "data")
	v.SetDefault("dataset.name_column", "name")
	v.SetDefault("dataset.id_column", "id")
	v.SetDefault("dataset.delimiter", ",")
	v.SetDefault("target.url_pattern", "https://www.google.com/maps/place/?q=place_id:{place_id}&hl=en&gl=US")
	v.SetDefault("worker.command", []string{"python", "start.py"})
	v.SetDefault("worker.config_flag", "--config")
	v.SetDefault("worker.signal_on_interrupt", false)
	v.SetDefault("worker.interrupt_grace_ms", 500)
	v.SetDefault("recovery.include_in_flight", false)
	v.SetDefault("recovery.archive.provider", ArchiveNone)
	v.SetDefault("recovery.archive.prefix", "reviews")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("run.skip_existing", false)
	v.SetDefault("run.limit", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Paths.Dataset == "" {
		return fmt.Errorf("paths.dataset is required")
	}
	if c.Paths.Template == "" {
		return fmt.Errorf("paths.template is required")
	}
	if c.Paths.ConfigsDir == "" || c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.configs_dir and paths.output_dir are required")
	}
	if len(c.Worker.Command) == 0 || c.Worker.Command[0] == "" {
		return fmt.Errorf("worker.command must name an executable")
	}
	if c.Worker.InterruptGraceMs < 0 {
		return fmt.Errorf("worker.interrupt_grace_ms must be >= 0")
	}
	if len([]rune(c.Dataset.Delimiter)) != 1 {
		return fmt.Errorf("dataset.delimiter must be a single character")
	}
	if !strings.Contains(c.Target.URLPattern, "{place_id}") {
		return fmt.Errorf("target.url_pattern must contain {place_id}")
	}
	if c.Run.Limit < 0 {
		return fmt.Errorf("run.limit must be >= 0")
	}
	switch c.Recovery.Archive.Provider {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Recovery.Archive.BaseDir == "" {
			return fmt.Errorf("recovery.archive.base_dir is required for the local provider")
		}
	case ArchiveGCS:
		if c.Recovery.Archive.GCSBucket == "" {
			return fmt.Errorf("recovery.archive.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown recovery.archive.provider %q", c.Recovery.Archive.Provider)
	}
	if c.Progress.PubSubProject != "" && c.Progress.PubSubTopic == "" {
		return fmt.Errorf("progress.pubsub_topic is required when progress.pubsub_project is set")
	}
	return nil
}

// DelimiterRune returns the dataset delimiter as a rune.
func (c DatasetConfig) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}
