// Package config handles pipeline configuration and the data directory layout.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/matsen/pmcrefs/internal/tuning"
)

// AggregationMode selects how extracted rows reach dataset.csv.
type AggregationMode string

const (
	// AggregationSharded writes one shard per document and concatenates them.
	AggregationSharded AggregationMode = "sharded"
	// AggregationSingle funnels rows through one writer goroutine.
	AggregationSingle AggregationMode = "single"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. PMCREFS_DATA_DIR.
	EnvPrefix = "PMCREFS"
	// DefaultConfigFile is looked up in the working directory.
	DefaultConfigFile = "pmcrefs.yml"
	// UserConfigDir is the directory name under XDG_CONFIG_HOME.
	UserConfigDir = "pmcrefs"
	// UserConfigFile is the config file name under UserConfigDir.
	UserConfigFile = "config.yml"

	DefaultListingURL = "http://europepmc.org/ftp/oa/"
	DefaultIDsURL     = "http://ftp.ncbi.nlm.nih.gov/pub/pmc/PMC-ids.csv.gz"
)

var (
	// ErrInvalidAggregation is returned for an unknown aggregation mode.
	ErrInvalidAggregation = errors.New("invalid aggregation mode")
	// ErrInvalidValue is returned for out-of-range numeric settings.
	ErrInvalidValue = errors.New("invalid config value")
)

// S3Config locates the bucket the final table is published to.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket,omitempty" envconfig:"BUCKET"`
	Region   string `yaml:"region" json:"region,omitempty" envconfig:"REGION"`
	Prefix   string `yaml:"prefix" json:"prefix,omitempty" envconfig:"PREFIX"`
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty" envconfig:"ENDPOINT"` // S3-compatible stores

	// Static credentials; when empty the default AWS chain applies.
	AccessKeyID     string `yaml:"-" json:"-" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" json:"-" envconfig:"SECRET_ACCESS_KEY"`
}

// Enabled reports whether publishing is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// Config is the pipeline configuration.
type Config struct {
	DataDir        string `yaml:"data_dir" json:"data_dir" envconfig:"DATA_DIR"`
	FolderArticles int    `yaml:"folder_articles" json:"folder_articles" envconfig:"FOLDER_ARTICLES"` // Bucket count per dump

	SplitWorkers    int `yaml:"split_workers" json:"split_workers" envconfig:"SPLIT_WORKERS"`
	ExtractWorkers  int `yaml:"extract_workers" json:"extract_workers" envconfig:"EXTRACT_WORKERS"`
	DownloadWorkers int `yaml:"download_workers" json:"download_workers" envconfig:"DOWNLOAD_WORKERS"`

	Aggregation AggregationMode `yaml:"aggregation" json:"aggregation" envconfig:"AGGREGATION"`
	QueueSize   int             `yaml:"queue_size" json:"queue_size" envconfig:"QUEUE_SIZE"` // Single-writer channel capacity

	SkipDownload       bool          `yaml:"skip_download" json:"skip_download" envconfig:"SKIP_DOWNLOAD"`
	MaxFilesToDownload int           `yaml:"max_files_to_download" json:"max_files_to_download" envconfig:"MAX_FILES_TO_DOWNLOAD"` // 0 = all
	MaxRetry           int           `yaml:"max_retry" json:"max_retry" envconfig:"MAX_RETRY"`
	RetryDelay         time.Duration `yaml:"retry_delay" json:"retry_delay" envconfig:"RETRY_DELAY"`
	RequestsPerSecond  float64       `yaml:"requests_per_second" json:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	ListingURL         string        `yaml:"listing_url" json:"listing_url" envconfig:"LISTING_URL"`
	IDsURL             string        `yaml:"ids_url" json:"ids_url" envconfig:"IDS_URL"`

	S3 S3Config `yaml:"s3" json:"s3" envconfig:"S3"`

	MetricsFile string `yaml:"metrics_file" json:"metrics_file,omitempty" envconfig:"METRICS_FILE"`
	Schedule    string `yaml:"schedule" json:"schedule,omitempty" envconfig:"SCHEDULE"` // Cron spec for repeated runs

	LogLevel  string `yaml:"log_level" json:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" json:"log_format" envconfig:"LOG_FORMAT"` // json or console
}

// Default returns the configuration used when nothing is set.
// Worker counts are left at zero and filled from the host by Load.
func Default() *Config {
	return &Config{
		DataDir:           ".",
		FolderArticles:    100,
		Aggregation:       AggregationSharded,
		QueueSize:         1024,
		MaxRetry:          5,
		RetryDelay:        10 * time.Second,
		RequestsPerSecond: 2,
		ListingURL:        DefaultListingURL,
		IDsURL:            DefaultIDsURL,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// UserConfigPath returns the per-user config file path.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/pmcrefs/config.yml.
func UserConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, UserConfigDir, UserConfigFile)
}

// FindConfigFile returns the config file to read: pmcrefs.yml in the working
// directory, else the per-user file. Returns "" if neither exists.
func FindConfigFile() string {
	for _, p := range []string{DefaultConfigFile, UserConfigPath()} {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads configuration from path (or the default locations when path is
// empty), applies .env and PMCREFS_* environment overrides, fills worker
// counts from the host and validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.FillWorkers(tuning.Recommend(tuning.Detect()))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// FillWorkers sets every unset worker count from w.
func (c *Config) FillWorkers(w tuning.Workers) {
	if c.SplitWorkers <= 0 {
		c.SplitWorkers = w.Split
	}
	if c.ExtractWorkers <= 0 {
		c.ExtractWorkers = w.Extract
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = w.Download
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Aggregation {
	case AggregationSharded, AggregationSingle:
	default:
		return fmt.Errorf("%w: %q (valid: %s, %s)", ErrInvalidAggregation, c.Aggregation, AggregationSharded, AggregationSingle)
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidValue)
	}
	if c.FolderArticles < 1 {
		return fmt.Errorf("%w: folder_articles must be positive, got %d", ErrInvalidValue, c.FolderArticles)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidValue, c.QueueSize)
	}
	if c.MaxRetry < 1 {
		return fmt.Errorf("%w: max_retry must be at least 1, got %d", ErrInvalidValue, c.MaxRetry)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry_delay is negative", ErrInvalidValue)
	}
	if c.MaxFilesToDownload < 0 {
		return fmt.Errorf("%w: max_files_to_download is negative", ErrInvalidValue)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests_per_second is negative", ErrInvalidValue)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
