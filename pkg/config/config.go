package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// S3Config holds the connection settings of an S3 compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"pathStyle"`
}

// AzureConfig holds the connection settings of an Azure Blob container.
type AzureConfig struct {
	Container        string `yaml:"container"`
	AccountName      string `yaml:"accountName"`
	AccountKey       string `yaml:"accountKey"`
	Endpoint         string `yaml:"endpoint"`
	ConnectionString string `yaml:"connectionString"`
}

// StorageConfig selects a storage driver and its root path.
type StorageConfig struct {
	Type  string      `yaml:"type"` // local, s3 or azure
	Path  string      `yaml:"path"`
	S3    S3Config    `yaml:"s3"`
	Azure AzureConfig `yaml:"azure"`
}

type WorkerConfig struct {
	NumThreads       int           `yaml:"numThreads"`
	CacheSize        int           `yaml:"cacheSize"`
	CacheOffsetsSize int64         `yaml:"cacheOffsetsSize"`
	CacheIdleTimeout time.Duration `yaml:"cacheIdleTimeout"`
	MaxFilesPerTopic int           `yaml:"maxFilesPerTopic"`
	MinimumFileAge   time.Duration `yaml:"minimumFileAge"`
	MaxAttempts      int           `yaml:"maxAttempts"`
	ListConcurrency  int           `yaml:"listConcurrency"`
	TempDir          string        `yaml:"tempDir"`
}

type DeduplicationConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DistinctFields []string `yaml:"distinctFields"`
	IgnoreFields   []string `yaml:"ignoreFields"`
}

type FormatConfig struct {
	Type          string              `yaml:"type"` // csv or json
	Compression   string              `yaml:"compression"`
	Deduplication DeduplicationConfig `yaml:"deduplication"`
}

type PathConfig struct {
	Factory    string `yaml:"factory"`
	TimeBucket string `yaml:"timeBucket"`
}

type TopicConfig struct {
	Exclude []string `yaml:"exclude"`
}

type OffsetsConfig struct {
	Backend  string        `yaml:"backend"` // csv or badger
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
}

type LockConfig struct {
	Backend string        `yaml:"backend"` // file or badger
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

type StateConfig struct {
	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`
}

type CleanerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Age     time.Duration `yaml:"age"`
}

type ServiceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type NotifyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AppConfig struct {
	Source  StorageConfig `yaml:"source"`
	Target  StorageConfig `yaml:"target"`
	Worker  WorkerConfig  `yaml:"worker"`
	Format  FormatConfig  `yaml:"format"`
	Paths   PathConfig    `yaml:"paths"`
	Topics  TopicConfig   `yaml:"topics"`
	Offsets OffsetsConfig `yaml:"offsets"`
	Lock    LockConfig    `yaml:"lock"`
	State   StateConfig   `yaml:"state"`
	Cleaner CleanerConfig `yaml:"cleaner"`
	Service ServiceConfig `yaml:"service"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// Default returns the configuration used for every key the YAML file leaves out.
func Default() AppConfig {
	cfg := AppConfig{
		Source: StorageConfig{Type: "local", Path: "topics"},
		Target: StorageConfig{Type: "local", Path: "output"},
		Worker: WorkerConfig{
			NumThreads:       1,
			CacheSize:        100,
			CacheOffsetsSize: 500_000,
			CacheIdleTimeout: 10 * time.Minute,
			MinimumFileAge:   time.Minute,
			MaxAttempts:      100,
			ListConcurrency:  8,
			TempDir:          os.TempDir(),
		},
		Format: FormatConfig{
			Type:        "csv",
			Compression: "none",
			Deduplication: DeduplicationConfig{
				Enabled: true,
			},
		},
		Paths:   PathConfig{Factory: "observation-key", TimeBucket: "hour"},
		Offsets: OffsetsConfig{Backend: "csv", Path: "offsets", Debounce: time.Second},
		Lock:    LockConfig{Backend: "file", Path: "locks", TTL: time.Hour},
		Cleaner: CleanerConfig{Age: 7 * 24 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	cfg.State.Badger.Path = "state"
	return cfg
}

// Load reads and parses a YAML config file into an AppConfig struct, on top of
// the defaults, and validates the result.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config file not found: %s", path)
	}
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings that cannot work at all.
func (c *AppConfig) Validate() error {
	if c.Worker.NumThreads < 1 {
		return fmt.Errorf("worker.numThreads must be at least 1, got %d", c.Worker.NumThreads)
	}
	if c.Worker.CacheSize < 1 {
		return fmt.Errorf("worker.cacheSize must be at least 1, got %d", c.Worker.CacheSize)
	}
	if c.Worker.CacheOffsetsSize < 1 {
		return fmt.Errorf("worker.cacheOffsetsSize must be at least 1, got %d", c.Worker.CacheOffsetsSize)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.maxAttempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.ListConcurrency < 1 {
		c.Worker.ListConcurrency = 1
	}
	switch c.Offsets.Backend {
	case "", "csv", "badger":
	default:
		return fmt.Errorf("offsets.backend must be csv or badger, got %q", c.Offsets.Backend)
	}
	switch c.Lock.Backend {
	case "", "file", "badger":
	default:
		return fmt.Errorf("lock.backend must be file or badger, got %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive, got %v", c.Lock.TTL)
	}
	for _, s := range []StorageConfig{c.Source, c.Target} {
		if s.Type == "s3" && s.S3.Bucket == "" {
			return errors.New("s3 storage requires a bucket")
		}
		if s.Type == "azure" && s.Azure.Container == "" {
			return errors.New("azure storage requires a container")
		}
	}
	if c.Notify.Enabled && (len(c.Notify.Brokers) == 0 || c.Notify.Topic == "") {
		return errors.New("notify requires brokers and a topic")
	}
	return nil
}
