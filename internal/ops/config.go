package ops

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tickerflow/internal/bus"
	"tickerflow/internal/model/enum"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMinio = "minio"
	StorageFile  = "file"
)

// Config mirrors the YAML config layout.
type Config struct {
	Sources   SourcesConfig   `yaml:"sources"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Queue     QueueConfig     `yaml:"queue"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

type SourcesConfig struct {
	Kucoin  KucoinConfig  `yaml:"kucoin"`
	Binance BinanceConfig `yaml:"binance"`
}

// StreamConfig holds the settings every exchange stream shares.
type StreamConfig struct {
	Enabled          *bool         `yaml:"enabled"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	MaxBatchAge      time.Duration `yaml:"max_batch_age"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	ConnectDelay     time.Duration `yaml:"connect_delay"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// IsEnabled defaults to true when unset.
func (c StreamConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type KucoinConfig struct {
	StreamConfig `yaml:",inline"`
	BootstrapURL string `yaml:"bootstrap_url"`
}

type BinanceConfig struct {
	StreamConfig `yaml:",inline"`
	URL          string `yaml:"url"`
}

type DispatchConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	ChannelSize   int           `yaml:"channel_size"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	// Overflow is "drop_newest" or "block".
	Overflow string `yaml:"overflow"`
}

type ArchiveConfig struct {
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxBatchAge  time.Duration `yaml:"max_batch_age"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Gzip         bool          `yaml:"gzip"`
	GzipLevel    int           `yaml:"gzip_level"`
}

type KafkaConfig struct {
	Brokers      []string          `yaml:"brokers"`
	Topics       map[string]string `yaml:"topics"`
	MaxAttempts  int               `yaml:"max_attempts"`
	WriteTimeout time.Duration     `yaml:"write_timeout"`
}

// SourceTopics resolves the topic overrides by source.
func (c KafkaConfig) SourceTopics() map[enum.Source]string {
	out := make(map[enum.Source]string, len(c.Topics))
	for name, topic := range c.Topics {
		if source, ok := enum.ParseSource(name); ok {
			out[source] = topic
		}
	}
	return out
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Minio  MinioConfig `yaml:"minio"`
	File   FileConfig  `yaml:"file"`
}

type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket"`
}

type FileConfig struct {
	Dir string `yaml:"dir"`
}

// CatalogConfig enables the Postgres object catalog when DSN or Host is set.
type CatalogConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

func (c CatalogConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ProfilingConfig struct {
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Load reads the optional .env files, expands ${VAR} references in the YAML
// file at path, applies defaults and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(raw)
}

// Parse expands and decodes raw YAML.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnv never overrides variables that are already set. Missing files are
// only an error when named explicitly.
func loadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			return godotenv.Load()
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Sources.Kucoin.applyDefaults(50, time.Second)
	c.Sources.Binance.applyDefaults(1, time.Second)

	if c.Dispatch.FlushInterval == 0 {
		c.Dispatch.FlushInterval = time.Second
	}
	if c.Dispatch.ChannelSize == 0 {
		c.Dispatch.ChannelSize = 64
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 10_000
	}
	if c.Archive.MaxBatchSize == 0 {
		c.Archive.MaxBatchSize = 100_000
	}
	if c.Archive.MaxBatchAge == 0 {
		c.Archive.MaxBatchAge = time.Minute
	}
	if c.Archive.PollTimeout == 0 {
		c.Archive.PollTimeout = time.Second
	}
	if c.Archive.WriteTimeout == 0 {
		c.Archive.WriteTimeout = 30 * time.Second
	}
	if c.Kafka.MaxAttempts == 0 {
		c.Kafka.MaxAttempts = 5
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMinio
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Minio.Bucket == "" {
		c.Storage.Minio.Bucket = "cryptopricesrt"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Profiling.ApplicationName == "" {
		c.Profiling.ApplicationName = "tickerflow.ingest"
	}
}

func (c *StreamConfig) applyDefaults(size int, age time.Duration) {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = size
	}
	if c.MaxBatchAge == 0 {
		c.MaxBatchAge = age
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = 200 * time.Millisecond
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = time.Second
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if !c.Sources.Kucoin.IsEnabled() && !c.Sources.Binance.IsEnabled() {
		return fmt.Errorf("invalid config: every source is disabled")
	}
	if err := c.Sources.Kucoin.validate("sources.kucoin"); err != nil {
		return err
	}
	if err := c.Sources.Binance.validate("sources.binance"); err != nil {
		return err
	}
	if c.Dispatch.FlushInterval < 0 {
		return fmt.Errorf("invalid config: dispatch.flush_interval must be > 0")
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("invalid config: queue.capacity must be > 0")
	}
	if _, ok := bus.ParseOverflowPolicy(c.Queue.Overflow); !ok {
		return fmt.Errorf("invalid config: queue.overflow %q is not drop_newest or block", c.Queue.Overflow)
	}
	if c.Archive.MaxBatchSize <= 0 || c.Archive.MaxBatchAge <= 0 {
		return fmt.Errorf("invalid config: archive max_batch_size and max_batch_age must be > 0")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid config: kafka.brokers is required")
	}
	for name := range c.Kafka.Topics {
		if _, ok := enum.ParseSource(name); !ok {
			return fmt.Errorf("invalid config: kafka.topics has unknown source %q", name)
		}
	}

	switch c.Storage.Driver {
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("invalid config: storage.minio.endpoint is required")
		}
	case StorageFile:
		if c.Storage.File.Dir == "" {
			return fmt.Errorf("invalid config: storage.file.dir is required")
		}
	default:
		return fmt.Errorf("invalid config: storage.driver %q is not minio or file", c.Storage.Driver)
	}

	return nil
}

func (c StreamConfig) validate(name string) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchAge <= 0 {
		return fmt.Errorf("invalid config: %s max_batch_size and max_batch_age must be > 0", name)
	}
	if c.ConnectAttempts < 0 || c.ConnectDelay < 0 || c.ReconnectBackoff < 0 {
		return fmt.Errorf("invalid config: %s retry settings must be >= 0", name)
	}
	return nil
}
