package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"QuantGate/internal/domain/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity"`
			RefillPerSec float64 `yaml:"refill_per_sec"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Executor struct {
		BaseURL        string        `yaml:"base_url"`
		SubmitPath     string        `yaml:"submit_path"`
		Timeout        time.Duration `yaml:"timeout"`
		SubmitAttempts int           `yaml:"submit_attempts"`
	} `yaml:"executor"`
	Auth struct {
		Token  string `yaml:"token"`
		UserID string `yaml:"user_id"`
	} `yaml:"auth"`
	Results struct {
		Transport     string        `yaml:"transport"`
		TopicPrefix   string        `yaml:"topic_prefix"`
		ListenTime    time.Duration `yaml:"listen_time"`
		TerminalGrace time.Duration `yaml:"terminal_grace"`
		MaxReconnects int           `yaml:"max_reconnects"`
		BackoffMin    time.Duration `yaml:"backoff_min"`
		BackoffMax    time.Duration `yaml:"backoff_max"`
		PollInterval  time.Duration `yaml:"poll_interval"`
		Redis         RedisConfig   `yaml:"redis"`
		Kafka         struct {
			Brokers   []string `yaml:"brokers"`
			Topic     string   `yaml:"topic"`
			Partition int      `yaml:"partition"`
			MinBytes  int      `yaml:"min_bytes"`
			MaxBytes  int      `yaml:"max_bytes"`
		} `yaml:"kafka"`
		WebSocket struct {
			URL string `yaml:"url"`
		} `yaml:"websocket"`
	} `yaml:"results"`
	Charts struct {
		Dir string `yaml:"dir"`
	} `yaml:"charts"`
	Proxy         models.ProxyConfig         `yaml:"proxy"`
	BuiltinServer models.BuiltinServerConfig `yaml:"builtin_server"`
	Detection     struct {
		MetadataURL      string        `yaml:"metadata_url"`
		MetadataTokenURL string        `yaml:"metadata_token_url"`
		PublicIPURLs     []string      `yaml:"public_ip_urls"`
		StepTimeout      time.Duration `yaml:"step_timeout"`
		CacheTTL         time.Duration `yaml:"cache_ttl"`
	} `yaml:"detection"`
	Cache struct {
		RedisEnabled  bool          `yaml:"redis_enabled"`
		Prefix        string        `yaml:"prefix"`
		MemoryMaxSize int           `yaml:"memory_max_size"`
		OutcomeTTL    time.Duration `yaml:"outcome_ttl"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		KeyPrefix  string        `yaml:"key_prefix"`
	} `yaml:"queue"`
	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
	Outcomes struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		Topic       string   `yaml:"topic"`
		Compression string   `yaml:"compression"`
	} `yaml:"outcomes"`
}

// Default returns a configuration usable without a file (CLI runs).
func Default() *Config {
	c := &Config{Environment: "dev"}
	c.ApplyDefaults()
	return c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is honoured when present.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QG_EXECUTOR_URL"); v != "" {
		c.Executor.BaseURL = v
	}
	if v := os.Getenv("QG_AUTH_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("QG_USER_ID"); v != "" {
		c.Auth.UserID = v
	}
	if v := os.Getenv("QG_REDIS_ADDR"); v != "" {
		c.Results.Redis.Addr = v
	}
	if v := os.Getenv("QG_KAFKA_BROKERS"); v != "" {
		c.Results.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("QG_RESULTS_TRANSPORT"); v != "" {
		c.Results.Transport = v
	}
	if v := os.Getenv("QG_CHARTS_DIR"); v != "" {
		c.Charts.Dir = v
	}
	if v := os.Getenv("QG_PROXY_HOST"); v != "" {
		c.Proxy.Host = v
		c.Proxy.Enabled = true
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// synchronous runs hold the connection for the whole listening window
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.Capacity == 0 {
		c.Server.RateLimit.Capacity = 5
	}
	if c.Server.RateLimit.RefillPerSec == 0 {
		c.Server.RateLimit.RefillPerSec = 0.2
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Executor.SubmitPath == "" {
		c.Executor.SubmitPath = "/api/v1/backtest"
	}
	if c.Executor.Timeout == 0 {
		c.Executor.Timeout = 30 * time.Second
	}
	if c.Executor.SubmitAttempts == 0 {
		c.Executor.SubmitAttempts = 1
	}
	r := &c.Results
	if r.Transport == "" {
		r.Transport = "redis"
	}
	if r.TopicPrefix == "" {
		r.TopicPrefix = "backtest/results"
	}
	if r.ListenTime == 0 {
		r.ListenTime = 60 * time.Second
	}
	if r.MaxReconnects == 0 {
		r.MaxReconnects = 5
	}
	if r.BackoffMin == 0 {
		r.BackoffMin = 200 * time.Millisecond
	}
	if r.BackoffMax == 0 {
		r.BackoffMax = 5 * time.Second
	}
	if r.PollInterval == 0 {
		r.PollInterval = 250 * time.Millisecond
	}
	if r.Redis.Addr == "" {
		r.Redis.Addr = "localhost:6379"
	}
	if r.Kafka.Topic == "" {
		r.Kafka.Topic = "backtest.results"
	}
	if r.Kafka.MaxBytes == 0 {
		r.Kafka.MaxBytes = 10 << 20
	}
	if c.Charts.Dir == "" {
		c.Charts.Dir = "charts"
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 80
	}
	if c.BuiltinServer.ServerPort == 0 {
		c.BuiltinServer.ServerPort = 8000
	}
	d := &c.Detection
	if d.MetadataURL == "" {
		d.MetadataURL = "http://169.254.169.254/latest/meta-data/public-ipv4"
	}
	if d.MetadataTokenURL == "" {
		d.MetadataTokenURL = "http://169.254.169.254/latest/api/token"
	}
	if len(d.PublicIPURLs) == 0 {
		d.PublicIPURLs = []string{"https://api.ipify.org", "https://checkip.amazonaws.com", "https://ifconfig.me/ip"}
	}
	if d.StepTimeout == 0 {
		d.StepTimeout = 2 * time.Second
	}
	if d.CacheTTL == 0 {
		d.CacheTTL = 10 * time.Minute
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "quantgate"
	}
	if c.Cache.MemoryMaxSize == 0 {
		c.Cache.MemoryMaxSize = 1000
	}
	if c.Cache.OutcomeTTL == 0 {
		c.Cache.OutcomeTTL = 24 * time.Hour
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 10 * time.Second
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = "quantgate:queue"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "quantgate"
	}
	if c.Outcomes.Topic == "" {
		c.Outcomes.Topic = "backtest.outcomes"
	}
	if c.Outcomes.Compression == "" {
		c.Outcomes.Compression = "gzip"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Results.Transport {
	case "redis":
		if c.Results.Redis.Addr == "" {
			return fmt.Errorf("results.redis.addr is required")
		}
	case "kafka":
		if len(c.Results.Kafka.Brokers) == 0 {
			return fmt.Errorf("results.kafka.brokers cannot be empty")
		}
	case "websocket":
		if c.Results.WebSocket.URL == "" {
			return fmt.Errorf("results.websocket.url is required")
		}
	default:
		return fmt.Errorf("results.transport must be 'redis', 'kafka' or 'websocket', got '%s'", c.Results.Transport)
	}
	if c.Results.ListenTime < 0 {
		return fmt.Errorf("results.listen_time must not be negative")
	}
	if c.Executor.SubmitAttempts < 1 {
		return fmt.Errorf("executor.submit_attempts must be at least 1")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	if c.Outcomes.Enabled && len(c.Outcomes.Brokers) == 0 {
		return fmt.Errorf("outcomes.brokers cannot be empty when outcomes are enabled")
	}
	return nil
}

// ResolverConfig builds the explicit value handed to the URL resolver.
func (c *Config) ResolverConfig() models.ResolverConfig {
	return models.ResolverConfig{
		ChartsDir: c.Charts.Dir,
		Proxy:     c.Proxy,
		Builtin:   c.BuiltinServer,
	}
}

// LoadResolverFiles overlays server.json and html_server.json onto the
// resolver settings. Empty paths and missing files are skipped. An
// html_server.json without an "enabled" key requests server mode.
func (c *Config) LoadResolverFiles(serverJSON, htmlServerJSON string) error {
	if _, err := overlayJSON(serverJSON, &c.Proxy); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	keys, err := overlayJSON(htmlServerJSON, &c.BuiltinServer)
	if err != nil {
		return fmt.Errorf("html server config: %w", err)
	}
	if _, ok := keys["enabled"]; keys != nil && !ok {
		c.BuiltinServer.Enabled = true
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 80
	}
	if c.BuiltinServer.ServerPort == 0 {
		c.BuiltinServer.ServerPort = 8000
	}
	return nil
}

// overlayJSON decodes path into dest and returns the keys it contained,
// or nil when the file does not exist.
func overlayJSON(path string, dest interface{}) (map[string]json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &keys); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return keys, nil
}
