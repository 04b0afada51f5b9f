package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"TickWatch/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8090" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Logging struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"tickwatch.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	// Backend is the remote dashboard API the session talks to.
	Backend struct {
		BaseURL    string        `yaml:"base_url" default:"http://localhost:5000/api" validate:"required,url"`
		StreamPath string        `yaml:"stream_path" default:"/ticks/stream" validate:"required,startswith=/"`
		Timeout    time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	} `yaml:"backend"`
	Stream struct {
		Reconnect struct {
			InitialDelay time.Duration `yaml:"initial_delay" default:"1s" validate:"gt=0"`
			MaxDelay     time.Duration `yaml:"max_delay" default:"30s" validate:"gtefield=InitialDelay"`
			Multiplier   float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
			MaxAttempts  int           `yaml:"max_attempts" validate:"gte=0"`
		} `yaml:"reconnect"`
	} `yaml:"stream"`
	Session struct {
		UnsubscribeTimeout time.Duration `yaml:"unsubscribe_timeout" default:"10s" validate:"gt=0"`
		CleanupTimeout     time.Duration `yaml:"cleanup_timeout" default:"5s" validate:"gt=0"`
		StatsInterval      time.Duration `yaml:"stats_interval" default:"5s" validate:"gt=0"`
		ReconcileOnStart   bool          `yaml:"reconcile_on_start" default:"true"`
	} `yaml:"session"`
	Lifecycle struct {
		OSSignals       bool `yaml:"os_signals" default:"true"`
		CleanupOnDetach bool `yaml:"cleanup_on_detach" default:"true"`
	} `yaml:"lifecycle"`
	RateLimit struct {
		Capacity     float64 `yaml:"capacity" default:"5" validate:"gt=0"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"1" validate:"gt=0"`
	} `yaml:"rate_limit"`
	Cache struct {
		Mode       string        `yaml:"mode" default:"memory" validate:"oneof=memory redis layered"`
		MarketsTTL time.Duration `yaml:"markets_ttl" default:"60s" validate:"gt=0"`
		MaxSize    int           `yaml:"max_size" default:"1000" validate:"gt=0"`
		Redis      struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"tickwatch"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	// Sink selects where received ticks are recorded.
	Sink struct {
		Type         string        `yaml:"type" default:"none" validate:"oneof=none kafka clickhouse"`
		MaxRPS       int           `yaml:"max_rps" default:"50" validate:"gte=0"`
		BufferSize   int           `yaml:"buffer_size" default:"2000" validate:"gt=0"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"5s"`
	} `yaml:"sink"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"tickwatch.ticks"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tickwatch"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads .env (when present), then the YAML file, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("SINK"); v != "" {
		c.Sink.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("SINK_MAX_RPS"); v != "" {
		c.Sink.MaxRPS = util.ParseIntDefault(v, c.Sink.MaxRPS)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Redis.Host = v
	}
	c.Cache.Redis.DB = util.ParseIntDefault(os.Getenv("REDIS_DB"), c.Cache.Redis.DB)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks struct tags plus the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Sink.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when sink.type is kafka")
	}
	if c.Logging.Collect.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when logging.collect is enabled")
	}
	return nil
}

// StreamURL is the absolute push-stream endpoint.
func (c *Config) StreamURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Backend.StreamPath
}
