package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated
// by a double underscore: AUCTION_SERVER__PORT sets server.port.
const EnvPrefix = "AUCTION_"

// DefaultConfigPath is read when no path is given and the file exists.
const DefaultConfigPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server      ServerConfig      `koanf:"server"`
	WebSocket   WebSocketConfig   `koanf:"websocket"`
	Auction     AuctionConfig     `koanf:"auction"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Kafka       KafkaConfig       `koanf:"kafka"`
	Notifier    NotifierConfig    `koanf:"notifier"`
	Security    SecurityConfig    `koanf:"security"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	PongTimeout    time.Duration `koanf:"pong_timeout"`
	PingPeriod     time.Duration `koanf:"ping_period"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBufferSize int           `koanf:"send_buffer_size"`
	BidsPerSecond  float64       `koanf:"bids_per_second"`
	BidBurst       int           `koanf:"bid_burst"`
}

type AuctionConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// ExplicitRejections surfaces unknown-auction, closed and self-bid
	// rejections to the bidder instead of treating them as silent no-ops.
	ExplicitRejections bool `koanf:"explicit_rejections"`
	// StrictCustomBids rejects custom bids that do not exceed the current price.
	StrictCustomBids bool          `koanf:"strict_custom_bids"`
	DispatchWorkers  int           `koanf:"dispatch_workers"`
	DispatchQueue    int           `koanf:"dispatch_queue"`
	DeadLetterSize   int           `koanf:"dead_letter_size"`
	EffectTimeout    time.Duration `koanf:"effect_timeout"`
}

type PersistenceConfig struct {
	// Driver is "file" or "postgres".
	Driver  string `koanf:"driver"`
	DataDir string `koanf:"data_dir"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
}

type RedisConfig struct {
	URL               string        `koanf:"url"`
	Password          string        `koanf:"password"`
	DB                int           `koanf:"db"`
	PoolSize          int           `koanf:"pool_size"`
	MinIdleConns      int           `koanf:"min_idle_conns"`
	MaxRetries        int           `koanf:"max_retries"`
	DialTimeout       time.Duration `koanf:"dial_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	NotificationQueue string        `koanf:"notification_queue"`
}

type KafkaConfig struct {
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	ClientID string   `koanf:"client_id"`
}

type NotifierConfig struct {
	// Driver is "log", "redis" or "kafka".
	Driver string `koanf:"driver"`
}

type SecurityConfig struct {
	// JWTSecret enables token based bidder identity when set.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	ServiceName   string        `koanf:"service_name"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// Defaults returns the configuration used before any file or environment
// override is applied.
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:   10 * time.Second,
			PongTimeout:    60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 4096,
			SendBufferSize: 64,
			BidsPerSecond:  5,
			BidBurst:       10,
		},
		Auction: AuctionConfig{
			SweepInterval:   5 * time.Second,
			DispatchWorkers: 8,
			DispatchQueue:   1024,
			DeadLetterSize:  1000,
			EffectTimeout:   30 * time.Second,
		},
		Persistence: PersistenceConfig{
			Driver:  "file",
			DataDir: "data",
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:          10,
			MinIdleConns:      1,
			MaxRetries:        3,
			DialTimeout:       5 * time.Second,
			ReadTimeout:       3 * time.Second,
			WriteTimeout:      3 * time.Second,
			NotificationQueue: "auction:notifications",
		},
		Kafka: KafkaConfig{
			Topic:    "auction.notifications",
			ClientID: "auction-engine",
		},
		Notifier: NotifierConfig{
			Driver: "log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "auction-engine",
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// AUCTION_ prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Auction.SweepInterval <= 0 {
		errs = append(errs, errors.New("auction.sweep_interval must be positive"))
	}
	if c.Auction.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("auction.dispatch_workers must be positive"))
	}
	if c.Auction.DispatchQueue < 0 {
		errs = append(errs, errors.New("auction.dispatch_queue must not be negative"))
	}

	switch c.Persistence.Driver {
	case "file":
		if c.Persistence.DataDir == "" {
			errs = append(errs, errors.New("persistence.data_dir is required for the file driver"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.driver %q", c.Persistence.Driver))
	}

	switch c.Notifier.Driver {
	case "log":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis notifier"))
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier.driver %q", c.Notifier.Driver))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
