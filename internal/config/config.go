package config

import (
	"errors"
	"fmt"
	"time"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Delivery modes select which change notification path feeds the hub.
const (
	DeliveryHook   = "hook"
	DeliveryListen = "listen"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`

	Database  Database  `mapstructure:"database" yaml:"database"`
	Delivery  Delivery  `mapstructure:"delivery" yaml:"delivery"`
	RateLimit RateLimit `mapstructure:"ratelimit" yaml:"ratelimit"`
	Client    Client    `mapstructure:"client" yaml:"client"`
}

// Database selects and tunes the message store.
type Database struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	Path         string `mapstructure:"path" yaml:"path"`
	URL          string `mapstructure:"url" yaml:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// Delivery configures the change notification bridge and the hub.
type Delivery struct {
	Mode           string        `mapstructure:"mode" yaml:"mode"`
	Channel        string        `mapstructure:"channel" yaml:"channel"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	DedupSize      int           `mapstructure:"dedup_size" yaml:"dedup_size"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
}

// RateLimit bounds how fast a single user may send messages.
// An empty RedisAddr keeps the limiter in process.
type RateLimit struct {
	MessagesPerMinute int    `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	RedisAddr         string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password" yaml:"redis_password"`
}

// Client holds the session manager tuning used by the watch command.
type Client struct {
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectDelayMax    time.Duration `mapstructure:"reconnect_delay_max" yaml:"reconnect_delay_max"`
	PollInterval         time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   64 * 1024,
		LogLevel:          "info",
		LogFormat:         "console",
		JWTSecret:         "",
		JWTIssuer:         "",
		JWTAudience:       "",
		JWTTTL:            24 * time.Hour,
		JWTRequired:       false,
		Database: Database{
			Driver:       DriverSQLite,
			Path:         "jobchat.db",
			MaxOpenConns: 10,
		},
		Delivery: Delivery{
			Mode:           DeliveryHook,
			Channel:        "message_events",
			ReconnectDelay: 5 * time.Second,
			DedupSize:      4096,
			DedupTTL:       5 * time.Minute,
		},
		RateLimit: RateLimit{
			MessagesPerMinute: 30,
		},
		Client: Client{
			MaxReconnectAttempts: 10,
			ReconnectDelay:       time.Second,
			ReconnectDelayMax:    5 * time.Second,
			PollInterval:         10 * time.Second,
		},
	}
}

// Validate reports configuration combinations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	switch c.Delivery.Mode {
	case DeliveryHook:
	case DeliveryListen:
		if c.Database.Driver != DriverPostgres {
			errs = append(errs, errors.New("delivery.mode listen requires the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown delivery.mode %q", c.Delivery.Mode))
	}

	if c.JWTRequired && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when jwt_required is set"))
	}
	if c.Client.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("client.max_reconnect_attempts must be positive"))
	}

	return errors.Join(errs...)
}
