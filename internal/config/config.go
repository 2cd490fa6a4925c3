package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the feed hub configuration.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Push     PushConfig     `yaml:"push"`
	Database DBConfig       `yaml:"database"`
	Writers  WritersConfig  `yaml:"writers"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this hub instance.
type InstanceConfig struct {
	ID string `yaml:"id" validate:"required"`
}

// FeedConfig configures the upstream market feed.
type FeedConfig struct {
	// Enabled turns the upstream feed on. When false nothing is dialed and
	// consumers can register but receive no ticks.
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required,url"`
	Mode    string `yaml:"mode" validate:"oneof=ticker quote full"`

	// Insecure dials without credentials (local or recorded feeds).
	Insecure bool `yaml:"insecure"`

	// Credentials. AccessToken wins over AccessTokenFile.
	ClientID        string `yaml:"client_id" validate:"required_if=Enabled true Insecure false"`
	AccessToken     string `yaml:"access_token"`
	AccessTokenFile string `yaml:"access_token_file"`

	// Instruments subscribed at startup as the "watchlist" consumer.
	// Each entry is SEGMENT:SECURITY_ID (e.g. NSE_EQ:2885).
	Watchlist []string `yaml:"watchlist"`

	LivenessWindow     time.Duration `yaml:"liveness_window" validate:"gt=0"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	CheckInterval      time.Duration `yaml:"check_interval" validate:"gt=0"`
	DialTimeout        time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout" validate:"gt=0"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay" validate:"gt=0"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay" validate:"gtefield=ReconnectBaseDelay"`
	PingInterval       time.Duration `yaml:"ping_interval" validate:"gte=0"`
	BufferSize         int           `yaml:"buffer_size" validate:"gte=1"`
}

// PushConfig configures the downstream websocket server.
type PushConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr" validate:"required_if=Enabled true"`
	Path           string        `yaml:"path" validate:"startswith=/"`
	SessionBuffer  int           `yaml:"session_buffer" validate:"gte=1"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DBConfig holds connection parameters for the tick archive database.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" validate:"required_if=Enabled true"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Name     string `yaml:"name" validate:"required_if=Enabled true"`
	User     string `yaml:"user" validate:"required_if=Enabled true"`
	Password string `yaml:"password" validate:"required_if=Enabled true"`
	SSLMode  string `yaml:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns int    `yaml:"max_conns" validate:"gte=1"`
	MinConns int    `yaml:"min_conns" validate:"gte=0"`
}

// WritersConfig configures the tick archive writer.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	BufferSize    int           `yaml:"buffer_size" validate:"gte=1"`
}

// RedisConfig configures the last-price cache.
type RedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db" validate:"gte=0"`
	KeyPrefix     string        `yaml:"key_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
}

// MetricsConfig configures the health/metrics HTTP server.
type MetricsConfig struct {
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	Path string `yaml:"path" validate:"startswith=/"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Load reads a YAML config file and expands ${VAR} references from the
// environment. No defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the config and fills unset optional fields.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, applies defaults and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env files into the process environment before the
// config is expanded. Variables already set are not overridden. A missing
// file is not an error.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}
