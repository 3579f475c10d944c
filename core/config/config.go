// Package config loads teleflowd settings from a JSON file with TELEFLOW_*
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Defaults.
const (
	DefaultAPIBaseURL     = "https://api.telegram.org"
	DefaultRequestsPerSec = 30
	DefaultRetryDelayMs   = 1000
	DefaultPollTimeoutSec = 30
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultRedisPrefix    = "teleflow:"
	DefaultIPCCodec       = "json"
	DefaultLanguage       = "en"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config is the full daemon configuration.
type Config struct {
	BotToken       string  `json:"bot_token" env:"TELEFLOW_BOT_TOKEN"`
	APIBaseURL     string  `json:"api_base_url" env:"TELEFLOW_API_BASE_URL"`
	RequestsPerSec int     `json:"requests_per_sec" env:"TELEFLOW_REQUESTS_PER_SEC"`
	RetryDelayMs   int     `json:"retry_delay_ms" env:"TELEFLOW_RETRY_DELAY_MS"`
	PollTimeoutSec int     `json:"poll_timeout_sec" env:"TELEFLOW_POLL_TIMEOUT_SEC"`
	AllowedChats   []int64 `json:"allowed_chats" env:"TELEFLOW_ALLOWED_CHATS"`
	MaxAgeSec      int     `json:"max_age_sec" env:"TELEFLOW_MAX_AGE_SEC"`

	Session SessionConfig `json:"session"`
	IPC     IPCConfig     `json:"ipc"`
	I18n    I18nConfig    `json:"i18n"`
	Log     LogConfig     `json:"log"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend     string `json:"backend" env:"TELEFLOW_SESSION_BACKEND"`
	RedisAddr   string `json:"redis_addr" env:"TELEFLOW_REDIS_ADDR"`
	RedisDB     int    `json:"redis_db" env:"TELEFLOW_REDIS_DB"`
	RedisPrefix string `json:"redis_prefix" env:"TELEFLOW_REDIS_PREFIX"`
	RedisTTLSec int    `json:"redis_ttl_sec" env:"TELEFLOW_REDIS_TTL_SEC"`
}

// IPCConfig configures the coordinator/worker split. Zero workers and no
// socket path means a single process.
type IPCConfig struct {
	Workers    int    `json:"workers" env:"TELEFLOW_WORKERS"`
	Codec      string `json:"codec" env:"TELEFLOW_IPC_CODEC"`
	SocketPath string `json:"socket_path" env:"TELEFLOW_IPC_SOCKET"`
}

// I18nConfig locates the language files.
type I18nConfig struct {
	Dir             string `json:"dir" env:"TELEFLOW_LANG_DIR"`
	DefaultLanguage string `json:"default_language" env:"TELEFLOW_DEFAULT_LANGUAGE"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" env:"TELEFLOW_LOG_LEVEL"`
	Format string `json:"format" env:"TELEFLOW_LOG_FORMAT"`
}

// Load reads path (a missing file is not an error), applies environment
// overrides and defaults, then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = DefaultRequestsPerSec
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = DefaultRetryDelayMs
	}
	if cfg.PollTimeoutSec <= 0 {
		cfg.PollTimeoutSec = DefaultPollTimeoutSec
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = SessionBackendMemory
	}
	if cfg.Session.RedisAddr == "" {
		cfg.Session.RedisAddr = DefaultRedisAddr
	}
	if cfg.Session.RedisPrefix == "" {
		cfg.Session.RedisPrefix = DefaultRedisPrefix
	}
	if cfg.IPC.Codec == "" {
		cfg.IPC.Codec = DefaultIPCCodec
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = DefaultLanguage
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Validate checks field values. The bot token is not required here since it
// may come from the keychain.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("session backend %q must be %q or %q", c.Session.Backend, SessionBackendMemory, SessionBackendRedis)
	}
	switch c.IPC.Codec {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("unknown ipc codec %q", c.IPC.Codec)
	}
	if c.IPC.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.MaxAgeSec < 0 || c.Session.RedisTTLSec < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// RetryDelay returns the scheduler retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// MaxAge returns the update freshness window; zero disables the check.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSec) * time.Second
}

// RedisTTL returns the session key expiry; zero keeps keys forever.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Session.RedisTTLSec) * time.Second
}
