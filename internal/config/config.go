// Package config loads the server configuration: built-in defaults, then an
// optional YAML file named by CONFIG_FILE, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/ratelimit"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Auth      AuthConfig    `yaml:"auth"`
	Storage   StorageConfig `yaml:"storage"`
	Redis     RedisConfig   `yaml:"redis"`
	NATS      NATSConfig    `yaml:"nats"`
	Limits    LimitsConfig  `yaml:"limits"`
	Log       LogConfig     `yaml:"log"`
	RoomID    string        `yaml:"room_id"`
	PurgeCron string        `yaml:"purge_cron"`
}

// ServerConfig covers the HTTP listener and the WebSocket registry.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	WorkerPoolSize    int           `yaml:"worker_pool_size"`
	MaxConnections    int           `yaml:"max_connections"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	TrustProxy        bool          `yaml:"trust_proxy"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer credentials.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the shared rate limiter. An empty Addr keeps limits
// in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig enables the side channel. An empty URL discards events.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// LimitsConfig holds sliding-window limits.
type LimitsConfig struct {
	MessagesPerWindow   int           `yaml:"messages_per_window"`
	MessageWindow       time.Duration `yaml:"message_window"`
	AuthFailures        int           `yaml:"auth_failures"`
	AuthWindow          time.Duration `yaml:"auth_window"`
	ClientMessages      int           `yaml:"client_messages"`
	ClientMessageWindow time.Duration `yaml:"client_message_window"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			WorkerPoolSize:    256,
			MaxConnections:    100000,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:   "support-chat",
			TokenTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Limits: LimitsConfig{
			MessagesPerWindow:   20,
			MessageWindow:       time.Minute,
			AuthFailures:        10,
			AuthWindow:          15 * time.Minute,
			ClientMessages:      10,
			ClientMessageWindow: 30 * time.Second,
		},
		Log:       LogConfig{Format: "json", Level: "info"},
		RoomID:    model.DefaultRoomID,
		PurgeCron: "*/10 * * * *",
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the
// environment, then validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile merges a YAML file over cfg. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables read through getenv.
// Unset or empty variables leave the current value.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.stringVar("LISTEN_ADDR", &c.Server.ListenAddr)
	e.intVar("WORKER_POOL_SIZE", &c.Server.WorkerPoolSize)
	e.intVar("MAX_CONNECTIONS", &c.Server.MaxConnections)
	e.durationVar("READ_TIMEOUT", &c.Server.ReadTimeout)
	e.durationVar("WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.durationVar("HEARTBEAT_INTERVAL", &c.Server.HeartbeatInterval)
	e.durationVar("HEARTBEAT_TIMEOUT", &c.Server.HeartbeatTimeout)
	e.boolVar("TRUST_PROXY", &c.Server.TrustProxy)
	e.durationVar("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.stringVar("JWT_SECRET", &c.Auth.Secret)
	e.stringVar("JWT_ISSUER", &c.Auth.Issuer)
	e.durationVar("TOKEN_TTL", &c.Auth.TokenTTL)

	e.stringVar("STORAGE_DRIVER", &c.Storage.Driver)
	e.stringVar("DATABASE_URL", &c.Storage.DSN)

	e.stringVar("REDIS_ADDR", &c.Redis.Addr)
	e.stringVar("REDIS_PASSWORD", &c.Redis.Password)
	e.intVar("REDIS_DB", &c.Redis.DB)

	e.stringVar("NATS_URL", &c.NATS.URL)

	e.intVar("MESSAGE_LIMIT", &c.Limits.MessagesPerWindow)
	e.durationVar("MESSAGE_WINDOW", &c.Limits.MessageWindow)
	e.intVar("AUTH_FAILURE_LIMIT", &c.Limits.AuthFailures)
	e.durationVar("AUTH_FAILURE_WINDOW", &c.Limits.AuthWindow)

	e.stringVar("LOG_FORMAT", &c.Log.Format)
	e.stringVar("LOG_LEVEL", &c.Log.Level)
	e.stringVar("ROOM_ID", &c.RoomID)
	e.stringVar("PURGE_CRON", &c.PurgeCron)

	return errors.Join(e.errs...)
}

// MessageRule is the server-enforced send limit.
func (c *Config) MessageRule() ratelimit.Rule {
	r := ratelimit.RuleMessageSend
	r.Limit, r.Window = c.Limits.MessagesPerWindow, c.Limits.MessageWindow
	return r
}

// AuthRule is the per-origin authentication failure limit.
func (c *Config) AuthRule() ratelimit.Rule {
	r := ratelimit.RuleAuthAttempt
	r.Limit, r.Window = c.Limits.AuthFailures, c.Limits.AuthWindow
	return r
}

// ClientRule is the advisory limit published to clients.
func (c *Config) ClientRule() ratelimit.Rule {
	r := ratelimit.RuleMessageSendAdvisory
	r.Limit, r.Window = c.Limits.ClientMessages, c.Limits.ClientMessageWindow
	return r
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("config: storage.dsn is required for postgres"))
		}
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("config: auth.secret is required outside memory mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: auth.token_ttl must be positive"))
	}
	if !gronx.IsValid(c.PurgeCron) {
		errs = append(errs, fmt.Errorf("config: invalid purge_cron %q", c.PurgeCron))
	}
	if c.Limits.MessagesPerWindow <= 0 || c.Limits.MessageWindow <= 0 {
		errs = append(errs, errors.New("config: message limit and window must be positive"))
	}
	if c.Limits.AuthFailures <= 0 || c.Limits.AuthWindow <= 0 {
		errs = append(errs, errors.New("config: auth failure limit and window must be positive"))
	}
	if c.Limits.ClientMessages <= 0 || c.Limits.ClientMessageWindow <= 0 {
		errs = append(errs, errors.New("config: client message limit and window must be positive"))
	}
	if c.Server.HeartbeatInterval <= 0 || c.Server.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("config: heartbeat interval and timeout must be positive"))
	}
	if c.Server.WorkerPoolSize <= 0 || c.Server.MaxConnections <= 0 {
		errs = append(errs, errors.New("config: worker pool and max connections must be positive"))
	}
	if c.RoomID == "" {
		errs = append(errs, errors.New("config: room_id must not be empty"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) stringVar(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) boolVar(key string, dst *bool) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}
