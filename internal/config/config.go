package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures one coordinator instance's runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	LogLevel            string        `mapstructure:"log_level"`
	InstanceID          string        `mapstructure:"instance_id"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Store               StoreConfig   `mapstructure:"store"`
	Grid                GridConfig    `mapstructure:"grid"`
	Session             SessionConfig `mapstructure:"session"`
}

// AdminConfig describes the observability HTTP surface.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// StoreConfig selects and parameterizes the durable store backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"` // "redis" or "memory"
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds redis connection parameters.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GridConfig fixes the room grid dimensions. Size is a deployment constant,
// not a structural limit.
type GridConfig struct {
	Rows int `mapstructure:"rows"`
	Cols int `mapstructure:"cols"`
}

// SessionConfig tunes the coordination timers.
type SessionConfig struct {
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	PresenceGrace     time.Duration `mapstructure:"presence_grace"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultAdminAddress        = "0.0.0.0:9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultStoreBackend        = "redis"
	defaultRedisAddr           = "localhost:6379"
	defaultGridRows            = 100
	defaultGridCols            = 26
	defaultLockTTL             = time.Hour
	defaultPresenceGrace       = 5 * time.Second
	defaultHeartbeatInterval   = 30 * time.Second
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with GRIDWIRE_ and can
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRIDWIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("instance_id", "")
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("store.backend", defaultStoreBackend)
	v.SetDefault("store.redis.addr", defaultRedisAddr)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("grid.rows", defaultGridRows)
	v.SetDefault("grid.cols", defaultGridCols)
	v.SetDefault("session.lock_ttl", defaultLockTTL.String())
	v.SetDefault("session.presence_grace", defaultPresenceGrace.String())
	v.SetDefault("session.heartbeat_interval", defaultHeartbeatInterval.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout},
		{"session.lock_ttl", &cfg.Session.LockTTL},
		{"session.presence_grace", &cfg.Session.PresenceGrace},
		{"session.heartbeat_interval", &cfg.Session.HeartbeatInterval},
	}
	for _, d := range durations {
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported store backend %q (expected redis or memory)", c.Store.Backend)
	}
	if c.Grid.Rows <= 0 || c.Grid.Cols <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", c.Grid.Rows, c.Grid.Cols)
	}
	if c.Session.PresenceGrace <= 0 {
		return fmt.Errorf("presence_grace must be positive, got %s", c.Session.PresenceGrace)
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %s", c.Session.HeartbeatInterval)
	}
	return nil
}
