// internal/config/config.go
// Loads service configuration from an optional YAML file and READSYNC_* env vars.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"

	"github.com/erilali/readsync/internal/logger"
)

const EnvPrefix = "READSYNC"

type (
	Config struct {
		HTTP      HTTP             `mapstructure:"http"`
		Sync      Sync             `mapstructure:"sync"`
		WebSocket WebSocket        `mapstructure:"websocket"`
		Store     Store            `mapstructure:"store"`
		Session   Session          `mapstructure:"session"`
		Identity  Identity         `mapstructure:"identity"`
		NATS      NATS             `mapstructure:"nats"`
		Log       logger.LogConfig `mapstructure:"log"`
	}

	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"` // empty allows any origin
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	}

	Sync struct {
		MaxPayloadBytes int    `mapstructure:"max_payload_bytes"`
		RequireJSON     bool   `mapstructure:"require_json"`
		AnonymousPolicy string `mapstructure:"anonymous_policy"` // isolated, shared, excluded
		FallbackKey     string `mapstructure:"fallback_key"`     // used by the shared policy
		SendBuffer      int    `mapstructure:"send_buffer"`
	}

	WebSocket struct {
		ReadDeadline  time.Duration `mapstructure:"read_deadline"`
		WriteDeadline time.Duration `mapstructure:"write_deadline"`
	}

	Store struct {
		Backend string `mapstructure:"backend"` // memory, redis
		Redis   Redis  `mapstructure:"redis"`
	}

	Redis struct {
		Addr      string        `mapstructure:"addr"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		KeyPrefix string        `mapstructure:"key_prefix"`
		TTL       time.Duration `mapstructure:"ttl"` // 0 keeps entries forever
	}

	Session struct {
		Store      string        `mapstructure:"store"` // memory, sqlite
		SQLitePath string        `mapstructure:"sqlite_path"`
		CookieName string        `mapstructure:"cookie_name"`
		UserKey    string        `mapstructure:"user_key"`
		Lifetime   time.Duration `mapstructure:"lifetime"`
	}

	Identity struct {
		Header string `mapstructure:"header"` // trusted proxy header, empty disables
	}

	NATS struct {
		Enabled   bool          `mapstructure:"enabled"`
		URL       string        `mapstructure:"url"`
		Stream    string        `mapstructure:"stream"`
		Retention time.Duration `mapstructure:"retention"`
	}
)

func setDefaults(v *viper.Viper) {
	def := logger.DefaultLogConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("sync.max_payload_bytes", 64*1024)
	v.SetDefault("sync.require_json", false)
	v.SetDefault("sync.anonymous_policy", "isolated")
	v.SetDefault("sync.fallback_key", "defaultUser")
	v.SetDefault("sync.send_buffer", 32)

	v.SetDefault("websocket.read_deadline", 60*time.Second)
	v.SetDefault("websocket.write_deadline", 10*time.Second)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "readinglist:")
	v.SetDefault("store.redis.ttl", time.Duration(0))

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.sqlite_path", "./sessions.db")
	v.SetDefault("session.cookie_name", "session")
	v.SetDefault("session.user_key", "user_email")
	v.SetDefault("session.lifetime", 24*time.Hour)

	v.SetDefault("identity.header", "")

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", nats.DefaultURL)
	v.SetDefault("nats.stream", "READINGLIST")
	v.SetDefault("nats.retention", 24*time.Hour)

	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.to_file", def.LogToFile)
	v.SetDefault("log.json", def.LogToJSON)
	v.SetDefault("log.file_path", def.FilePath)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age", def.MaxAge)
	v.SetDefault("log.compress", def.Compress)
}

// Load reads configuration. With an empty path it looks for config.yaml in
// ./ and ./config and silently falls back to defaults when none exists; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Sync.AnonymousPolicy {
	case "isolated", "shared", "excluded":
	default:
		return fmt.Errorf("sync.anonymous_policy: unknown policy %q", c.Sync.AnonymousPolicy)
	}
	if c.Sync.MaxPayloadBytes <= 0 {
		return fmt.Errorf("sync.max_payload_bytes must be positive, got %d", c.Sync.MaxPayloadBytes)
	}
	if c.Sync.SendBuffer <= 0 {
		return fmt.Errorf("sync.send_buffer must be positive, got %d", c.Sync.SendBuffer)
	}
	if c.Sync.AnonymousPolicy == "shared" && c.Sync.FallbackKey == "" {
		return errors.New("sync.fallback_key is required by the shared anonymous policy")
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("session.store: unknown store %q", c.Session.Store)
	}
	return nil
}
