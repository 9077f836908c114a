// Package config loads the service configuration from defaults, an optional
// YAML file and JOIN_ prefixed environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Redis   RedisConfig   `koanf:"redis"`
	Feed    FeedConfig    `koanf:"feed"`
	Auth    AuthConfig    `koanf:"auth"`
	Board   BoardConfig   `koanf:"board"`
	Session SessionConfig `koanf:"session"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Debug           bool          `koanf:"debug"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowOrigins is a comma separated CORS origin list.
	AllowOrigins string        `koanf:"allow_origins"`
	ToastTTL     time.Duration `koanf:"toast_ttl"`
	// FormIdleTTL drops live validation forms nobody touched for that long.
	FormIdleTTL  time.Duration `koanf:"form_idle_ttl"`
}

type StorageConfig struct {
	ConnectionString string        `koanf:"connection_string"`
	Partition        string        `koanf:"partition"`
	ContactsTable    string        `koanf:"contacts_table"`
	TasksTable       string        `koanf:"tasks_table"`
	SubtasksTable    string        `koanf:"subtasks_table"`
	AccountsTable    string        `koanf:"accounts_table"`
	RetryQueue       string        `koanf:"retry_queue"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
}

type RedisConfig struct {
	ConnectionString string `koanf:"connection_string"`
}

// Feed drivers.
const (
	FeedRedis  = "redis"
	FeedNATS   = "nats"
	FeedMemory = "memory"
)

type FeedConfig struct {
	Driver  string `koanf:"driver"`
	NATSURL string `koanf:"nats_url"`
}

// Auth modes.
const (
	// AuthLocal signs and verifies HS256 tokens with a shared secret.
	AuthLocal = "local"
	// AuthAuth0 verifies RS256 tokens against the tenant's JWKS.
	AuthAuth0 = "auth0"
)

type AuthConfig struct {
	Mode         string        `koanf:"mode"`
	Secret       string        `koanf:"secret"`
	Issuer       string        `koanf:"issuer"`
	Audience     string        `koanf:"audience"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	Domain       string        `koanf:"domain"`
	JWKSCacheTTL time.Duration `koanf:"jwks_cache_ttl"`
	BcryptCost   int           `koanf:"bcrypt_cost"`
}

type BoardConfig struct {
	SavePolicy     string        `koanf:"save_policy"`
	RefreshRate    float64       `koanf:"refresh_rate"`
	RefreshBurst   int           `koanf:"refresh_burst"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	// ReplayInterval is how often serve drains parked subtask writes. A
	// negative interval leaves replays to the replay-writes command.
	ReplayInterval time.Duration `koanf:"replay_interval"`
}

type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.AllowOrigins == "" {
		cfg.Server.AllowOrigins = "*"
	}
	if cfg.Server.ToastTTL == 0 {
		cfg.Server.ToastTTL = 3 * time.Second
	}
	if cfg.Server.FormIdleTTL == 0 {
		cfg.Server.FormIdleTTL = 30 * time.Minute
	}

	if cfg.Storage.Partition == "" {
		cfg.Storage.Partition = "join"
	}
	if cfg.Storage.ContactsTable == "" {
		cfg.Storage.ContactsTable = "contacts"
	}
	if cfg.Storage.TasksTable == "" {
		cfg.Storage.TasksTable = "tasks"
	}
	if cfg.Storage.SubtasksTable == "" {
		cfg.Storage.SubtasksTable = "subtasks"
	}
	if cfg.Storage.AccountsTable == "" {
		cfg.Storage.AccountsTable = "accounts"
	}
	if cfg.Storage.RetryQueue == "" {
		cfg.Storage.RetryQueue = "subtask-writes"
	}
	if cfg.Storage.CacheTTL == 0 {
		cfg.Storage.CacheTTL = 30 * time.Second
	}

	if cfg.Feed.Driver == "" {
		cfg.Feed.Driver = FeedRedis
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthLocal
	}
	if cfg.Auth.Issuer == "" && cfg.Auth.Mode == AuthLocal {
		cfg.Auth.Issuer = "join"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}
	if cfg.Auth.JWKSCacheTTL == 0 {
		cfg.Auth.JWKSCacheTTL = 15 * time.Minute
	}

	if cfg.Board.SavePolicy == "" {
		cfg.Board.SavePolicy = "best-effort"
	}
	if cfg.Board.RefreshRate == 0 {
		cfg.Board.RefreshRate = 5
	}
	if cfg.Board.RefreshBurst == 0 {
		cfg.Board.RefreshBurst = 5
	}
	if cfg.Board.BackoffInitial == 0 {
		cfg.Board.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.Board.BackoffMax == 0 {
		cfg.Board.BackoffMax = 30 * time.Second
	}
	if cfg.Board.ReplayInterval == 0 {
		cfg.Board.ReplayInterval = time.Minute
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * 24 * time.Hour
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Storage.ConnectionString == "" {
		errs = append(errs, errors.New("storage.connection_string is required"))
	}
	if c.Redis.ConnectionString == "" {
		errs = append(errs, errors.New("redis.connection_string is required"))
	}
	switch c.Feed.Driver {
	case FeedRedis, FeedMemory:
	case FeedNATS:
		if c.Feed.NATSURL == "" {
			errs = append(errs, errors.New("feed.nats_url is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feed.driver %q", c.Feed.Driver))
	}
	switch c.Auth.Mode {
	case AuthLocal:
		if len(c.Auth.Secret) < 16 {
			errs = append(errs, errors.New("auth.secret must be at least 16 characters in local mode"))
		}
	case AuthAuth0:
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			errs = append(errs, errors.New("auth.domain and auth.audience are required in auth0 mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}
	switch c.Board.SavePolicy {
	case "best-effort", "all-or-nothing":
	default:
		errs = append(errs, fmt.Errorf("unknown board.save_policy %q", c.Board.SavePolicy))
	}
	if c.Board.RefreshRate < 0 {
		errs = append(errs, errors.New("board.refresh_rate must not be negative"))
	}
	return errors.Join(errs...)
}

// Origins splits AllowOrigins.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RedisOptions accepts a redis:// URL or the Azure Cache form
// "host:port,password=...,ssl=True".
func (r RedisConfig) RedisOptions() (*redis.Options, error) {
	if r.ConnectionString == "" {
		return nil, errors.New("redis connection string is empty")
	}
	opts, err := redis.ParseURL(r.ConnectionString)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(r.ConnectionString, ",")
	if strings.Contains(parts[0], "://") || strings.TrimSpace(parts[0]) == "" {
		return nil, err
	}
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
