package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendTables = "tables"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Debug      bool   `env:"DEBUG"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile    string `env:"LOG_FILE"`
	ListenPort string `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"focusflow"`

	StorageConnectionString string        `env:"STORAGE_CONNECTION_STRING"`
	TablePrefix             string        `env:"TABLE_PREFIX"`
	ProvisionStorage        bool          `env:"PROVISION_STORAGE"`
	ActivityQueue           string        `env:"ACTIVITY_QUEUE"`
	ActivityQueueTTL        time.Duration `env:"ACTIVITY_QUEUE_TTL" envDefault:"168h"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL              time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	BreakerFailures    uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"10s"`

	MaxTasksPerRequest int `env:"MAX_TASKS_PER_REQUEST" envDefault:"100"`

	ActivityWorkers        int           `env:"ACTIVITY_WORKERS" envDefault:"4"`
	ActivityBuffer         int           `env:"ACTIVITY_BUFFER" envDefault:"1024"`
	ActivityTimeout        time.Duration `env:"ACTIVITY_TIMEOUT" envDefault:"10s"`
	ActivityHandoffTimeout time.Duration `env:"ACTIVITY_HANDOFF_TIMEOUT" envDefault:"15ms"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings each backend requires.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("missing MONGO_URI for mongo storage backend")
		}
	case BackendTables:
		if c.StorageConnectionString == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING for tables storage backend")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: must be memory, mongo or tables", c.StorageBackend)
	}
	if c.ActivityQueue != "" && c.StorageConnectionString == "" {
		return errors.New("missing STORAGE_CONNECTION_STRING for ACTIVITY_QUEUE")
	}
	if c.MaxTasksPerRequest <= 0 {
		return errors.New("invalid MAX_TASKS_PER_REQUEST: must be greater than zero")
	}
	if c.CacheTTL < 0 {
		return errors.New("invalid CACHE_TTL: must not be negative")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid LOG_FORMAT %q: must be json or text", c.LogFormat)
	}
	if c.RedisConnectionString != "" {
		if _, err := RedisOptions(c.RedisConnectionString); err != nil {
			return err
		}
	}
	return nil
}

// RedisOptions accepts a redis:// URL or the
// "host:port,password=...,ssl=true" form used by managed Redis offerings.
func RedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "://") {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING: %q", conn)
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
