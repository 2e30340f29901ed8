package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type (
	Config struct {
		Server    ServerConfig
		Storage   StorageConfig
		Mongo     MongoConfig
		Redis     RedisConfig
		Identity  IdentityConfig
		Store     StoreConfig
		Fanout    FanoutConfig
		WebSocket WebSocketConfig
		Log       LogConfig
	}

	ServerConfig struct {
		Addr            string
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	}

	StorageConfig struct {
		Backend string
	}

	MongoConfig struct {
		URI      string
		Database string
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	IdentityConfig struct {
		SigningKey string        `mapstructure:"signing_key"`
		CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	}

	StoreConfig struct {
		MaxBodyLen   int    `mapstructure:"max_body_len"`
		PageSize     int    `mapstructure:"page_size"`
		MaxPageSize  int    `mapstructure:"max_page_size"`
		CursorSecret string `mapstructure:"cursor_secret"`
	}

	FanoutConfig struct {
		QueueCapacity int `mapstructure:"queue_capacity"`
	}

	WebSocketConfig struct {
		PingInterval   time.Duration `mapstructure:"ping_interval"`
		PongWait       time.Duration `mapstructure:"pong_wait"`
		WriteWait      time.Duration `mapstructure:"write_wait"`
		MaxMessageSize int64         `mapstructure:"max_message_size"`
	}

	LogConfig struct {
		Level string
	}
)

// Load reads ./config/config.yaml (or ./config.yaml) when present and applies
// environment overrides on top of the defaults.
func Load() (*Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.addr", "SERVER_ADDR")
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("identity.signing_key", "IDENTITY_SIGNING_KEY")
	v.BindEnv("store.cursor_secret", "CURSOR_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:9090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("storage.backend", BackendMongo)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "mydb")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("identity.signing_key", "")
	v.SetDefault("identity.cache_ttl", "1h")
	v.SetDefault("store.max_body_len", 4000)
	v.SetDefault("store.page_size", 100)
	v.SetDefault("store.max_page_size", 500)
	v.SetDefault("store.cursor_secret", "")
	v.SetDefault("fanout.queue_capacity", 100)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("log.level", "info")
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Identity.SigningKey == "" {
		return errors.New("identity.signing_key is required")
	}
	if c.Store.MaxBodyLen <= 0 || c.Store.PageSize <= 0 || c.Store.MaxPageSize < c.Store.PageSize {
		return errors.New("store limits must be positive and max_page_size >= page_size")
	}
	if c.Fanout.QueueCapacity <= 0 {
		return errors.New("fanout.queue_capacity must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	return nil
}
