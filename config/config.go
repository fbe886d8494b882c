package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	Port        int64   `mapstructure:"port" json:"port"`
	ServiceName string  `mapstructure:"service_name" json:"service_name"`
	BodyLimit   string  `mapstructure:"body_limit" json:"body_limit"`
	LogLevel    string  `mapstructure:"log_level" json:"log_level"`
	Storage     Storage `mapstructure:"storage" json:"storage"`
}

type Storage struct {
	Type string `mapstructure:"type" json:"type"`
	// Prefix namespaces every redis key written by the mediator.
	Prefix string `mapstructure:"prefix" json:"prefix"`
	// Expiration of a stored entry, 0 keeps entries until teardown.
	Expiration  time.Duration `mapstructure:"expiration" json:"expiration"`
	RedisServer RedisServer   `mapstructure:"redis_server" json:"redis_server"`
}

type RedisServer struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// Defaults are applied before the config file, the environment and flags.
var Defaults = map[string]any{
	"port":                          18080,
	"service_name":                  "",
	"body_limit":                    "100M",
	"log_level":                     "info",
	"storage.type":                  StorageMemory,
	"storage.prefix":                "mediator",
	"storage.expiration":            "0s",
	"storage.redis_server.addr":     "localhost:6379",
	"storage.redis_server.user":     "",
	"storage.redis_server.password": "",
	"storage.redis_server.db":       0,
}

// FlagKeys maps command line flag names to config keys.
var FlagKeys = map[string]string{
	"port":       "port",
	"name":       "service_name",
	"log-level":  "log_level",
	"storage":    "storage.type",
	"redis-addr": "storage.redis_server.addr",
}

// LoadConfig loads the configuration. Precedence from low to high is defaults, the config
// file (optional, json or yaml by extension), MEDIATOR_* environment variables and flags.
func LoadConfig(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("fail to read config file %s, err: %w", file, err)
		}
	}

	v.SetEnvPrefix("mediator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("fail to bind flag %s, err: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("fail to decode config, err: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BodyLimit != "" {
		if _, err := bytes.Parse(c.BodyLimit); err != nil {
			return fmt.Errorf("invalid body limit %q, err: %w", c.BodyLimit, err)
		}
	}
	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisServer.Addr == "" {
			return errors.New("redis storage requires storage.redis_server.addr")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Expiration < 0 {
		return fmt.Errorf("invalid storage expiration %s", c.Storage.Expiration)
	}
	return nil
}

// Level maps the configured log level onto the gommon logger levels, defaulting to INFO.
func (c *Config) Level() log.Lvl {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
