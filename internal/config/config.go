package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxOracleCacheTTL bounds how stale an existence probe may get. Tables are
// added and dropped between deploys, so the cache must never outlive one.
const MaxOracleCacheTTL = 5 * time.Minute

type Config struct {
	Server        ServerConfig    `mapstructure:"server"`
	Database      DatabaseConfig  `mapstructure:"database"`
	Redis         RedisConfig     `mapstructure:"redis"`
	Oracle        OracleConfig    `mapstructure:"oracle"`
	Aggregate     AggregateConfig `mapstructure:"aggregate"`
	Log           LogConfig       `mapstructure:"log"`
	JWTSecret     string          `mapstructure:"jwt_secret"`
	AdminUserType string          `mapstructure:"admin_user_type"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig enables the shared oracle cache when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type OracleConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AggregateConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "perfiles")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("oracle.cache_ttl", 30*time.Second)
	v.SetDefault("aggregate.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt_secret", "changeme-secret")
	v.SetDefault("admin_user_type", "Administrador")

	v.SetEnvPrefix("profile")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Oracle.CacheTTL < 0 {
		cfg.Oracle.CacheTTL = 0
	}
	if cfg.Oracle.CacheTTL > MaxOracleCacheTTL {
		cfg.Oracle.CacheTTL = MaxOracleCacheTTL
	}
	if cfg.Aggregate.Concurrency < 1 {
		cfg.Aggregate.Concurrency = 1
	}

	return &cfg, nil
}
