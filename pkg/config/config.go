package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`

	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	CacheEnabled    bool   `mapstructure:"CACHE_ENABLED"`
	CacheTTLSeconds int    `mapstructure:"CACHE_TTL_SECONDS"`

	// PostgresURL enables the record archive when set.
	PostgresURL string `mapstructure:"POSTGRES_URL"`

	BaseURL             string `mapstructure:"BASE_URL"`
	Headless            bool   `mapstructure:"HEADLESS"`
	Proxies             string `mapstructure:"PROXIES"`
	MaxAttempts         int    `mapstructure:"MAX_ATTEMPTS"`
	PageTimeoutSeconds  int    `mapstructure:"PAGE_TIMEOUT_SECONDS"`
	LandmarkWaitSeconds int    `mapstructure:"LANDMARK_WAIT_SECONDS"`

	PoolSize    int `mapstructure:"POOL_SIZE"`
	PoolMaxSize int `mapstructure:"POOL_MAX_SIZE"`
	QueueSize   int `mapstructure:"QUEUE_SIZE"`

	BatchMaxConcurrent          int `mapstructure:"BATCH_MAX_CONCURRENT"`
	BatchMaxAgeHours            int `mapstructure:"BATCH_MAX_AGE_HOURS"`
	BatchCleanupIntervalMinutes int `mapstructure:"BATCH_CLEANUP_INTERVAL_MINUTES"`
}

var defaults = map[string]any{
	"SERVER_PORT":                    "8080",
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"REDIS_ADDR":                     "localhost:6379",
	"REDIS_PASSWORD":                 "",
	"REDIS_DB":                       0,
	"CACHE_ENABLED":                  true,
	"CACHE_TTL_SECONDS":              3600,
	"POSTGRES_URL":                   "",
	"BASE_URL":                       "https://patentscope.wipo.int",
	"HEADLESS":                       true,
	"PROXIES":                        "",
	"MAX_ATTEMPTS":                   5,
	"PAGE_TIMEOUT_SECONDS":           60,
	"LANDMARK_WAIT_SECONDS":          20,
	"POOL_SIZE":                      3,
	"POOL_MAX_SIZE":                  5,
	"QUEUE_SIZE":                     100,
	"BATCH_MAX_CONCURRENT":           3,
	"BATCH_MAX_AGE_HOURS":            24,
	"BATCH_CLEANUP_INTERVAL_MINUTES": 30,
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the given env file, if present, and the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// The file is optional; environment variables alone are enough in production.
	_ = v.ReadInConfig()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProxyList splits the comma separated PROXIES setting.
func (c *Config) ProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.Proxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

func (c *Config) LandmarkWait() time.Duration {
	return time.Duration(c.LandmarkWaitSeconds) * time.Second
}

func (c *Config) BatchMaxAge() time.Duration {
	return time.Duration(c.BatchMaxAgeHours) * time.Hour
}

func (c *Config) BatchCleanupInterval() time.Duration {
	return time.Duration(c.BatchCleanupIntervalMinutes) * time.Minute
}
