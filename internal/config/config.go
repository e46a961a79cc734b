// config - источник загрузки конфигурации classbook.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// Перед чтением ENV подгружается необязательный .env (или DOTENV_PATH);
// уже выставленные переменные окружения им не перетираются.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Значения по умолчанию для полей, у которых нулевое значение осмысленно
// (cleanenv подставил бы env-default и поверх явных false/0).
const (
	DefaultRetryMax      uint64 = 2
	DefaultHealthEnabled        = true
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Health    HealthConfig    `yaml:"health"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dev       DevConfig       `yaml:"dev"`
}

// HTTPConfig — локальный веб-портал.
type HTTPConfig struct {
	Host    string        `yaml:"host"    env:"HTTP_HOST"    env-default:"127.0.0.1"`
	Port    string        `yaml:"port"    env:"HTTP_PORT"    env-default:"8080"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"15s"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// APIConfig — REST-бэкенд.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"     env:"API_BASE_URL"     env-default:"http://localhost:8000"`
	Timeout     time.Duration `yaml:"timeout"      env:"API_TIMEOUT"      env-default:"10s"`
	AuthPrefix  string        `yaml:"auth_prefix"  env:"API_AUTH_PREFIX"  env-default:"/api/v1/auth"`
	ProfilePath string        `yaml:"profile_path" env:"API_PROFILE_PATH" env-default:"/api/v1/auth/profile"`
	RetryMax    uint64        `yaml:"retry_max"    env:"API_RETRY_MAX"`
	UserAgent   string        `yaml:"user_agent"   env:"API_USER_AGENT"   env-default:"classbook/1.0"`
}

// StorageConfig — где живёт токен между запусками.
// Driver: file | memory | redis.
type StorageConfig struct {
	Driver   string `yaml:"driver"    env:"STORAGE_DRIVER"    env-default:"file"`
	Path     string `yaml:"path"      env:"STORAGE_PATH"      env-default:".classbook/storage.json"`
	RedisURL string `yaml:"redis_url" env:"STORAGE_REDIS_URL" env-default:"redis://localhost:6379/0"`
	Prefix   string `yaml:"prefix"    env:"STORAGE_PREFIX"    env-default:"classbook:"`
}

// SessionConfig — фоновые проверки сессии.
type SessionConfig struct {
	WatchInterval time.Duration `yaml:"watch_interval" env:"SESSION_WATCH_INTERVAL" env-default:"30s"`
	RefreshWindow time.Duration `yaml:"refresh_window" env:"SESSION_REFRESH_WINDOW" env-default:"5m"`
}

// HealthConfig — мониторинг /api/health бэкенда.
type HealthConfig struct {
	Enabled    bool          `yaml:"enabled"     env:"HEALTH_ENABLED"`
	Path       string        `yaml:"path"        env:"HEALTH_PATH"        env-default:"/api/health"`
	Interval   time.Duration `yaml:"interval"    env:"HEALTH_INTERVAL"    env-default:"30s"`
	MaxRetries int           `yaml:"max_retries" env:"HEALTH_MAX_RETRIES" env-default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"HEALTH_RETRY_DELAY" env-default:"5s"`
}

// RateLimitConfig — ограничение частоты отправки форм входа/регистрации.
type RateLimitConfig struct {
	AuthPerMinute float64 `yaml:"auth_per_minute" env:"RATE_LIMIT_AUTH_PER_MINUTE" env-default:"20"`
	AuthBurst     int     `yaml:"auth_burst"      env:"RATE_LIMIT_AUTH_BURST"      env-default:"5"`
}

// DevConfig — встроенный in-memory бэкенд для локального запуска.
type DevConfig struct {
	Enabled   bool          `yaml:"enabled"    env:"DEV_API_ENABLED"    env-default:"false"`
	Host      string        `yaml:"host"       env:"DEV_API_HOST"       env-default:"127.0.0.1"`
	Port      string        `yaml:"port"       env:"DEV_API_PORT"       env-default:"8000"`
	JWTSecret string        `yaml:"jwt_secret" env:"DEV_API_JWT_SECRET" env-default:"dev-secret-change-me"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"DEV_API_TOKEN_TTL"  env-default:"24h"`
}

func (d DevConfig) Addr() string { return net.JoinHostPort(d.Host, d.Port) }

// MustLoad — паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := applyUnsetDefaults(p, &cfg); err != nil {
			return nil, err
		}

		return cfg.validated()
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := applyUnsetDefaults("", &cfg); err != nil {
		return nil, err
	}

	return cfg.validated()
}

// explicitKeys — поля, для которых важно отличить "не задано" от нуля.
type explicitKeys struct {
	API struct {
		RetryMax *uint64 `yaml:"retry_max"`
	} `yaml:"api"`
	Health struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"health"`
}

// applyUnsetDefaults выставляет умолчания только тем полям, которые не заданы
// ни в файле, ни в окружении.
func applyUnsetDefaults(path string, cfg *Config) error {
	var keys explicitKeys

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := yaml.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if keys.API.RetryMax == nil && !envSet("API_RETRY_MAX") {
		cfg.API.RetryMax = DefaultRetryMax
	}

	if keys.Health.Enabled == nil && !envSet("HEALTH_ENABLED") {
		cfg.Health.Enabled = DefaultHealthEnabled
	}

	return nil
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

// validated нормализует значения и отсекает заведомо нерабочие.
func (c *Config) validated() (*Config, error) {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return nil, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}

	switch c.Storage.Driver {
	case "file", "memory", "redis":
	default:
		return nil, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	return c, nil
}

// loadDotEnv подгружает .env, если он есть. Явный DOTENV_PATH обязан существовать.
func loadDotEnv() error {
	if p := os.Getenv("DOTENV_PATH"); p != "" {
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load dotenv %q: %w", p, err)
		}

		return nil
	}

	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf(".env stat failed: %w", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	return nil
}
