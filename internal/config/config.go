// Package config loads application configuration from the environment, with
// an optional YAML file as the base layer
// 環境変数からアプリケーション設定を読み込む。任意でYAMLファイルを
// ベースレイヤーとして使用可能。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config アプリケーション全体の設定
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig データベース接続設定
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// APIConfig HTTPサーバー設定
type APIConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig インメモリキャッシュ設定
type CacheConfig struct {
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// JobsConfig バックグラウンドジョブ設定
type JobsConfig struct {
	AlertSweepInterval    time.Duration `yaml:"alert_sweep_interval"`
	PredictionInterval    time.Duration `yaml:"prediction_interval"`
	SeasonalTrendInterval time.Duration `yaml:"seasonal_trend_interval"`
	CacheCleanupInterval  time.Duration `yaml:"cache_cleanup_interval"`
}

// LoggingConfig ログ設定
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load builds the configuration. The optional file named by CONFIG_FILE is
// read first; environment variables then override each field.
// 設定を構築する。CONFIG_FILEで指定された任意のファイルを先に読み込み、
// その後に環境変数が各フィールドを上書きする。
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)

	cfg.API.Host = getEnv("API_HOST", cfg.API.Host)
	cfg.API.Port = getEnvAsInt("API_PORT", cfg.API.Port)
	cfg.API.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.ShutdownTimeout = getEnvAsDuration("API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)

	cfg.Cache.MaxSize = getEnvAsInt("CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.DefaultTTL = getEnvAsDuration("CACHE_DEFAULT_TTL", cfg.Cache.DefaultTTL)

	cfg.Jobs.AlertSweepInterval = getEnvAsDuration("JOB_ALERT_SWEEP_INTERVAL", cfg.Jobs.AlertSweepInterval)
	cfg.Jobs.PredictionInterval = getEnvAsDuration("JOB_PREDICTION_INTERVAL", cfg.Jobs.PredictionInterval)
	cfg.Jobs.SeasonalTrendInterval = getEnvAsDuration("JOB_SEASONAL_TREND_INTERVAL", cfg.Jobs.SeasonalTrendInterval)
	cfg.Jobs.CacheCleanupInterval = getEnvAsDuration("JOB_CACHE_CLEANUP_INTERVAL", cfg.Jobs.CacheCleanupInterval)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Development = getEnvAsBool("LOG_DEVELOPMENT", cfg.Logging.Development)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults 既定値を返す
func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "",
			Name:            "uriage",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize:    1000,
			DefaultTTL: 5 * time.Minute,
		},
		Jobs: JobsConfig{
			AlertSweepInterval:    15 * time.Minute,
			PredictionInterval:    6 * time.Hour,
			SeasonalTrendInterval: 24 * time.Hour,
			CacheCleanupInterval:  1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate 設定値の整合性を検証
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("データベースホストが設定されていません")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("データベースポートが無効です: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("データベース名が設定されていません")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("APIポートが無効です: %d", c.API.Port)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("キャッシュ最大サイズは正の値である必要があります: %d", c.Cache.MaxSize)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("キャッシュTTLは正の値である必要があります: %s", c.Cache.DefaultTTL)
	}
	return nil
}

// DSN PostgreSQL接続文字列を構築
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Addr HTTPサーバーのリッスンアドレスを構築
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv 環境変数を取得（未設定ならデフォルト値）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvAsDuration 環境変数を期間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
