// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the public JSON API server settings.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// AdminConfig holds the admin-guard settings gating FinalizeBlob,
// SetBlobPending, and SetAccountBlobTtlStatus.
type AdminConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL connection string.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	StatsTTL   time.Duration `mapstructure:"stats_ttl"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

// LedgerConfig holds the genesis parameters for the accounting core.
type LedgerConfig struct {
	CapacityTotal   string `mapstructure:"capacity_total"`
	CreditDebitRate string `mapstructure:"credit_debit_rate"`
}

// SchedulerConfig holds the auto-debit tick interval.
type SchedulerConfig struct {
	DebitTickInterval time.Duration `mapstructure:"debit_tick_interval"`
}

// LogConfig holds zerolog output settings.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Sampling bool   `mapstructure:"sampling"`
}

// Config is the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("admin.port", 8081)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stats_ttl", "5s")
	v.SetDefault("redis.lock_ttl", "10s")
	v.SetDefault("ledger.capacity_total", "1099511627776") // 1 TiB
	v.SetDefault("ledger.credit_debit_rate", "1")
	v.SetDefault("scheduler.debit_tick_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.sampling", false)
}

// LoadConfig reads config.yaml (if exists), environment variables, and
// flags. This is the application-level loader and performs stricter
// validation: database.url and admin.jwt_secret are required.
func LoadConfig() (*Config, error) {
	cfgFile := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(*cfgFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Admin.JWTSecret == "" {
		return nil, errors.New("admin.jwt_secret is required")
	}

	return &cfg, nil
}

// LoadConfigFrom loads configuration from the provided YAML path (e.g.
// "config.test.yml"). It is lenient: it only requires database.url and
// does not enforce admin.jwt_secret, for tests/integration where only DB
// connectivity is needed.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config from %s: %w", path, err)
	}

	if env := os.Getenv("TEST_DATABASE_URL"); env != "" {
		cfg.Database.URL = env
	} else if env := os.Getenv("DATABASE_URL"); env != "" && cfg.Database.URL == "" {
		cfg.Database.URL = env
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required (set TEST_DATABASE_URL, DATABASE_URL, or provide it in the YAML)")
	}

	return &cfg, nil
}
