package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig bounds the background job engine: a fixed worker pool pulling
// from one bounded backlog, plus the startup-reconciliation gate.
type QueueConfig struct {
	Workers          int  `mapstructure:"workers"`
	MaxBacklog       int  `mapstructure:"max_backlog"`
	ReconcileOnStart bool `mapstructure:"reconcile_on_start"`
}

// ScanConfig bounds the keyword scanner. GlobalRowBudget 0 means unlimited.
// CacheTTLMinutes 0 disables the periodic cache eviction sweep.
type ScanConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	GlobalRowBudget int `mapstructure:"global_row_budget"`
	CacheTTLMinutes int `mapstructure:"cache_ttl_minutes"`
}

// InventoryConfig bounds the host inventory builder. Budgets of 0 mean
// unlimited.
type InventoryConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	RowBudgetPerDataset int `mapstructure:"row_budget_per_dataset"`
	GlobalRowBudget     int `mapstructure:"global_row_budget"`
}

// NotifyConfig configures the completion webhook. An empty URL disables it.
type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/forensiq.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.max_backlog", 64)
	v.SetDefault("queue.reconcile_on_start", true)
	v.SetDefault("scan.batch_size", 500)
	v.SetDefault("scan.global_row_budget", 100000)
	v.SetDefault("scan.cache_ttl_minutes", 0)
	v.SetDefault("inventory.batch_size", 500)
	v.SetDefault("inventory.row_budget_per_dataset", 20000)
	v.SetDefault("inventory.global_row_budget", 100000)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_seconds", 5)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for deployment overrides
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.dsn", "DB_DSN")
	v.BindEnv("queue.workers", "QUEUE_WORKERS")
	v.BindEnv("queue.max_backlog", "QUEUE_MAX_BACKLOG")
	v.BindEnv("queue.reconcile_on_start", "QUEUE_RECONCILE_ON_START")
	v.BindEnv("scan.batch_size", "SCAN_BATCH_SIZE")
	v.BindEnv("scan.global_row_budget", "SCAN_GLOBAL_ROW_BUDGET")
	v.BindEnv("inventory.row_budget_per_dataset", "INVENTORY_ROW_BUDGET_PER_DATASET")
	v.BindEnv("inventory.global_row_budget", "INVENTORY_GLOBAL_ROW_BUDGET")
	v.BindEnv("notify.webhook_url", "NOTIFY_WEBHOOK_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations the job engine cannot run with. These are
// the only fatal startup errors in the system.
func (c *Config) validate() error {
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxBacklog < 0 {
		return fmt.Errorf("queue.max_backlog must be >= 0, got %d", c.Queue.MaxBacklog)
	}
	if c.Scan.BatchSize < 1 {
		return fmt.Errorf("scan.batch_size must be >= 1, got %d", c.Scan.BatchSize)
	}
	if c.Inventory.BatchSize < 1 {
		return fmt.Errorf("inventory.batch_size must be >= 1, got %d", c.Inventory.BatchSize)
	}
	if c.Scan.GlobalRowBudget < 0 || c.Inventory.GlobalRowBudget < 0 || c.Inventory.RowBudgetPerDataset < 0 {
		return fmt.Errorf("row budgets must be >= 0")
	}
	return nil
}
