// Package config loads server settings from an optional TOML file and
// SHOP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rl1809/storefront/internal/core/domain"
)

type Config struct {
	App     AppConfig
	Log     LogConfig
	HTTP    HTTPConfig
	GRPC    GRPCConfig
	Catalog CatalogConfig
	Sync    SyncConfig
	Orders  OrdersConfig
	MySQL   MySQLConfig
	Redis   RedisConfig
	S3      S3Config
	Notify  NotifyConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AdminToken guards the /admin routes; empty disables them.
	AdminToken string
}

type GRPCConfig struct {
	Addr    string
	Enabled bool
}

// CatalogConfig selects where the catalog lives.
type CatalogConfig struct {
	Driver            string // xlsx, csv, mysql, s3
	Path              string
	Sheet             string
	Comma             string
	PersistTimeout    time.Duration
	LowStockThreshold int
}

type SyncConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type OrdersConfig struct {
	DeductionPolicy string
	IdempotencyTTL  time.Duration
	Idempotency     string // memory, redis, none
}

type MySQLConfig struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Key          string
	UseSSL       bool
	UsePathStyle bool
}

type NotifyConfig struct {
	WebhookURL    string
	WebhookToken  string
	Timeout       time.Duration
	RatePerMinute int
	Burst         int
	QueueSize     int
	Workers       int
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Load reads path when given, otherwise looks for config.toml in the working
// directory. A missing default file is fine; a missing explicit file is not.
// Environment variables win over the file, e.g. SHOP_CATALOG_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("SHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			AdminToken:      v.GetString("http.admin_token"),
		},
		GRPC: GRPCConfig{
			Addr:    v.GetString("grpc.addr"),
			Enabled: v.GetBool("grpc.enabled"),
		},
		Catalog: CatalogConfig{
			Driver:            v.GetString("catalog.driver"),
			Path:              v.GetString("catalog.path"),
			Sheet:             v.GetString("catalog.sheet"),
			Comma:             v.GetString("catalog.comma"),
			PersistTimeout:    v.GetDuration("catalog.persist_timeout"),
			LowStockThreshold: v.GetInt("catalog.low_stock_threshold"),
		},
		Sync: SyncConfig{
			Interval: v.GetDuration("sync.interval"),
			Timeout:  v.GetDuration("sync.timeout"),
		},
		Orders: OrdersConfig{
			DeductionPolicy: v.GetString("orders.deduction_policy"),
			IdempotencyTTL:  v.GetDuration("orders.idempotency_ttl"),
			Idempotency:     v.GetString("orders.idempotency"),
		},
		MySQL: MySQLConfig{
			DSN:             v.GetString("mysql.dsn"),
			Table:           v.GetString("mysql.table"),
			MaxOpenConns:    v.GetInt("mysql.max_open_conns"),
			MaxIdleConns:    v.GetInt("mysql.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("mysql.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
			Prefix:   v.GetString("redis.prefix"),
		},
		S3: S3Config{
			Endpoint:     v.GetString("s3.endpoint"),
			Region:       v.GetString("s3.region"),
			AccessKey:    v.GetString("s3.access_key"),
			SecretKey:    v.GetString("s3.secret_key"),
			Bucket:       v.GetString("s3.bucket"),
			Key:          v.GetString("s3.key"),
			UseSSL:       v.GetBool("s3.use_ssl"),
			UsePathStyle: v.GetBool("s3.use_path_style"),
		},
		Notify: NotifyConfig{
			WebhookURL:    v.GetString("notify.webhook_url"),
			WebhookToken:  v.GetString("notify.webhook_token"),
			Timeout:       v.GetDuration("notify.timeout"),
			RatePerMinute: v.GetInt("notify.rate_per_minute"),
			Burst:         v.GetInt("notify.burst"),
			QueueSize:     v.GetInt("notify.queue_size"),
			Workers:       v.GetInt("notify.workers"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = ":50051"
	}
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = "xlsx"
	}
	if cfg.Catalog.Path == "" {
		switch cfg.Catalog.Driver {
		case "csv":
			cfg.Catalog.Path = "catalog.csv"
		default:
			cfg.Catalog.Path = "catalog.xlsx"
		}
	}
	if cfg.Catalog.Comma == "" {
		cfg.Catalog.Comma = ","
	}
	if cfg.Catalog.PersistTimeout == 0 {
		cfg.Catalog.PersistTimeout = 5 * time.Second
	}
	if cfg.Catalog.LowStockThreshold == 0 {
		cfg.Catalog.LowStockThreshold = 3
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 30 * time.Second
	}
	if cfg.Orders.DeductionPolicy == "" {
		cfg.Orders.DeductionPolicy = string(domain.DeductOnDelivery)
	}
	if cfg.Orders.IdempotencyTTL == 0 {
		cfg.Orders.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Orders.Idempotency == "" {
		cfg.Orders.Idempotency = "memory"
	}
	if cfg.MySQL.Table == "" {
		cfg.MySQL.Table = "catalog_items"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 10
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 5
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "storefront:"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.Key == "" {
		cfg.S3.Key = "catalog.csv"
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 5 * time.Second
	}
	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = 1000
	}
	if cfg.Notify.Workers == 0 {
		cfg.Notify.Workers = 2
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "storefront"
	}
}

func (c *Config) validate() error {
	switch c.Catalog.Driver {
	case "xlsx", "csv":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required for driver %q", c.Catalog.Driver)
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required for driver mysql")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for driver s3")
		}
	default:
		return fmt.Errorf("catalog.driver must be one of xlsx, csv, mysql, s3, got %q", c.Catalog.Driver)
	}

	if len([]rune(c.Catalog.Comma)) != 1 {
		return fmt.Errorf("catalog.comma must be a single character, got %q", c.Catalog.Comma)
	}
	if _, err := domain.ParseDeductionPolicy(c.Orders.DeductionPolicy); err != nil {
		return fmt.Errorf("orders.deduction_policy: %w", err)
	}
	switch c.Orders.Idempotency {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("orders.idempotency must be one of memory, redis, none, got %q", c.Orders.Idempotency)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval cannot be negative")
	}
	if c.Catalog.PersistTimeout < 0 {
		return fmt.Errorf("catalog.persist_timeout cannot be negative")
	}
	if c.MySQL.MaxIdleConns > c.MySQL.MaxOpenConns {
		return fmt.Errorf("mysql.max_idle_conns (%d) cannot exceed mysql.max_open_conns (%d)",
			c.MySQL.MaxIdleConns, c.MySQL.MaxOpenConns)
	}
	if c.Notify.RatePerMinute < 0 {
		return fmt.Errorf("notify.rate_per_minute cannot be negative")
	}
	if c.App.Env == "production" && c.HTTP.AdminToken != "" && len(c.HTTP.AdminToken) < 16 {
		return fmt.Errorf("http.admin_token must be at least 16 characters in production")
	}
	return nil
}

// Policy returns the parsed deduction policy. Load has already validated it.
func (c *Config) Policy() domain.DeductionPolicy {
	p, _ := domain.ParseDeductionPolicy(c.Orders.DeductionPolicy)
	return p
}

// CommaRune returns the CSV separator.
func (c *CatalogConfig) CommaRune() rune {
	return []rune(c.Comma)[0]
}
