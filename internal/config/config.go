// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MaxConns      int32  `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type RazorpayConfig struct {
	KeyID         string `yaml:"key_id"`
	KeySecret     string `yaml:"key_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
	ScriptURL     string `yaml:"script_url"`
}

type PaymentConfig struct {
	Razorpay RazorpayConfig `yaml:"razorpay"`
}

type CheckoutConfig struct {
	TaxRate       string        `yaml:"tax_rate"` // decimal string, e.g. "0.18"
	Currency      string        `yaml:"currency"`
	OrderTTL      time.Duration `yaml:"order_ttl"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WidgetTimeout time.Duration `yaml:"widget_timeout"`
	WidgetRetries int           `yaml:"widget_retries"`
	ThemeColor    string        `yaml:"theme_color"`
	MerchantName  string        `yaml:"merchant_name"`
	CouponRate    int           `yaml:"coupon_rate_per_minute"`
	SessionIdle   time.Duration `yaml:"session_idle"`
}

// Rate parses TaxRate; LoadConfig has already validated it.
func (c CheckoutConfig) Rate() decimal.Decimal {
	d, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.RequireFromString(DefaultTaxRate)
	}
	return d
}

type SchedulerConfig struct {
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `yaml:"reconcile_stale_after"`
	Workers             int           `yaml:"workers"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Auth      AuthConfig      `yaml:"auth"`
	Payment   PaymentConfig   `yaml:"payment"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	DefaultTaxRate   = "0.18"
	DefaultCurrency  = "INR"
	DefaultScriptURL = "https://checkout.razorpay.com/v1/checkout.js"
)

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Redis.LockWait <= 0 {
		cfg.Redis.LockWait = 10 * time.Second
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "purchase-events"
	}
	if cfg.Payment.Razorpay.ScriptURL == "" {
		cfg.Payment.Razorpay.ScriptURL = DefaultScriptURL
	}

	c := &cfg.Checkout
	if c.TaxRate == "" {
		c.TaxRate = DefaultTaxRate
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.OrderTTL <= 0 {
		c.OrderTTL = 15 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.WidgetTimeout <= 0 {
		c.WidgetTimeout = 15 * time.Minute
	}
	if c.WidgetRetries <= 0 {
		c.WidgetRetries = 3
	}
	if c.ThemeColor == "" {
		c.ThemeColor = "#3399cc"
	}
	if c.CouponRate <= 0 {
		c.CouponRate = 10
	}
	if c.SessionIdle <= 0 {
		c.SessionIdle = 30 * time.Minute
	}

	s := &cfg.Scheduler
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = time.Minute
	}
	if s.ReconcileStaleAfter <= 0 {
		s.ReconcileStaleAfter = 10 * time.Minute
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	rp := cfg.Payment.Razorpay
	if rp.KeyID == "" || rp.KeySecret == "" {
		return errors.New("payment.razorpay.key_id and key_secret are required")
	}
	rate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("checkout.tax_rate must be a decimal in [0,1), got %q", cfg.Checkout.TaxRate)
	}
	return nil
}
