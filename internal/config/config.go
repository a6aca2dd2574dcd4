package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	PostgresURL    string
	DBSchema       string
	MigrationsPath string

	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
	DedupeTTL    time.Duration

	EmailServiceURL string
	AdminEmail      string
	NotifyQueueSize int

	TracingEnabled bool
	OTelEndpoint   string

	Stripe   StripeConfig
	Checkout CheckoutConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// CheckoutConfig holds the business rules applied when splitting a cart into
// per-seller sub-orders.
type CheckoutConfig struct {
	Currency              string
	PublicBaseURL         string
	SuccessPath           string
	CancelPath            string
	PlatformFeeRate       decimal.Decimal
	ShippingFlatFee       decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	CookieTTL             time.Duration
	CookieSecure          bool
}

func (c CheckoutConfig) SuccessURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + c.SuccessPath
}

func (c CheckoutConfig) CancelURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + c.CancelPath
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8081")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_SCHEMA", "marketplace")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("WEBHOOK_DEDUPE_TTL", "24h")
	v.SetDefault("EMAIL_SERVICE_URL", "http://localhost:8084")
	v.SetDefault("KAFKA_TOPIC", "marketplace.events")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("CURRENCY", "aud")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("SUCCESS_PATH", "/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("CANCEL_PATH", "/cart")
	v.SetDefault("PLATFORM_FEE_RATE", "0.10")
	v.SetDefault("SHIPPING_FLAT_FEE", "10.00")
	v.SetDefault("FREE_SHIPPING_THRESHOLD", "0")
	v.SetDefault("COOKIE_TTL", "1h")
	v.SetDefault("COOKIE_SECURE", true)
}

// Load reads configuration from the environment, falling back to an optional
// .env file in the working directory or its parents.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:            v.GetString("PORT"),
		PostgresURL:     strings.TrimSpace(v.GetString("POSTGRES_URL")),
		DBSchema:        v.GetString("DB_SCHEMA"),
		MigrationsPath:  v.GetString("MIGRATIONS_PATH"),
		KafkaBrokers:    splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:      v.GetString("KAFKA_TOPIC"),
		RedisURL:        strings.TrimSpace(v.GetString("REDIS_URL")),
		DedupeTTL:       v.GetDuration("WEBHOOK_DEDUPE_TTL"),
		EmailServiceURL: strings.TrimRight(strings.TrimSpace(v.GetString("EMAIL_SERVICE_URL")), "/"),
		AdminEmail:      v.GetString("ADMIN_EMAIL"),
		NotifyQueueSize: v.GetInt("NOTIFY_QUEUE_SIZE"),
		TracingEnabled:  v.GetBool("TRACING_ENABLED"),
		OTelEndpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(v.GetString("STRIPE_SECRET_KEY")),
			WebhookSecret: strings.TrimSpace(v.GetString("STRIPE_WEBHOOK_SECRET")),
		},
		Checkout: CheckoutConfig{
			Currency:      strings.ToLower(v.GetString("CURRENCY")),
			PublicBaseURL: v.GetString("PUBLIC_BASE_URL"),
			SuccessPath:   v.GetString("SUCCESS_PATH"),
			CancelPath:    v.GetString("CANCEL_PATH"),
			CookieTTL:     v.GetDuration("COOKIE_TTL"),
			CookieSecure:  v.GetBool("COOKIE_SECURE"),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.Checkout.PlatformFeeRate, err = decimalKey(v, "PLATFORM_FEE_RATE"); err != nil {
		return nil, err
	}
	if cfg.Checkout.ShippingFlatFee, err = decimalKey(v, "SHIPPING_FLAT_FEE"); err != nil {
		return nil, err
	}
	if cfg.Checkout.FreeShippingThreshold, err = decimalKey(v, "FREE_SHIPPING_THRESHOLD"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequirePostgres reports an error for binaries that need the database when
// POSTGRES_URL is unset.
func (c *Config) RequirePostgres() error {
	if c.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required")
	}
	return nil
}

func (c *Config) validate() error {
	if c.Checkout.PlatformFeeRate.IsNegative() || c.Checkout.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1), got %s", c.Checkout.PlatformFeeRate)
	}
	if c.Checkout.ShippingFlatFee.IsNegative() {
		return fmt.Errorf("SHIPPING_FLAT_FEE must not be negative, got %s", c.Checkout.ShippingFlatFee)
	}
	if c.Checkout.CookieTTL <= 0 {
		return fmt.Errorf("COOKIE_TTL must be positive, got %s", c.Checkout.CookieTTL)
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be positive, got %s", c.DedupeTTL)
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.NotifyQueueSize)
	}
	return nil
}

func decimalKey(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
