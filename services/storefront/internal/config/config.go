package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the YAML file read by Load, overridable with STOREFRONT_CONFIG.
var ConfigPath = configPathFromEnv()

func configPathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML, overlaid by
// environment variables.
type FileConfig struct {
	Port              string   `yaml:"port" env:"STOREFRONT_PORT"`
	LogLevel          string   `yaml:"logLevel" env:"LOG_LEVEL"`
	Environment       string   `yaml:"environment" env:"ENVIRONMENT"`
	SentryDSN         string   `yaml:"sentryDsn" env:"SENTRY_DSN"`
	PublicURL         string   `yaml:"publicURL" env:"STOREFRONT_PUBLIC_URL"`
	FrontendURL       string   `yaml:"frontendURL" env:"STOREFRONT_FRONTEND_URL"`
	AllowedOrigins    []string `yaml:"allowedOrigins" env:"STOREFRONT_ALLOWED_ORIGINS"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs" env:"STOREFRONT_TRUSTED_PROXY_CIDRS"`
	RedisAddr         string   `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword     string   `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	DatabaseURL       string   `yaml:"databaseURL" env:"DATABASE_URL"`

	Brand      Brand      `yaml:"brand" envPrefix:"STOREFRONT_BRAND_"`
	Session    Session    `yaml:"session" envPrefix:"STOREFRONT_SESSION_"`
	ShopAPI    Upstream   `yaml:"shopAPI" envPrefix:"SHOP_API_"`
	BotBridge  Upstream   `yaml:"botBridge" envPrefix:"BOT_BRIDGE_"`
	AI         AI         `yaml:"ai" envPrefix:"AI_"`
	NATS       NATS       `yaml:"nats" envPrefix:"NATS_"`
	Queue      Queue      `yaml:"queue" envPrefix:"STOREFRONT_QUEUE_"`
	Checkout   Checkout   `yaml:"checkout" envPrefix:"STOREFRONT_CHECKOUT_"`
	RateLimits RateLimits `yaml:"rateLimits" envPrefix:"STOREFRONT_RATE_LIMIT_"`
}

type Brand struct {
	StoreName string `yaml:"storeName" env:"STORE_NAME"`
	BotName   string `yaml:"botName" env:"BOT_NAME"`
	KeyPrefix string `yaml:"keyPrefix" env:"KEY_PREFIX"`
}

type Session struct {
	Secret         string `yaml:"secret" env:"SECRET"`
	TTL            string `yaml:"ttl" env:"TTL"`
	CookieName     string `yaml:"cookieName" env:"COOKIE_NAME"`
	CookieDomain   string `yaml:"cookieDomain" env:"COOKIE_DOMAIN"`
	CookieSecure   bool   `yaml:"cookieSecure" env:"COOKIE_SECURE"`
	CookieSameSite string `yaml:"cookieSameSite" env:"COOKIE_SAME_SITE"`
	Issuer         string `yaml:"issuer" env:"ISSUER"`
	Audience       string `yaml:"audience" env:"AUDIENCE"`
}

// Upstream configures an HTTP service the storefront calls.
type Upstream struct {
	URL          string `yaml:"url" env:"URL"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
	APIKey       string `yaml:"apiKey" env:"KEY"`
	APIKeyHeader string `yaml:"apiKeyHeader" env:"KEY_HEADER"`
	AuthScheme   string `yaml:"authScheme" env:"AUTH_SCHEME"`
	Timeout      string `yaml:"timeout" env:"TIMEOUT"`
}

type AI struct {
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	Model       string  `yaml:"model" env:"MODEL"`
	APIKey      string  `yaml:"apiKey" env:"API_KEY"`
	BaseURL     string  `yaml:"baseURL" env:"BASE_URL"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
}

type NATS struct {
	URL     string `yaml:"url" env:"URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

type Queue struct {
	Stream      string `yaml:"stream" env:"STREAM"`
	Group       string `yaml:"group" env:"GROUP"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`
	MaxRetries  int    `yaml:"maxRetries" env:"MAX_RETRIES"`
}

type Checkout struct {
	PaymentDelay string `yaml:"paymentDelay" env:"PAYMENT_DELAY"`
	CatalogTTL   string `yaml:"catalogTTL" env:"CATALOG_TTL"`
}

// RateLimits are requests per minute per client IP.
type RateLimits struct {
	Login     int `yaml:"login" env:"LOGIN"`
	Register  int `yaml:"register" env:"REGISTER"`
	VerifyOTP int `yaml:"verifyOtp" env:"VERIFY_OTP"`
	Chat      int `yaml:"chat" env:"CHAT"`
	Checkout  int `yaml:"checkout" env:"CHECKOUT"`
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// allowed when the environment supplies every required value.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}
	cfg.AllowedOrigins = splitCSV(cfg.AllowedOrigins...)
	cfg.TrustedProxyCIDRs = splitCSV(cfg.TrustedProxyCIDRs...)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Brand.StoreName == "" {
		cfg.Brand.StoreName = "Roblox Keys"
	}
	if cfg.Brand.BotName == "" {
		cfg.Brand.BotName = cfg.Brand.StoreName + " Bot"
	}
	if cfg.Brand.KeyPrefix == "" {
		cfg.Brand.KeyPrefix = "robloxkeys"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = cfg.Brand.KeyPrefix + "_session"
	}
	if cfg.Session.CookieSameSite == "" {
		cfg.Session.CookieSameSite = "lax"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "store.order.completed"
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = cfg.Brand.KeyPrefix + ":orders"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.ShopAPI.URL) == "" {
		return errors.New("config: shopAPI.url is required (set in config.yaml or SHOP_API_URL)")
	}
	for name, raw := range map[string]string{
		"shopAPI.url":   cfg.ShopAPI.URL,
		"publicURL":     cfg.PublicURL,
		"frontendURL":   cfg.FrontendURL,
		"botBridge.url": cfg.BotBridge.URL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute URL", name)
		}
	}
	if strings.TrimSpace(cfg.PublicURL) == "" {
		return errors.New("config: publicURL is required (set in config.yaml or STOREFRONT_PUBLIC_URL)")
	}
	if strings.TrimSpace(cfg.FrontendURL) == "" {
		return errors.New("config: frontendURL is required (set in config.yaml or STOREFRONT_FRONTEND_URL)")
	}
	if len(strings.TrimSpace(cfg.Session.Secret)) < 32 {
		return errors.New("config: session.secret is required and must be at least 32 bytes")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for sessions and distributed rate limiting")
	}
	switch strings.ToLower(cfg.Session.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return errors.New("config: session.cookieSameSite must be lax, strict or none")
	}
	rl := cfg.RateLimits
	if rl.Login < 0 || rl.Register < 0 || rl.VerifyOTP < 0 || rl.Chat < 0 || rl.Checkout < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for name, raw := range map[string]string{
		"session.ttl":           cfg.Session.TTL,
		"shopAPI.timeout":       cfg.ShopAPI.Timeout,
		"botBridge.timeout":     cfg.BotBridge.Timeout,
		"checkout.paymentDelay": cfg.Checkout.PaymentDelay,
		"checkout.catalogTTL":   cfg.Checkout.CatalogTTL,
	} {
		if _, err := ParseDuration(raw, 0); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// splitCSV flattens comma-separated entries and drops blanks.
func splitCSV(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}

// ParseDuration parses an optional duration string, returning def when empty.
func ParseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", raw)
	}
	return dur, nil
}

// DurationOr is ParseDuration for values already checked by Load.
func DurationOr(raw string, def time.Duration) time.Duration {
	dur, err := ParseDuration(raw, def)
	if err != nil {
		return def
	}
	return dur
}
