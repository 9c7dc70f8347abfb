package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

type AppConfig struct {
	HTTP HTTPServer
	Log  Log

	BaseURL       string `env:"BASE_URL" envDefault:"http://localhost:8000"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	LockDriver    string `env:"LOCK_DRIVER" envDefault:"redis"`

	Redis Redis `envPrefix:"REDIS_"`
	JWT   JWT   `envPrefix:"JWT_"`

	// Reconciliation
	SyncInterval  time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	RenewalWindow time.Duration `env:"RENEWAL_WINDOW" envDefault:"72h"`
	SyncBatchSize int           `env:"SYNC_BATCH_SIZE" envDefault:"200"`

	EnabledGateways []string `env:"ENABLED_GATEWAYS" envSeparator:"," envDefault:"coinpayments"`
	// ValidateGateways checks gateway credentials against the providers at startup.
	ValidateGateways bool `env:"VALIDATE_GATEWAYS" envDefault:"false"`

	CoinPayments CoinPayments `envPrefix:"COINPAYMENTS_"`
	Braintree    Braintree    `envPrefix:"BRAINTREE_"`
	Stripe       Stripe       `envPrefix:"STRIPE_"`
	PayPal       PayPal       `envPrefix:"PAYPAL_"`
}

type HTTPServer struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8000"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type Redis struct {
	Addrs       []string `env:"ADDR" envSeparator:"," envDefault:"localhost:6379"`
	Password    string   `env:"PASS"`
	DB          int      `env:"DB" envDefault:"0"`
	ClusterMode bool     `env:"CLUSTER_MODE" envDefault:"false"`
	PoolSize    int      `env:"POOL_SIZE" envDefault:"20"`
}

type JWT struct {
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER"`
}

type CoinPayments struct {
	MerchantID      string `env:"MERCHANT_ID"`
	PublicKey       string `env:"PUBLIC_KEY"`
	PrivateKey      string `env:"PRIVATE_KEY"`
	IPNSecret       string `env:"IPN_SECRET"`
	ReceiveCurrency string `env:"RECEIVE_CURRENCY" envDefault:"BTC"`
	APIURL          string `env:"API_URL"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT" envDefault:"sandbox"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type PayPal struct {
	APIURL       string `env:"API_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CancelURL    string `env:"CANCEL_URL"`
}

// Load parses the environment into AppConfig and checks it.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.LockDriver = strings.ToLower(strings.TrimSpace(c.LockDriver))

	gateways := c.EnabledGateways[:0]
	for _, name := range c.EnabledGateways {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			gateways = append(gateways, name)
		}
	}
	c.EnabledGateways = gateways
}

func (c *AppConfig) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.LockDriver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.LockDriver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.EnabledGateways) == 0 {
		return fmt.Errorf("ENABLED_GATEWAYS lists no gateway")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if c.RenewalWindow < 0 {
		return fmt.Errorf("RENEWAL_WINDOW must not be negative")
	}
	return nil
}

// GatewayEnabled reports whether name is listed in ENABLED_GATEWAYS.
func (c *AppConfig) GatewayEnabled(name string) bool {
	for _, g := range c.EnabledGateways {
		if g == name {
			return true
		}
	}
	return false
}
