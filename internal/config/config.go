package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort        string        `mapstructure:"HTTP_PORT"`
	GRPCPort        string        `mapstructure:"GRPC_PORT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	CheckoutTimeout time.Duration `mapstructure:"CHECKOUT_TIMEOUT"`
	CORSOrigins     string        `mapstructure:"CORS_ORIGINS"`

	CartStorage     string        `mapstructure:"CART_STORAGE"`
	CartStoragePath string        `mapstructure:"CART_STORAGE_PATH"`
	CartTTL         time.Duration `mapstructure:"CART_TTL"`
	CartCacheSize   int           `mapstructure:"CART_CACHE_SIZE"`
	CartCacheTTL    time.Duration `mapstructure:"CART_CACHE_TTL"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	RedisPassword   string        `mapstructure:"REDIS_PASSWORD"`

	PurchaseStore  string `mapstructure:"PURCHASE_STORE"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         int    `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`

	CatalogDBPath         string `mapstructure:"CATALOG_DB_PATH"`
	CatalogMigrationsPath string `mapstructure:"CATALOG_MIGRATIONS_PATH"`

	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	PurchaseTopic string `mapstructure:"PURCHASE_TOPIC"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"HTTP_PORT":        "8080",
	"GRPC_PORT":        "50060",
	"REQUEST_TIMEOUT":  30 * time.Second,
	"SHUTDOWN_TIMEOUT": 10 * time.Second,
	"CHECKOUT_TIMEOUT": 5 * time.Second,
	"CORS_ORIGINS":     "",

	"CART_STORAGE":      "memory",
	"CART_STORAGE_PATH": "./data/carts",
	"CART_TTL":          30 * 24 * time.Hour,
	"CART_CACHE_SIZE":   10000,
	"CART_CACHE_TTL":    15 * time.Minute,
	"REDIS_ADDR":        "localhost:6379",
	"REDIS_PASSWORD":    "",

	"PURCHASE_STORE":  "memory",
	"DB_HOST":         "localhost",
	"DB_PORT":         5432,
	"DB_USER":         "postgres",
	"DB_PASSWORD":     "postgres",
	"DB_NAME":         "template_shop",
	"MIGRATIONS_PATH": "./internal/repository/migrations/postgres",
	"MONGO_URI":       "mongodb://localhost:27017",
	"MONGO_DB_NAME":   "template_shop",

	"CATALOG_DB_PATH":         ":memory:",
	"CATALOG_MIGRATIONS_PATH": "./internal/repository/migrations/sqlite",

	"KAFKA_BROKERS":  "",
	"PURCHASE_TOPIC": "purchase-completed",

	"JWT_SECRET":  "",
	"SESSION_TTL": 7 * 24 * time.Hour,

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "text",
}

// Load reads an optional .env file, then the environment. Environment wins.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CartStorage {
	case "memory", "filesystem", "redis":
	default:
		return fmt.Errorf("invalid CART_STORAGE %q: must be memory, filesystem or redis", c.CartStorage)
	}
	switch c.PurchaseStore {
	case "memory", "postgres", "mongo":
	default:
		return fmt.Errorf("invalid PURCHASE_STORE %q: must be memory, postgres or mongo", c.PurchaseStore)
	}
	if c.CheckoutTimeout <= 0 {
		return errors.New("CHECKOUT_TIMEOUT must be positive")
	}
	for _, o := range c.AllowedOrigins() {
		if o == "*" || strings.Contains(o, "://*") {
			return fmt.Errorf("invalid CORS_ORIGINS entry %q: credentialed requests need explicit origins", o)
		}
	}
	return nil
}

func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// AllowedOrigins lists the browser origins allowed to call the API with
// credentials. Empty means no cross-origin access.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
