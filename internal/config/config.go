package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	AuthJWTSecret string
	AuthJWTIssuer string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis RedisConfig

	Gateway GatewayConfig

	Pipeline PipelineConfig

	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// GatewayConfig holds credentials for the payment gateway adapters.
type GatewayConfig struct {
	Provider   string
	Mode       string
	APIKey     string
	MerchantID string
	BaseURL    string
	TimeoutSec int
}

func (c GatewayConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode), "production")
}

// PipelineConfig configures the content generation collaborators.
type PipelineConfig struct {
	GeneratorURL        string
	SynthesizerURL      string
	CallbackTokenHash   string
	Workers             int
	QueueKey            string
	StalePendingSeconds int
}

type RateLimitConfig struct {
	Enabled       bool
	PurchaseRate  float64
	PurchaseBurst int
	ConsumeRate   float64
	ConsumeBurst  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "fortuna"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		NodeID:        getenvInt64("SNOWFLAKE_NODE", 1),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "fortuna"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn: getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		// seconds
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			Provider:   strings.ToLower(getenv("PAYMENT_PROVIDER", "payten")),
			Mode:       strings.ToLower(getenv("PAYTEN_MODE", "sandbox")),
			APIKey:     strings.TrimSpace(getenv("PAYTEN_API_KEY", "")),
			MerchantID: strings.TrimSpace(getenv("PAYTEN_MERCHANT_ID", "")),
			BaseURL:    strings.TrimSpace(getenv("PAYTEN_API_URL", "")),
			TimeoutSec: getenvInt("PAYTEN_TIMEOUT_SECONDS", 10),
		},
		Pipeline: PipelineConfig{
			GeneratorURL:        strings.TrimSpace(getenv("PIPELINE_GENERATOR_URL", "")),
			SynthesizerURL:      strings.TrimSpace(getenv("PIPELINE_SYNTHESIZER_URL", "")),
			CallbackTokenHash:   strings.TrimSpace(getenv("PIPELINE_CALLBACK_TOKEN_HASH", "")),
			Workers:             getenvInt("PIPELINE_WORKERS", 2),
			QueueKey:            getenv("PIPELINE_QUEUE_KEY", "fortuna:usage:jobs"),
			StalePendingSeconds: getenvInt("PIPELINE_STALE_PENDING_SECONDS", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			PurchaseRate:  getenvFloat("RATE_LIMIT_PURCHASE_RATE", 0.2),
			PurchaseBurst: getenvInt("RATE_LIMIT_PURCHASE_BURST", 5),
			ConsumeRate:   getenvFloat("RATE_LIMIT_CONSUME_RATE", 1),
			ConsumeBurst:  getenvInt("RATE_LIMIT_CONSUME_BURST", 10),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
