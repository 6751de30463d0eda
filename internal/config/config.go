package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration.
type Config struct {
	AppName      string
	AppVersion   string
	Environment  string
	HTTPAddr     string
	OTLPEndpoint string
	NodeID       int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool
	RunMigrations     bool

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PlanCacheSize    int
	PlanCacheTTL     time.Duration
	SeedDefaultPlans bool

	UsageRateLimitEnabled bool
	UsageRateLimitRate    float64
	UsageRateLimitBurst   int

	PaymentGateway  string
	StripeSecretKey string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SchedulerPollInterval time.Duration
	SchedulerWorkers      int
	RolloverSchedule      string
	RecoverySchedule      string
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	GatewayFake   = "fake"
	GatewayStripe = "stripe"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "billingcore"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billingcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "billingcore.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", true),
		RunMigrations:     getenvBool("RUN_MIGRATIONS", true),

		LockBackend:   strings.ToLower(getenv("LOCK_BACKEND", LockBackendLocal)),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		PlanCacheSize:    int(getenvInt64("PLAN_CACHE_SIZE", 1024)),
		PlanCacheTTL:     getenvDuration("PLAN_CACHE_TTL", 5*time.Minute),
		SeedDefaultPlans: getenvBool("SEED_DEFAULT_PLANS", false),

		UsageRateLimitEnabled: getenvBool("USAGE_RATE_LIMIT_ENABLED", false),
		UsageRateLimitRate:    getenvFloat("USAGE_RATE_LIMIT_RATE", 50),
		UsageRateLimitBurst:   int(getenvInt64("USAGE_RATE_LIMIT_BURST", 100)),

		PaymentGateway:  strings.ToLower(getenv("PAYMENT_GATEWAY", GatewayFake)),
		StripeSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),

		SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
		SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", "billing@localhost"),

		SchedulerPollInterval: getenvDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
		SchedulerWorkers:      int(getenvInt64("SCHEDULER_WORKERS", 8)),
		RolloverSchedule:      getenv("SCHEDULER_ROLLOVER_CRON", "*/5 * * * *"),
		RecoverySchedule:      getenv("SCHEDULER_RECOVERY_CRON", "*/15 * * * *"),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
