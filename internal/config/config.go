package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Cache    CacheConfig
	Auth     AuthConfig
	QR       QRConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Redeem requests per second allowed for one owner.
	RedeemRate  float64
	RedeemBurst int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	CardsIssued     string
	Redeemed        string
	Deactivated     string
	PaymentRefunded string
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver        string
	SQLitePath    string
	Host          string
	Port          string
	Username      string
	Password      string
	Database      string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	MigrationsDir string
}

type LedgerConfig struct {
	MaxRedeemRetries int
	LockTTL          time.Duration
	EnforceExpiry    bool
}

type CacheConfig struct {
	// Backend is "redis" or "local".
	Backend string
	TTL     time.Duration
	Size    int
}

type AuthConfig struct {
	IssuerURL string
	ClientID  string
	// DevMode accepts unverified tokens. Never enable outside local development.
	DevMode    bool
	AdminToken string
}

type QRConfig struct {
	Secret string
	Size   int
}

type LogConfig struct {
	Dir string
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.Username + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Database + "?sslmode=" + d.SSLMode
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			RedeemRate:   getEnvFloat("REDEEM_RATE_PER_SECOND", 2),
			RedeemBurst:  getEnvInt("REDEEM_RATE_BURST", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			SQLitePath:    getEnv("SQLITE_PATH", "file:klippekort.db?cache=shared"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			Username:      getEnv("DB_USERNAME", "klippekort"),
			Password:      getEnv("DB_PASSWORD", "klippekort"),
			Database:      getEnv("DB_NAME", "klippekort"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "klippekort-ledger"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				CardsIssued:     getEnv("KAFKA_TOPIC_CARDS_ISSUED", "klippekort.cards.issued"),
				Redeemed:        getEnv("KAFKA_TOPIC_REDEEMED", "klippekort.redeemed"),
				Deactivated:     getEnv("KAFKA_TOPIC_DEACTIVATED", "klippekort.deactivated"),
				PaymentRefunded: getEnv("KAFKA_TOPIC_REFUNDED", "payment.refunded"),
			},
		},
		Ledger: LedgerConfig{
			MaxRedeemRetries: getEnvInt("LEDGER_MAX_REDEEM_RETRIES", 3),
			LockTTL:          getEnvDuration("LEDGER_LOCK_TTL", 10*time.Second),
			EnforceExpiry:    getEnvBool("LEDGER_ENFORCE_EXPIRY", false),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", "redis"),
			TTL:     getEnvDuration("CACHE_TTL", 5*time.Second),
			Size:    getEnvInt("CACHE_SIZE", 1024),
		},
		Auth: AuthConfig{
			IssuerURL:  getEnv("OIDC_ISSUER_URL", "http://localhost:8081/realms/klippekort"),
			ClientID:   getEnv("OIDC_CLIENT_ID", "klippekort-api"),
			DevMode:    getEnvBool("AUTH_DEV_MODE", false),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		QR: QRConfig{
			Secret: getEnv("QR_SECRET", "change-me"),
			Size:   getEnvInt("QR_SIZE", 256),
		},
		Log: LogConfig{
			Dir: getEnv("LOG_DIR", "logs"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
