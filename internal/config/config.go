package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Payment  PaymentConfig
	Studio   StudioConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	BookingConfirmed   string
	BookingRescheduled string
	BookingCancelled   string
}

type AuthConfig struct {
	OIDCIssuer       string
	GuestTokenSecret string
}

type PaymentConfig struct {
	StripeSecretKey string
	Currency        string
}

// StudioConfig holds the business rules that are tunable per deployment.
type StudioConfig struct {
	Timezone          string
	LeadTimeDays      int
	WeekdayPrice      float64
	WeekendPrice      float64
	SlotLockTTL       time.Duration
	LoyaltyExpiryDays int
	ManageBaseURL     string
	RefundRate        float64
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "studio_user"),
			Password:     getEnv("DB_PASSWORD", "studio_pass"),
			Database:     getEnv("DB_NAME", "studio_booking"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				BookingConfirmed:   getEnv("KAFKA_TOPIC_CONFIRMED", "studio.booking.confirmed"),
				BookingRescheduled: getEnv("KAFKA_TOPIC_RESCHEDULED", "studio.booking.rescheduled"),
				BookingCancelled:   getEnv("KAFKA_TOPIC_CANCELLED", "studio.booking.cancelled"),
			},
		},
		Auth: AuthConfig{
			OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
			GuestTokenSecret: getEnv("GUEST_TOKEN_SECRET", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			Currency:        getEnv("PAYMENT_CURRENCY", "mxn"),
		},
		Studio: StudioConfig{
			Timezone:          getEnv("STUDIO_TIMEZONE", "America/Mexico_City"),
			LeadTimeDays:      getEnvInt("LEAD_TIME_BUSINESS_DAYS", 5),
			WeekdayPrice:      getEnvFloat("WEEKDAY_PRICE", 1500),
			WeekendPrice:      getEnvFloat("WEEKEND_PRICE", 1800),
			SlotLockTTL:       time.Duration(getEnvInt("SLOT_LOCK_TTL_MINUTES", 5)) * time.Minute,
			LoyaltyExpiryDays: getEnvInt("LOYALTY_EXPIRY_DAYS", 365),
			ManageBaseURL:     getEnv("MANAGE_BASE_URL", "https://booking.example.com"),
			RefundRate:        getEnvFloat("REFUND_RATE", 0.80),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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
