package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverMySQL  = "mysql"
)

// Env is the process configuration, read from the environment after .env is loaded.
type Env struct {
	Port     string `envconfig:"PORT" default:"8080"`
	GinMode  string `envconfig:"GIN_MODE" default:"release"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver      string `envconfig:"STORE_DRIVER" default:"memory"`
	StoreMaxAttempts int    `envconfig:"STORE_MAX_ATTEMPTS" default:"5"`

	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBHost     string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort     string `envconfig:"DB_PORT" default:"3306"`
	DBName     string `envconfig:"DB_NAME" default:"retail"`

	DBMaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"50"`
	DBMaxIdleConns int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	DBConnMaxLife  time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`

	RedisAddress  string        `envconfig:"REDIS_ADDRESS"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	ReturnLockTTL time.Duration `envconfig:"RETURN_LOCK_TTL" default:"15s"`

	PubSubProjectId       string `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubCredentialsJSON string `envconfig:"PUBSUB_CREDENTIALS_JSON"`
	NotificationTopic     string `envconfig:"NOTIFICATION_TOPIC" default:"retail-notifications"`

	GCSBucket          string `envconfig:"GCS_BUCKET"`
	GCSCredentialsJSON string `envconfig:"GCS_CREDENTIALS_JSON"`

	RateLimitEnabled     bool          `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RateLimitMaxRequests int64         `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"300"`
	RateLimitWindow      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	PhoneRegion    string   `envconfig:"PHONE_REGION" default:"MM"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DSN builds the MySQL connection string. A DB_HOST of /cloudsql/<instance> dials the unix socket.
func (e *Env) DSN() string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", e.DBHost, e.DBPort)
	if strings.HasPrefix(e.DBHost, "/cloudsql/") {
		network = "unix"
		address = e.DBHost
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&charset=utf8mb4",
		e.DBUser, e.DBPassword, network, address, e.DBName)
}

func LoadEnv() (*Env, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	switch env.StoreDriver {
	case StoreDriverMemory, StoreDriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", env.StoreDriver)
	}
	if env.StoreMaxAttempts < 1 {
		env.StoreMaxAttempts = 1
	}
	return &env, nil
}
