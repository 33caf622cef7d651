package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fjod/go_cart/reservation-service/internal/repository"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

type Config struct {
	HTTPPort string
	GRPCPort string

	DB repository.Credentials

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI    string
	MongoDBName string

	// KafkaBrokers empty means notifications are delivered in-process.
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret           string
	AdminProfileIDs     []string
	AdminStatusOverride bool

	// WSOriginPatterns are extra browser origins allowed to open the notification stream; empty means same-origin only.
	WSOriginPatterns []string

	LogLevel        string
	OrphanGrace     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the environment. Variables already set win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50060"),
		DB: repository.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getInt("DB_PORT", 5432, &errs),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "reservations"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),
		},
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getInt("REDIS_DB", 0, &errs),
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:         getEnv("MONGO_DB_NAME", "reservations"),
		KafkaBrokers:        getList("KAFKA_BROKERS"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "reservation-notifications"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AdminProfileIDs:     getList("ADMIN_PROFILE_IDS"),
		AdminStatusOverride: getBool("ADMIN_STATUS_OVERRIDE", false, &errs),
		WSOriginPatterns:    getList("WS_ORIGIN_PATTERNS"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		OrphanGrace:         getDuration("ORPHAN_GRACE", 10*time.Minute, &errs),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	slog.Debug("configuration loaded",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"db_host", cfg.DB.Host,
		"kafka", len(cfg.KafkaBrokers) > 0,
		"admins", len(cfg.AdminProfileIDs))
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	if d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: must be positive", key))
		return defaultValue
	}
	return d
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
