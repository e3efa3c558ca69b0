package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Verify    VerifyConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Crypto    CryptoConfig
	Session   SessionConfig
	Client    ClientConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	Env            string
	MetricsEnabled bool
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

// VerifyConfig bounds failed master secret checks per user and client IP.
type VerifyConfig struct {
	MaxAttempts int
	Window      time.Duration
}

type CryptoConfig struct {
	KDFIterations int
	KDFWorkers    int
}

type SessionConfig struct {
	TTL           time.Duration
	BackgroundTTL time.Duration
}

// ClientConfig is read by vaultctl only.
type ClientConfig struct {
	ServerURL string
	Token     string
	DeviceID  string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := time.ParseDuration(getEnv("JWT_EXPIRATION", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	verifyWindow, err := time.ParseDuration(getEnv("VERIFY_WINDOW", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_WINDOW: %w", err)
	}

	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	backgroundTTL, err := time.ParseDuration(getEnv("SESSION_BACKGROUND_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_BACKGROUND_TTL: %w", err)
	}

	iterations := getEnvAsInt("KDF_ITERATIONS", 1000000)
	if iterations < 1 {
		return nil, fmt.Errorf("invalid KDF_ITERATIONS: %d", iterations)
	}

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Host:           getEnv("HOST", "0.0.0.0"),
			Env:            getEnv("ENV", "development"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "zkvault"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: jwtExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		Verify: VerifyConfig{
			MaxAttempts: getEnvAsInt("VERIFY_MAX_ATTEMPTS", 5),
			Window:      verifyWindow,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Device-ID"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Crypto: CryptoConfig{
			KDFIterations: iterations,
			KDFWorkers:    getEnvAsInt("KDF_WORKERS", 0),
		},
		Session: SessionConfig{
			TTL:           sessionTTL,
			BackgroundTTL: backgroundTTL,
		},
		Client: ClientConfig{
			ServerURL: getEnv("VAULT_SERVER_URL", "http://localhost:8080"),
			Token:     getEnv("VAULT_TOKEN", ""),
			DeviceID:  getEnv("VAULT_DEVICE_ID", ""),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
