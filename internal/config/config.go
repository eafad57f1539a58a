// Package config loads ChatNest configuration from the environment. A .env
// file in the working directory is read first when present, so local
// development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server holds settings for the chat server (cmd/chatserver).
type Server struct {
	Env             string
	ListenAddr      string
	DatabaseURL     string
	RedisAddr       string
	NATSURL         string
	RelayURL        string
	RelayServiceKey string
	SessionTTL      time.Duration
	WorkerPoolSize  int
	MaxConnections  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
}

// Relay holds settings for the AI relay function (cmd/relay). Missing
// credentials are not a load error: the relay reports them per invocation.
type Relay struct {
	Env           string
	ListenAddr    string
	DatabaseURL   string
	NATSURL       string
	ServiceKey    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Client holds settings for the terminal client (cmd/chatnest).
type Client struct {
	ServerURL string
	Theme     string
	Token     string
}

// LoadServer reads the chat server configuration. DATABASE_URL is required.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	cfg := &Server{
		Env:             getEnv("APP_ENV", "development"),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		RelayURL:        getEnv("RELAY_URL", "http://localhost:8090/functions/v1/chat-gpt"),
		RelayServiceKey: os.Getenv("RELAY_SERVICE_KEY"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		WorkerPoolSize:  getEnvInt("WORKER_POOL_SIZE", 256),
		MaxConnections:  getEnvInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// LoadRelay reads the relay configuration.
func LoadRelay() *Relay {
	_ = godotenv.Load()

	return &Relay{
		Env:           getEnv("APP_ENV", "development"),
		ListenAddr:    getEnv("RELAY_LISTEN_ADDR", ":8090"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		ServiceKey:    os.Getenv("RELAY_SERVICE_KEY"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
	}
}

// LoadClient reads the terminal client configuration.
func LoadClient() *Client {
	_ = godotenv.Load()

	return &Client{
		ServerURL: strings.TrimRight(getEnv("CHATNEST_SERVER", "http://localhost:8080"), "/"),
		Theme:     getEnv("CHATNEST_THEME", "jungle"),
		Token:     os.Getenv("CHATNEST_TOKEN"),
	}
}

// IsDevelopment reports whether env names a development deployment.
func IsDevelopment(env string) bool {
	return env == "" || env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
