package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"bencheth/internal/ethereum"
	"bencheth/internal/geo"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ethereum  EthereumConfig
	Poller    PollerConfig
	Retry     ethereum.RetryPolicy
	Geo       GeoConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Streaming StreamingConfig
}

type ServerConfig struct {
	Port string
}

type EthereumConfig struct {
	RPCURL          string
	RPCHost         string // metrics label, host without port
	Timeout         time.Duration
	RetryPolicyFile string
}

type PollerConfig struct {
	Interval time.Duration
	Workers  int
}

type GeoConfig struct {
	Region    string // overrides the lookup when set
	LookupURL string
}

type RedisConfig struct {
	URI       string
	Enabled   bool
	StatusTTL time.Duration
}

type LoggingConfig struct {
	Level      string
	ToFile     bool
	FilePath   string
	Format     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type StreamingConfig struct {
	Enabled    bool
	Type       string // "ws" or "sse"
	Route      string
	BufferSize int
}

func Load() (*Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	cfg := &Config{}

	rpcURL, rpcHost, err := parseRPCURL(os.Getenv("RPC_URL"))
	if err != nil {
		return nil, err
	}
	cfg.Ethereum.RPCURL = rpcURL
	cfg.Ethereum.RPCHost = rpcHost
	cfg.Ethereum.RetryPolicyFile = getEnv("RETRY_POLICY_FILE", "")

	timeout, err := time.ParseDuration(getEnv("RPC_TIMEOUT", "30s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid RPC_TIMEOUT: %q", os.Getenv("RPC_TIMEOUT"))
	}
	cfg.Ethereum.Timeout = timeout

	port, err := strconv.Atoi(getEnv("METRICS_PORT", "9090"))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid METRICS_PORT: %q", os.Getenv("METRICS_PORT"))
	}
	cfg.Server.Port = strconv.Itoa(port)

	pollMS, err := strconv.Atoi(getEnv("POLL_INTERVAL_MS", "500"))
	if err != nil || pollMS <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", os.Getenv("POLL_INTERVAL_MS"))
	}
	cfg.Poller.Interval = time.Duration(pollMS) * time.Millisecond

	workers, err := strconv.Atoi(getEnv("FETCH_WORKERS", strconv.Itoa(runtime.NumCPU())))
	if err != nil || workers <= 0 {
		return nil, fmt.Errorf("invalid FETCH_WORKERS: %q", os.Getenv("FETCH_WORKERS"))
	}
	cfg.Poller.Workers = workers

	// Retry policy: env first, then the optional YAML file on top
	cfg.Retry = ethereum.DefaultRetryPolicy()
	if cfg.Retry.RateLimitRetries, err = getEnvInt("RATE_LIMIT_RETRIES", cfg.Retry.RateLimitRetries); err != nil {
		return nil, err
	}
	if cfg.Retry.TimeoutRetries, err = getEnvInt("TIMEOUT_RETRIES", cfg.Retry.TimeoutRetries); err != nil {
		return nil, err
	}
	initialMS, err := getEnvInt("INITIAL_BACKOFF_MS", int(cfg.Retry.InitialBackoff/time.Millisecond))
	if err != nil {
		return nil, err
	}
	if initialMS == 0 {
		return nil, fmt.Errorf("invalid INITIAL_BACKOFF_MS: must be positive")
	}
	cfg.Retry.InitialBackoff = time.Duration(initialMS) * time.Millisecond
	maxMS, err := getEnvInt("MAX_BACKOFF_MS", int(cfg.Retry.MaxBackoff/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.Retry.MaxBackoff = time.Duration(maxMS) * time.Millisecond

	if cfg.Ethereum.RetryPolicyFile != "" {
		cfg.Retry, err = LoadRetryPolicyFromYAML(cfg.Ethereum.RetryPolicyFile, cfg.Retry)
		if err != nil {
			return nil, err
		}
	}

	cfg.Geo.Region = getEnv("GEO_REGION", "")
	cfg.Geo.LookupURL = getEnv("GEO_LOOKUP_URL", geo.DefaultLookupURL)

	cfg.Redis.URI = getEnv("REDIS_URI", "redis://localhost:6379")
	cfg.Redis.Enabled = getEnvBool("USE_REDIS", false)
	statusTTL, err := time.ParseDuration(getEnv("REDIS_STATUS_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_STATUS_TTL: %w", err)
	}
	cfg.Redis.StatusTTL = statusTTL

	// Logging configuration
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.ToFile = getEnvBool("LOG_TO_FILE", false)
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/bencheth.log")
	cfg.Logging.Format = getEnv("LOG_FORMAT", "text") // "text" or "json"

	maxSizeMB, err := strconv.Atoi(getEnv("LOG_MAX_SIZE_MB", "100"))
	if err == nil {
		cfg.Logging.MaxSizeMB = maxSizeMB
	} else {
		cfg.Logging.MaxSizeMB = 100
	}

	maxBackups, err := strconv.Atoi(getEnv("LOG_MAX_BACKUPS", "7"))
	if err == nil {
		cfg.Logging.MaxBackups = maxBackups
	} else {
		cfg.Logging.MaxBackups = 7
	}

	maxAgeDays, err := strconv.Atoi(getEnv("LOG_MAX_AGE_DAYS", "30"))
	if err == nil {
		cfg.Logging.MaxAgeDays = maxAgeDays
	} else {
		cfg.Logging.MaxAgeDays = 30
	}

	// Streaming configuration
	cfg.Streaming.Enabled = getEnvBool("ENABLE_STREAM", false)
	cfg.Streaming.Type = getEnv("STREAM_TYPE", "ws")
	if cfg.Streaming.Type != "ws" && cfg.Streaming.Type != "sse" {
		return nil, fmt.Errorf("invalid STREAM_TYPE %q: must be ws or sse", cfg.Streaming.Type)
	}
	cfg.Streaming.Route = getEnv("STREAM_ROUTE", "/stream")
	bufferSize, err := strconv.Atoi(getEnv("STREAM_BUFFER", "256"))
	if err == nil && bufferSize > 0 {
		cfg.Streaming.BufferSize = bufferSize
	} else {
		cfg.Streaming.BufferSize = 256
	}

	return cfg, nil
}

// parseRPCURL validates the endpoint and returns it with its host label.
func parseRPCURL(raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("RPC_URL must be provided")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid RPC_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("invalid RPC_URL: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("invalid RPC_URL: missing host")
	}
	return raw, u.Hostname(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch getEnv(key, "") {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}
