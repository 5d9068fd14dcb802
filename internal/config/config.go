package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every environment-level setting the worker recognises.
type Config struct {
	LogLevel string

	SourceContainer      string
	DestinationContainer string

	StorageAccountURL       string
	StorageConnectionString string

	VisionEndpoint  string
	VisionKey       string
	VisionTransport string
	VisionGRPCAddr  string
	VisionSource    string
	VisionTimeout   time.Duration

	LocalTest   bool
	BlurSigma   float64
	JPEGQuality int

	QueueName              string
	QueueServiceURL        string
	WorkerConcurrency      int
	MaxDequeueCount        int64
	QueueVisibilityTimeout time.Duration
	QueuePollInterval      time.Duration

	HTTPAddr    string
	RedisAddr   string
	DatabaseDSN string
	JWTSecret   string
	JWTAudience string
}

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"

	SourceBytes = "bytes"
	SourceURL   = "url"
)

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	cfg := &Config{
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		SourceContainer:         getEnv("SOURCE_CONTAINER_NAME", "face-blur-source"),
		DestinationContainer:    getEnv("DESTINATION_CONTAINER_NAME", "face-blur-destination"),
		StorageAccountURL:       strings.TrimRight(os.Getenv("STORAGE_ACCOUNT_URL"), "/"),
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		VisionEndpoint:          strings.TrimRight(os.Getenv("COMPUTER_VISION_ENDPOINT"), "/"),
		VisionKey:               strings.TrimSpace(os.Getenv("COMPUTER_VISION_KEY")),
		VisionTransport:         strings.ToLower(getEnv("VISION_TRANSPORT", TransportHTTP)),
		VisionGRPCAddr:          os.Getenv("VISION_GRPC_ADDR"),
		VisionSource:            strings.ToLower(getEnv("VISION_SOURCE", SourceBytes)),
		VisionTimeout:           getDuration("VISION_TIMEOUT", 10*time.Second),
		LocalTest:               getBool("LOCAL_TEST", false),
		BlurSigma:               getFloat("BLUR_SIGMA", 70),
		JPEGQuality:             getInt("JPEG_QUALITY", 90),
		QueueName:               getEnv("QUEUE_NAME", "image-processing-queue"),
		QueueServiceURL:         strings.TrimRight(os.Getenv("QUEUE_SERVICE_URL"), "/"),
		WorkerConcurrency:       getInt("WORKER_CONCURRENCY", 4),
		MaxDequeueCount:         int64(getInt("MAX_DEQUEUE_COUNT", 5)),
		QueueVisibilityTimeout:  getDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		QueuePollInterval:       getDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		DatabaseDSN:             os.Getenv("DATABASE_DSN"),
		JWTSecret:               strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAudience:             strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
	ensureDefaults(cfg)
	return cfg
}

func ensureDefaults(cfg *Config) {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.MaxDequeueCount <= 0 {
		cfg.MaxDequeueCount = 5
	}
	if cfg.BlurSigma <= 0 {
		cfg.BlurSigma = 70
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.QueuePollInterval <= 0 {
		cfg.QueuePollInterval = 2 * time.Second
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.StorageAccountURL == "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("STORAGE_ACCOUNT_URL or STORAGE_CONNECTION_STRING is required"))
	}
	switch c.VisionTransport {
	case TransportHTTP:
		if c.VisionEndpoint == "" {
			errs = append(errs, errors.New("COMPUTER_VISION_ENDPOINT is required for the http vision transport"))
		}
	case TransportGRPC:
		if c.VisionGRPCAddr == "" {
			errs = append(errs, errors.New("VISION_GRPC_ADDR is required for the grpc vision transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VISION_TRANSPORT %q", c.VisionTransport))
	}
	if c.VisionSource != SourceBytes && c.VisionSource != SourceURL {
		errs = append(errs, fmt.Errorf("unknown VISION_SOURCE %q", c.VisionSource))
	}
	if c.VisionSource == SourceURL && c.StorageAccountURL == "" {
		errs = append(errs, errors.New("VISION_SOURCE=url requires STORAGE_ACCOUNT_URL"))
	}
	if c.SourceContainer == c.DestinationContainer {
		errs = append(errs, errors.New("source and destination containers must differ"))
	}
	return errors.Join(errs...)
}

// QueueEnabled reports whether a storage queue is configured for polling.
func (c *Config) QueueEnabled() bool {
	return c.QueueName != "" && (c.QueueServiceURL != "" || c.StorageConnectionString != "")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
