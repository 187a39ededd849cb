package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API and worker services.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// StrictTerminal makes the store reject updates to jobs already in a
	// terminal state instead of applying them last-write-wins.
	StrictTerminal bool

	// Worker settings.
	APIURL       string
	ToolAPIURL   string
	PollInterval time.Duration
	PollLimit    int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	ExecTimeout  time.Duration

	// Observer settings.
	ObserverBackoffInitial time.Duration
	ObserverBackoffMax     time.Duration

	RateLimitCapacity int
	RateLimitRefill   float64

	// Image executor settings.
	ImageOutputDir       string
	ImageDownloadTimeout time.Duration
	ImageMaxBytes        int64
	ImageDefaultWidth    int
	ImageDefaultHeight   int
	ImageS3Bucket        string
	ImageS3Region        string
	ImageS3Endpoint      string
	ImageS3PathStyle     bool
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StrictTerminal: getEnvBool("STRICT_TERMINAL", false),

		APIURL:       getEnv("API_URL", "http://localhost:8080"),
		ToolAPIURL:   getEnv("TOOL_API_URL", ""),
		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollLimit:    getEnvInt("POLL_LIMIT", 5),
		BackoffBase:  getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:   getEnvDuration("BACKOFF_MAX", 30*time.Second),
		ExecTimeout:  getEnvDuration("EXEC_TIMEOUT", 5*time.Minute),

		ObserverBackoffInitial: getEnvDuration("OBSERVER_BACKOFF_INITIAL", time.Second),
		ObserverBackoffMax:     getEnvDuration("OBSERVER_BACKOFF_MAX", 10*time.Second),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		ImageOutputDir:       getEnv("IMAGE_OUTPUT_DIR", "./output"),
		ImageDownloadTimeout: getEnvDuration("IMAGE_DOWNLOAD_TIMEOUT", 30*time.Second),
		ImageMaxBytes:        getEnvInt64("IMAGE_MAX_BYTES", 25*1024*1024),
		ImageDefaultWidth:    getEnvInt("IMAGE_DEFAULT_WIDTH", 320),
		ImageDefaultHeight:   getEnvInt("IMAGE_DEFAULT_HEIGHT", 0),
		ImageS3Bucket:        getEnv("IMAGE_S3_BUCKET", ""),
		ImageS3Region:        getEnv("IMAGE_S3_REGION", "us-east-1"),
		ImageS3Endpoint:      getEnv("IMAGE_S3_ENDPOINT", ""),
		ImageS3PathStyle:     getEnvBool("IMAGE_S3_PATH_STYLE", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
