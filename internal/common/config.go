package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tenderflow/docpipe/constants"
)

// Config holds all application configuration
type Config struct {
	Queue    QueueConfig
	Database DatabaseConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Alerts   AlertsConfig
	Server   ServerConfig
	Worker   WorkerConfig
}

// QueueConfig selects and tunes the queue backend.
type QueueConfig struct {
	Backend     string // "sqlite" | "redis" | "memory"
	SQLitePath  string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// DatabaseConfig holds relational-datastore configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// StorageConfig holds object-store configuration
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract        string
	Pdftoppm         string
	ImageConverter   string
	Languages        string // comma-separated hint set, e.g. "eng,rus,kaz"
	DPI              int
	MinConfidence    float64
	ArtifactCacheDir string
}

// AlertsConfig holds notification transport configuration
type AlertsConfig struct {
	WebhookTimeout time.Duration
	SMTPAddr       string
	SMTPFrom       string
	SMTPUser       string
	SMTPPassword   string
	// DefaultChannel and DefaultRecipients route rule-match alerts when
	// the triggering payload names no recipients of its own.
	DefaultChannel    string
	DefaultRecipients []string
}

// ServerConfig holds the health/metrics HTTP surface configuration
type ServerConfig struct {
	HTTPAddr        string
	FailedThreshold int
}

// WorkerConfig holds pool-wide policy knobs
type WorkerConfig struct {
	StallAfter      time.Duration
	HeartbeatEvery  time.Duration
	MaxStallRetries int
	JobTimeout      time.Duration
	PollInterval    time.Duration
	Concurrency     map[string]int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	conc := make(map[string]int, len(constants.QueueNames))
	for _, name := range constants.QueueNames {
		conc[name] = getEnvAsInt("CONCURRENCY_"+envKey(name), constants.DefaultConcurrency[name])
	}
	return &Config{
		Queue: QueueConfig{
			Backend:     getEnv("QUEUE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("QUEUE_DB_PATH", "./data/queue.db"),
			RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:     getEnvAsInt("REDIS_DB", 0),
			RedisPrefix: getEnv("REDIS_PREFIX", "docpipe"),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			UseSSL:    getEnvAsBool("S3_USE_SSL", false),
			Bucket:    getEnv("S3_BUCKET", "documents"),
		},
		OCR: OCRConfig{
			Tesseract:        getEnv("OCR_TESSERACT", "tesseract"),
			Pdftoppm:         getEnv("OCR_PDFTOPPM", "pdftoppm"),
			ImageConverter:   getEnv("OCR_IMAGE_CONVERTER", "magick"),
			Languages:        getEnv("OCR_LANGUAGES", "eng"),
			DPI:              getEnvAsInt("OCR_DPI", 300),
			MinConfidence:    getEnvAsFloat64("OCR_MIN_CONFIDENCE", 0.35),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Alerts: AlertsConfig{
			WebhookTimeout:    getEnvAsDuration("ALERT_WEBHOOK_TIMEOUT", 10*time.Second),
			SMTPAddr:          getEnv("SMTP_ADDR", ""),
			SMTPFrom:          getEnv("SMTP_FROM", "alerts@tenderflow.local"),
			SMTPUser:          getEnv("SMTP_USER", ""),
			SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
			DefaultChannel:    getEnv("ALERT_CHANNEL", "email"),
			DefaultRecipients: getEnvAsSlice("ALERT_RECIPIENTS"),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8090"),
			FailedThreshold: getEnvAsInt("HEALTH_FAILED_THRESHOLD", 10),
		},
		Worker: WorkerConfig{
			StallAfter:      getEnvAsDuration("WORKER_STALL_AFTER", 30*time.Second),
			HeartbeatEvery:  getEnvAsDuration("WORKER_HEARTBEAT_EVERY", 5*time.Second),
			MaxStallRetries: getEnvAsInt("WORKER_MAX_STALL_RETRIES", 3),
			JobTimeout:      getEnvAsDuration("WORKER_JOB_TIMEOUT", 3*time.Minute),
			PollInterval:    getEnvAsDuration("WORKER_POLL_INTERVAL", 250*time.Millisecond),
			Concurrency:     conc,
		},
	}
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "sqlite", "redis", "memory":
	default:
		return NewAppError("CONFIG_ERROR", "QUEUE_BACKEND must be sqlite, redis or memory", ErrValidation)
	}
	if c.Queue.Backend == "sqlite" && c.Queue.SQLitePath == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_DB_PATH is required", ErrValidation)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrValidation)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrValidation)
	}
	return nil
}

func envKey(queue string) string {
	out := make([]byte, len(queue))
	for i := 0; i < len(queue); i++ {
		ch := queue[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out[i] = ch - 'a' + 'A'
		case ch == '-':
			out[i] = '_'
		default:
			out[i] = ch
		}
	}
	return string(out)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
