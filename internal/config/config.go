package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Storage     StorageConfig
	ObjectStore ObjectStoreConfig
	Fetcher     FetcherConfig
	Worker      WorkerConfig
	Server      ServerConfig
}

// StorageConfig holds record store configuration
type StorageConfig struct {
	Type          string // "memory", "dynamodb", "mongodb", "postgresql", "redis"
	Region        string // For AWS DynamoDB
	TablePrefix   string
	Endpoint      string // Custom endpoint for local testing
	MongoDBURI    string
	MongoDatabase string
	PostgresURI   string
	RedisURL      string
	SeedFile      string // JSON jobs and ads preloaded into the memory store
}

// ObjectStoreConfig holds media blob storage configuration
type ObjectStoreConfig struct {
	Type           string // "local", "s3"
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	PublicBaseURL  string
	LocalDir       string
}

// FetcherConfig holds media fetch configuration
type FetcherConfig struct {
	Type      string // "http", "exec"
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Command   string
	Script    string
}

// WorkerConfig holds download queue configuration
type WorkerConfig struct {
	ItemDelay     time.Duration
	TempDir       string
	SweepInterval time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               int
	GinMode            string
	CORSAllowedOrigins []string // "*" allows any origin
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	region := getEnv("AWS_REGION", "us-west-2")
	cfg := &Config{
		Storage: StorageConfig{
			Type:          getEnv("STORAGE_TYPE", "memory"),
			Region:        region,
			TablePrefix:   getEnv("TABLE_PREFIX", "ads_cloner"),
			Endpoint:      getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			MongoDBURI:    getEnv("MONGODB_URI", ""),
			MongoDatabase: getEnv("MONGODB_DATABASE", "ads_cloner"),
			PostgresURI:   getEnv("POSTGRES_URI", ""),
			RedisURL:      getEnv("REDIS_URL", ""),
			SeedFile:      getEnv("MEMORY_SEED_FILE", ""),
		},
		ObjectStore: ObjectStoreConfig{
			Type:           getEnv("OBJECT_STORE_TYPE", "local"),
			Bucket:         getEnv("S3_BUCKET", "ad-media"),
			Region:         getEnv("S3_REGION", region),
			Endpoint:       getEnv("S3_ENDPOINT", ""),
			ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),
			PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
			LocalDir:       getEnv("LOCAL_MEDIA_DIR", "./data/media"),
		},
		Fetcher: FetcherConfig{
			Type:      getEnv("FETCHER_TYPE", "http"),
			Timeout:   getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			MaxBytes:  getEnvInt64("FETCH_MAX_BYTES", 50*1024*1024),
			UserAgent: getEnv("FETCH_USER_AGENT", ""),
			Command:   getEnv("FETCH_COMMAND", "python3"),
			Script:    getEnv("FETCH_SCRIPT", "../ad_media_downloader.py"),
		},
		Worker: WorkerConfig{
			ItemDelay:     getEnvDuration("DOWNLOAD_DELAY", time.Second),
			TempDir:       getEnv("DOWNLOAD_TEMP_DIR", filepath.Join(os.TempDir(), "fb_ads")),
			SweepInterval: getEnvDuration("PENDING_SWEEP_INTERVAL", 0),
		},
		Server: ServerConfig{
			Port:               getEnvInt("SERVER_PORT", 3001),
			GinMode:            getEnv("GIN_MODE", "release"),
			CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend selections and their required settings
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "dynamodb":
	case "mongodb":
		if c.Storage.MongoDBURI == "" {
			return fmt.Errorf("MONGODB_URI is required for storage type mongodb")
		}
	case "postgresql":
		if c.Storage.PostgresURI == "" {
			return fmt.Errorf("POSTGRES_URI is required for storage type postgresql")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for storage type redis")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.ObjectStore.Type {
	case "local":
		if c.ObjectStore.LocalDir == "" {
			return fmt.Errorf("LOCAL_MEDIA_DIR is required for object store type local")
		}
	case "s3":
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for object store type s3")
		}
	default:
		return fmt.Errorf("unsupported object store type: %s", c.ObjectStore.Type)
	}

	switch c.Fetcher.Type {
	case "http":
	case "exec":
		if c.Fetcher.Command == "" {
			return fmt.Errorf("FETCH_COMMAND is required for fetcher type exec")
		}
	default:
		return fmt.Errorf("unsupported fetcher type: %s", c.Fetcher.Type)
	}

	if c.Worker.ItemDelay < 0 {
		return fmt.Errorf("DOWNLOAD_DELAY must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
