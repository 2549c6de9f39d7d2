package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string `toml:"port"`
	Host    string `toml:"host"`
	Env     string `toml:"env"`
	BaseURL string `toml:"base_url"` // Absolute URL used in password reset links

	DBType     string `toml:"db_type"`
	DBHost     string `toml:"db_host"`
	DBPort     string `toml:"db_port"`
	DBName     string `toml:"db_name"`
	DBUser     string `toml:"db_user"`
	DBPassword string `toml:"db_password"`
	DBPath     string `toml:"db_path"`

	// Storage configuration
	StorageBackend string `toml:"storage_backend"` // "disk", "memory", "s3"
	StoragePath    string `toml:"storage_path"`    // For disk backend
	S3Endpoint     string `toml:"s3_endpoint"`
	S3Region       string `toml:"s3_region"`
	S3Bucket       string `toml:"s3_bucket"`
	S3AccessKey    string `toml:"s3_access_key"`
	S3SecretKey    string `toml:"s3_secret_key"`
	S3UsePathStyle bool   `toml:"s3_use_path_style"` // Required for MinIO and friends

	MaxUploadSize int64 `toml:"-"`
	FilesPerPage  int   `toml:"files_per_page"`

	SessionSecret   string `toml:"session_secret"`
	SessionDuration string `toml:"session_duration"`
	// SessionStore selects the scs store: "database" (sqlite/postgres, matching DBType),
	// "redis" or "memory".
	SessionStore         string        `toml:"session_store"`
	SessionPruneInterval time.Duration `toml:"-"`
	RedisAddr            string        `toml:"redis_addr"`
	RedisPassword        string        `toml:"redis_password"`
	RedisDB              int           `toml:"redis_db"`

	BcryptCost    int           `toml:"bcrypt_cost"`
	CSRFEnabled   bool          `toml:"csrf_enabled"`
	ResetTokenTTL time.Duration `toml:"-"`
	// AuthRateLimit is the number of auth attempts allowed per IP every 15 minutes. 0 disables it.
	AuthRateLimit int `toml:"auth_rate_limit"`
	// TrustedProxies lists the CIDRs whose X-Real-IP / X-Forwarded-For headers are believed.
	TrustedProxies []string `toml:"trusted_proxies"`

	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     string `toml:"smtp_port"`
	SMTPUsername string `toml:"smtp_username"`
	SMTPPassword string `toml:"smtp_password"`
	SMTPFrom     string `toml:"smtp_from"`
}

// defaults returns the built-in configuration, before any file or environment overrides.
func defaults() *Config {
	return &Config{
		Port:                 "8080",
		Host:                 "0.0.0.0",
		Env:                  "development",
		BaseURL:              "http://localhost:8080",
		DBType:               "sqlite",
		DBHost:               "localhost",
		DBPort:               "5432",
		DBName:               "swapshelf",
		DBUser:               "swapshelf",
		DBPath:               "./data/swapshelf.db",
		StorageBackend:       "disk",
		StoragePath:          "./data/uploads",
		S3Region:             "us-east-1",
		MaxUploadSize:        100 * 1024 * 1024,
		FilesPerPage:         5,
		SessionSecret:        "change_me_in_production",
		SessionDuration:      "336h",
		SessionStore:         "database",
		SessionPruneInterval: time.Hour,
		RedisAddr:            "localhost:6379",
		BcryptCost:           10,
		CSRFEnabled:          true,
		ResetTokenTTL:        6 * time.Hour,
		AuthRateLimit:        5,
		SMTPPort:             "587",
		SMTPFrom:             "no-reply@swapshelf.local",
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// CONFIG_FILE, and finally the environment (a .env file is loaded first if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.BaseURL = strings.TrimSuffix(getEnv("BASE_URL", cfg.BaseURL), "/")
	cfg.DBType = getEnv("DB_TYPE", cfg.DBType)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.StorageBackend = getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.StoragePath = getEnv("STORAGE_PATH", cfg.StoragePath)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.MaxUploadSize = getEnvSize("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.FilesPerPage = getEnvInt("FILES_PER_PAGE", cfg.FilesPerPage)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionDuration = getEnv("SESSION_DURATION", cfg.SessionDuration)
	cfg.SessionStore = getEnv("SESSION_STORE", cfg.SessionStore)
	cfg.SessionPruneInterval = getEnvDuration("SESSION_PRUNE_INTERVAL", cfg.SessionPruneInterval)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", cfg.CSRFEnabled)
	cfg.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", cfg.ResetTokenTTL)
	cfg.AuthRateLimit = getEnvInt("AUTH_RATE_LIMIT", cfg.AuthRateLimit)
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.SMTPHost = getEnv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnv("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = getEnv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = getEnv("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = getEnv("SMTP_FROM", cfg.SMTPFrom)

	if cfg.FilesPerPage < 1 {
		cfg.FilesPerPage = 5
	}
	if cfg.SessionPruneInterval < time.Minute {
		cfg.SessionPruneInterval = time.Minute
	}
	if cfg.AuthRateLimit < 0 {
		cfg.AuthRateLimit = 0
	}

	return cfg, nil
}

// fileConfig mirrors the string-typed settings that TOML cannot decode straight
// into Config (sizes and durations).
type fileConfig struct {
	MaxUploadSize        string `toml:"max_upload_size"`
	SessionPruneInterval string `toml:"session_prune_interval"`
	ResetTokenTTL        string `toml:"reset_token_ttl"`
}

func loadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var extra fileConfig
	if _, err := toml.DecodeFile(path, &extra); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if extra.MaxUploadSize != "" {
		size, err := parseSize(extra.MaxUploadSize)
		if err != nil {
			return fmt.Errorf("config file %s: max_upload_size: %w", path, err)
		}
		cfg.MaxUploadSize = size
	}
	if extra.SessionPruneInterval != "" {
		d, err := time.ParseDuration(extra.SessionPruneInterval)
		if err != nil {
			return fmt.Errorf("config file %s: session_prune_interval: %w", path, err)
		}
		cfg.SessionPruneInterval = d
	}
	if extra.ResetTokenTTL != "" {
		d, err := time.ParseDuration(extra.ResetTokenTTL)
		if err != nil {
			return fmt.Errorf("config file %s: reset_token_ttl: %w", path, err)
		}
		cfg.ResetTokenTTL = d
	}
	return nil
}

// SessionLifetime parses SessionDuration, falling back to two weeks.
func (c *Config) SessionLifetime() time.Duration {
	lifetime, err := time.ParseDuration(c.SessionDuration)
	if err != nil || lifetime <= 0 {
		return 14 * 24 * time.Hour
	}
	return lifetime
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseSize converts human-readable sizes (e.g., "10G", "500M", "1K") to bytes
// Supports: B, K/KB, M/MB, G/GB, T/TB (case-insensitive)
func parseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		return val, nil
	}

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(sizeStr, "TB") || strings.HasSuffix(sizeStr, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(strings.TrimSuffix(sizeStr, "TB"), "T")
	case strings.HasSuffix(sizeStr, "GB") || strings.HasSuffix(sizeStr, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(strings.TrimSuffix(sizeStr, "GB"), "G")
	case strings.HasSuffix(sizeStr, "MB") || strings.HasSuffix(sizeStr, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(strings.TrimSuffix(sizeStr, "MB"), "M")
	case strings.HasSuffix(sizeStr, "KB") || strings.HasSuffix(sizeStr, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(strings.TrimSuffix(sizeStr, "KB"), "K")
	case strings.HasSuffix(sizeStr, "B"):
		numStr = strings.TrimSuffix(sizeStr, "B")
	default:
		return 0, fmt.Errorf("invalid size format: %s (use B, K/KB, M/MB, G/GB, T/TB)", sizeStr)
	}

	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %s", sizeStr)
	}

	return int64(val * float64(multiplier)), nil
}

// getEnvSize parses size strings like "10G", "500M" or raw bytes
func getEnvSize(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	size, err := parseSize(value)
	if err != nil {
		log.Printf("config: %s=%q is not a size, using default: %v", key, value, err)
		return defaultValue
	}
	return size
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using default: %v", key, value, err)
		return defaultValue
	}
	return duration
}
