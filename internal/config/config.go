package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo  = "mongo"
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken            string
	Port                int
	WebhookURLBase      string
	WebhookPath         string
	RequestTimeout      time.Duration
	MaxUploadMB         int
	MaxMessageChunk     int
	SummaryMinChars     int
	GeminiModel         string
	GeminiFallbackModel string
	AdminID             int64
	RequiredChannel     string
	DownloadsDir        string
	FFmpegPath          string
	StoreDriver         string
	MongoURI            string
	MongoDatabase       string
	MySQLDSN            string
	WorkerPoolSize      int
	UserRatePerMinute   int
	AdminUsername       string
	AdminPassword       string
	LogLevel            string
	S3Endpoint          string
	S3Region            string
	S3AccessKey         string
	S3SecretKey         string
	S3Bucket            string
	S3PublicBaseURL     string
	S3UsePathStyle      bool
	S3Prefix            string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                getInt("PORT", 8080),
		WebhookURLBase:      strings.TrimRight(getEnv("WEBHOOK_URL_BASE", ""), "/"),
		WebhookPath:         normalizePath(getEnv("WEBHOOK_PATH", "/webhook/")),
		RequestTimeout:      time.Second * time.Duration(getInt("REQUEST_TIMEOUT_GEMINI", 300)),
		MaxUploadMB:         getInt("MAX_UPLOAD_MB", 20),
		MaxMessageChunk:     getInt("MAX_MESSAGE_CHUNK", 4095),
		SummaryMinChars:     getInt("SUMMARY_MIN_CHARS", 1500),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbackModel: getEnv("GEMINI_FALLBACK_MODEL", "gemini-2.5-flash-lite"),
		AdminID:             getInt64("ADMIN_ID", 0),
		RequiredChannel:     strings.TrimSpace(getEnv("REQUIRED_CHANNEL", "")),
		DownloadsDir:        getEnv("DOWNLOADS_DIR", "./downloads"),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDatabase:       getEnv("MONGO_DATABASE", "SpeechBot"),
		MySQLDSN:            os.Getenv("MYSQL_DSN"),
		WorkerPoolSize:      getInt("WORKER_POOL_SIZE", 32),
		UserRatePerMinute:   getInt("USER_RATE_PER_MINUTE", 10),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "transcripts"),
	}

	cfg.BotToken = getEnv("TELEGRAM_BOT_TOKEN", os.Getenv("BOT_TOKEN"))

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.MaxMessageChunk <= 0 || cfg.MaxMessageChunk > 4096 {
		cfg.MaxMessageChunk = 4095
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 32
	}

	return cfg, nil
}

// WebhookURL is the public address registered with Telegram, empty when polling.
func (c Config) WebhookURL() string {
	if c.WebhookURLBase == "" {
		return ""
	}
	return c.WebhookURLBase + c.WebhookPath
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// ArchiveEnabled reports whether transcripts should be copied to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/webhook/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	return parseEnv(key, fallback, strconv.Atoi)
}

func getInt64(key string, fallback int64) int64 {
	return parseEnv(key, fallback, func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
}

func getBool(key string, fallback bool) bool {
	return parseEnv(key, fallback, strconv.ParseBool)
}

// parseEnv falls back on unset or malformed values.
func parseEnv[T any](key string, fallback T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	out, err := parse(v)
	if err != nil {
		return fallback
	}
	return out
}

// loadEnvFile loads the first env file found; running without one is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
