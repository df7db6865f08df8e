package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	StoragePath string
	GeoIPDBPath string

	TTSBaseURL    string
	TTSSessionID  string
	FFmpegPath    string
	BackgroundDir string

	WorkerConcurrency int
	MaxStageAttempts  int
	StageTimeout      time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	JobPollInterval   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		TTSBaseURL:    getEnv("TTS_BASE_URL", "https://api16-normal-v6.tiktokv.com/media/api/text/speech/invoke"),
		TTSSessionID:  os.Getenv("TTS_SESSION_ID"),
		FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
		BackgroundDir: getEnv("BACKGROUND_DIR", "./backgrounds"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		MaxStageAttempts:  getEnvInt("MAX_STAGE_ATTEMPTS", 3),
		StageTimeout:      time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 120)),
		RetryBaseDelay:    time.Second * time.Duration(getEnvInt("RETRY_BASE_DELAY_SECONDS", 1)),
		RetryMaxDelay:     time.Second * time.Duration(getEnvInt("RETRY_MAX_DELAY_SECONDS", 30)),
		JobPollInterval:   time.Second * time.Duration(getEnvInt("JOB_POLL_INTERVAL_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}

	if cfg.MaxStageAttempts < 1 {
		return nil, fmt.Errorf("MAX_STAGE_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
