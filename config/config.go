package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCatalogURL   = "https://pighub.top/api/images?limit=10000&sort=latest"
	DefaultImageBaseURL = "https://pighub.top/"

	catalogFileName = "list.json"
	cacheDirName    = "pig_images"
)

// Config represents the root configuration structure
type Config struct {
	LLM     LLMConfig
	Sentry  SentryConfig
	Bot     BotConfig
	Catalog CatalogConfig
	Images  ImagesConfig
	Log     LogConfig
}

// LLMConfig contains configuration for the optional caption generator
type LLMConfig struct {
	APIBaseURL     string
	APIToken       string
	CaptionModel   string
	CaptionPrompt  string
	Language       string
	RequestTimeout time.Duration
}

// Enabled reports whether captions should be requested from the LLM back-end
func (c LLMConfig) Enabled() bool {
	return c.CaptionModel != ""
}

// SentryConfig contains configuration for Sentry error tracking
type SentryConfig struct {
	DSN string
}

// BotConfig contains configuration for bot settings
type BotConfig struct {
	AdminIDs        []int64
	Telegram        TelegramConfig
	CooldownPeriod  time.Duration
	CandidateCount  int
	ShutdownTimeout time.Duration
}

// TelegramConfig contains configuration for Telegram bot
type TelegramConfig struct {
	Token string
}

// CatalogConfig describes where the catalog lives and how it is refreshed
type CatalogConfig struct {
	DataDir      string
	RemoteURL    string
	ImageBaseURL string
	FetchTimeout time.Duration
	UpdateCycle  int
}

// Path returns the location of the catalog file
func (c CatalogConfig) Path() string {
	return filepath.Join(c.DataDir, catalogFileName)
}

// CacheDir returns the local image cache directory
func (c CatalogConfig) CacheDir() string {
	return filepath.Join(c.DataDir, cacheDirName)
}

// ImagesConfig contains download and cache settings
type ImagesConfig struct {
	LoadToLocal            bool
	MaxRetries             int
	MaxConcurrentDownloads int
	DownloadTimeout        time.Duration
	RequestsPerSecond      float64
}

// LogConfig contains logging settings
type LogConfig struct {
	Level slog.Level
}

// Load creates a new Config instance populated from environment variables
func Load() *Config {
	defaultCaptionPrompt := "You're captioning a random pig picture in a Telegram chat.\n" +
		"The picture is titled \"{{.Title}}\".\n" +
		"Write one short, friendly caption for it in the following language: {{.Language}}.\n" +
		"Reply with the caption only."

	return &Config{
		LLM: LLMConfig{
			APIBaseURL:     os.Getenv("OPENAI_API_BASE_URL"),
			APIToken:       os.Getenv("OPENAI_API_TOKEN"),
			CaptionModel:   os.Getenv("MODEL_CAPTION"),
			CaptionPrompt:  getEnvOrDefault("PROMPT_CAPTION", defaultCaptionPrompt),
			Language:       getEnvOrDefault("RESPONSE_LANGUAGE", "Chinese"),
			RequestTimeout: getEnvSeconds("LLM_REQUEST_TIMEOUT", 15),
		},
		Sentry: SentryConfig{
			DSN: os.Getenv("SENTRY_DSN"),
		},
		Bot: BotConfig{
			AdminIDs: parseIDs(os.Getenv("BOT_ADMIN_IDS")),
			Telegram: TelegramConfig{
				Token: os.Getenv("TELEGRAM_TOKEN"),
			},
			CooldownPeriod:  getEnvSeconds("COOLDOWN_PERIOD", 5),
			CandidateCount:  getEnvInt("CANDIDATE_COUNT", 3),
			ShutdownTimeout: getEnvSeconds("SHUTDOWN_TIMEOUT", 5),
		},
		Catalog: CatalogConfig{
			DataDir:      getEnvOrDefault("DATA_DIR", "data"),
			RemoteURL:    getEnvOrDefault("CATALOG_URL", DefaultCatalogURL),
			ImageBaseURL: getEnvOrDefault("IMAGE_BASE_URL", DefaultImageBaseURL),
			FetchTimeout: getEnvSeconds("CATALOG_FETCH_TIMEOUT", 10),
			UpdateCycle:  getEnvInt("UPDATE_CYCLE", 0),
		},
		Images: ImagesConfig{
			LoadToLocal:            getEnvBool("LOAD_TO_LOCAL", false),
			MaxRetries:             getEnvInt("MAX_RETRIES", 2),
			MaxConcurrentDownloads: getEnvInt("MAX_CONCURRENT_DOWNLOADS", 3),
			DownloadTimeout:        getEnvSeconds("DOWNLOAD_TIMEOUT", 30),
			RequestsPerSecond:      getEnvFloat("REQUESTS_PER_SECOND", 5),
		},
		Log: LogConfig{
			Level: ParseLevel(getEnvOrDefault("LOG_LEVEL", "info")),
		},
	}
}

// ParseLevel converts a level name into slog.Level, falling back to info
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}

	return level
}

func parseIDs(raw string) []int64 {
	var ids []int64
	if raw == "" {
		return ids
	}

	for _, idStr := range strings.Split(raw, ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}

	return ids
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if str := os.Getenv(key); str != "" {
		if value, err := strconv.Atoi(str); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if str := os.Getenv(key); str != "" {
		if value, err := strconv.ParseFloat(str, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if str := os.Getenv(key); str != "" {
		if value, err := strconv.ParseBool(str); err == nil {
			return value
		}
	}
	return defaultValue
}

// getEnvSeconds accepts fractional seconds, e.g. COOLDOWN_PERIOD=2.5
func getEnvSeconds(key string, defaultSeconds float64) time.Duration {
	seconds := getEnvFloat(key, defaultSeconds)
	if seconds < 0 {
		seconds = defaultSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}
