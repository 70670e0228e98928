// Package config loads archiver configuration from environment variables and
// the YAML channel roster.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blockedby/channel-archiver/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID      int
	TGApiHash    string
	TGSessionStr string
	SessionDB    string

	// archive layout
	ExportBaseDir string
	ChannelsFile  string
	CheckpointDB  string

	// media acquisition
	MediaWorkers    int
	MediaMaxWorkers int
	MinDelay        time.Duration
	MaxDelay        time.Duration
	FileTimeout     time.Duration

	// continuous mode
	ExportInterval  time.Duration
	InterChannelGap time.Duration
	StaleAfter      time.Duration

	// content filter
	FilterAds   bool
	FilterPromo bool

	// integrations (optional)
	NatsURL     string
	BotToken    string
	BotChatID   int64
	RequestsRPS float64

	// status api
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TGApiID:      getEnvInt("TG_API_ID", 0),
		TGApiHash:    getEnv("TG_API_HASH", ""),
		TGSessionStr: getEnv("TG_SESSION_STRING", ""),
		SessionDB:    getEnv("TG_SESSION_DB", "./archive/session.db"),

		ExportBaseDir: getEnv("ARCHIVE_DIR", "./archive"),
		ChannelsFile:  getEnv("CHANNELS_FILE", "./channels.yaml"),
		CheckpointDB:  getEnv("CHECKPOINT_DB", "./archive/checkpoints.db"),

		MediaWorkers:    getEnvInt("MEDIA_WORKERS", 4),
		MediaMaxWorkers: getEnvInt("MEDIA_MAX_WORKERS", 16),
		MinDelay:        getEnvDuration("MEDIA_MIN_DELAY", 100*time.Millisecond),
		MaxDelay:        getEnvDuration("MEDIA_MAX_DELAY", 3*time.Second),
		FileTimeout:     getEnvDuration("MEDIA_FILE_TIMEOUT", 90*time.Second),

		ExportInterval:  getEnvDuration("EXPORT_INTERVAL", 60*time.Minute),
		InterChannelGap: getEnvDuration("INTER_CHANNEL_GAP", 500*time.Millisecond),
		StaleAfter:      getEnvDuration("CHECKPOINT_STALE_AFTER", 24*time.Hour),

		FilterAds:   getEnvBool("FILTER_ADS", true),
		FilterPromo: getEnvBool("FILTER_PROMO", true),

		NatsURL:     getEnv("NATS_URL", ""),
		BotToken:    getEnv("BOT_TOKEN", ""),
		BotChatID:   int64(getEnvInt("BOT_CHAT_ID", 0)),
		RequestsRPS: getEnvFloat("TG_REQUESTS_RPS", 2.0),

		HTTPPort: getEnvInt("HTTP_PORT", 3200),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "./logs/archiver.log"),
	}

	if cfg.MediaWorkers < 1 {
		cfg.MediaWorkers = 1
	}
	if cfg.MediaWorkers > cfg.MediaMaxWorkers {
		cfg.MediaWorkers = cfg.MediaMaxWorkers
	}
	if cfg.MinDelay > cfg.MaxDelay {
		return nil, fmt.Errorf("MEDIA_MIN_DELAY %v exceeds MEDIA_MAX_DELAY %v", cfg.MinDelay, cfg.MaxDelay)
	}

	return cfg, nil
}

// LoadChannels parses the YAML channel roster. Entries with a missing id or
// title are skipped rather than failing the whole roster.
func LoadChannels(path string) ([]models.ChannelRef, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read channels file: %w", err)
	}

	var raw []struct {
		ID       int64  `yaml:"id"`
		Title    string `yaml:"title"`
		Username string `yaml:"username"`
		Export   string `yaml:"export"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse channels file: %w", err)
	}

	var channels []models.ChannelRef
	var warnings []error
	for i, item := range raw {
		if item.ID == 0 || item.Title == "" {
			warnings = append(warnings, fmt.Errorf("entry %d: id and title are required", i+1))
			continue
		}
		mode, err := models.ParseExportMode(item.Export)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("entry %d (%s): %w, using %q", i+1, item.Title, err, models.ExportBoth))
			mode = models.ExportBoth
		}
		channels = append(channels, models.ChannelRef{
			ID:       item.ID,
			Title:    item.Title,
			Username: item.Username,
			Export:   mode,
		})
	}

	return channels, warnings, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
