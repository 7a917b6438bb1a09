package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"COOLDOWN_PERIOD", "LOAD_TO_LOCAL", "MAX_RETRIES", "UPDATE_CYCLE",
		"DATA_DIR", "CATALOG_URL", "IMAGE_BASE_URL", "MODEL_CAPTION", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Bot.CooldownPeriod)
	assert.False(t, cfg.Images.LoadToLocal)
	assert.Equal(t, 2, cfg.Images.MaxRetries)
	assert.Equal(t, 3, cfg.Images.MaxConcurrentDownloads)
	assert.Equal(t, 0, cfg.Catalog.UpdateCycle)
	assert.Equal(t, 10*time.Second, cfg.Catalog.FetchTimeout)
	assert.Equal(t, DefaultCatalogURL, cfg.Catalog.RemoteURL)
	assert.Equal(t, DefaultImageBaseURL, cfg.Catalog.ImageBaseURL)
	assert.Equal(t, filepath.Join("data", "list.json"), cfg.Catalog.Path())
	assert.Equal(t, filepath.Join("data", "pig_images"), cfg.Catalog.CacheDir())
	assert.False(t, cfg.LLM.Enabled())
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COOLDOWN_PERIOD", "2.5")
	t.Setenv("LOAD_TO_LOCAL", "true")
	t.Setenv("MAX_RETRIES", "4")
	t.Setenv("UPDATE_CYCLE", "2")
	t.Setenv("BOT_ADMIN_IDS", "1, 2,nope,3")
	t.Setenv("MODEL_CAPTION", "llama")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, 2500*time.Millisecond, cfg.Bot.CooldownPeriod)
	assert.True(t, cfg.Images.LoadToLocal)
	assert.Equal(t, 4, cfg.Images.MaxRetries)
	assert.Equal(t, 2, cfg.Catalog.UpdateCycle)
	assert.Equal(t, []int64{1, 2, 3}, cfg.Bot.AdminIDs)
	assert.True(t, cfg.LLM.Enabled())
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("COOLDOWN_PERIOD", "-1")
	t.Setenv("MAX_RETRIES", "many")
	t.Setenv("LOAD_TO_LOCAL", "sometimes")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Bot.CooldownPeriod)
	assert.Equal(t, 2, cfg.Images.MaxRetries)
	assert.False(t, cfg.Images.LoadToLocal)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}
