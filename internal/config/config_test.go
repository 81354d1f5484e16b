package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/webhook/", cfg.WebhookPath)
	assert.Equal(t, 300*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4095, cfg.MaxMessageChunk)
	assert.Equal(t, 1500, cfg.SummaryMinChars)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.GeminiFallbackModel)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxUploadBytes())
	assert.Empty(t, cfg.WebhookURL())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoad_MissingToken(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("STORE_DRIVER", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoad_MongoRequiresURI(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestLoad_UnknownDriver(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STORE_DRIVER", "redis")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvFileAndWebhook(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("WEBHOOK_URL_BASE", "")
	t.Setenv("WEBHOOK_PATH", "")
	content := "TELEGRAM_BOT_TOKEN=from-file\nSTORE_DRIVER=memory\nWEBHOOK_URL_BASE=https://bot.example.com/\nWEBHOOK_PATH=hook\n"
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.BotToken)
	assert.Equal(t, "https://bot.example.com/hook", cfg.WebhookURL())
}

func TestLoad_ChunkClamp(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MAX_MESSAGE_CHUNK", "9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4095, cfg.MaxMessageChunk)
}
