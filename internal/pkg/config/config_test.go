package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullYAML представляет полную конфигурацию клиента и сервера предпросмотра.
const fullYAML = `
server:
  host: "127.0.0.1"
  port: 8081
  shutdown_timeout: 5s
  allowed_origins: ["https://voxio.app"]
platform:
  url: "https://project.supabase.co"
  api_key: "anon-key"
  max_upload_size: "25 MB"
chat:
  user_id: "u1"
  username: "alice"
  room: "lobby"
  transport: "websocket"
  history_limit: 50
  heartbeat: 30s
typing:
  timeout: 4s
preview:
  cache_ttl: 30m
  body_limit: "1 MiB"
  rate_limit_rps: 2
  rate_limit_burst: 4
logging:
  level: "debug"
  format: "json"
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

func TestLoadFromYAML(t *testing.T) {
	t.Run("Значения файла накладываются на значения по умолчанию", func(t *testing.T) {
		path := createTempConfigFile(t, fullYAML)
		cfg := defaultConfig()
		err := loadFromYAML(path, cfg)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 8081, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "127.0.0.1:8081", cfg.Address())
		assert.Equal(t, []string{"https://voxio.app"}, cfg.Server.AllowedOrigins)

		assert.Equal(t, "https://project.supabase.co", cfg.Platform.URL)
		assert.Equal(t, DefaultBucket, cfg.Platform.Bucket)
		size, err := cfg.MaxUploadBytes()
		require.NoError(t, err)
		assert.Equal(t, int64(25_000_000), size)

		assert.Equal(t, "lobby", cfg.Chat.Room)
		assert.Equal(t, TransportWebsocket, cfg.Chat.Transport)
		assert.Equal(t, 50, cfg.Chat.HistoryLimit)
		assert.Equal(t, 30*time.Second, cfg.Chat.Heartbeat)

		assert.Equal(t, 4*time.Second, cfg.Typing.Timeout)
		assert.Equal(t, DefaultSweepInterval, cfg.Typing.SweepInterval)

		limit, err := cfg.PreviewBodyLimitBytes()
		require.NoError(t, err)
		assert.Equal(t, int64(1<<20), limit)
		assert.Equal(t, 30*time.Minute, cfg.Preview.CacheTTL)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Отсутствие файла не ошибка", func(t *testing.T) {
		cfg := defaultConfig()
		err := loadFromYAML("non_existent_file.yml", cfg)
		assert.NoError(t, err)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Некорректный YAML", func(t *testing.T) {
		path := createTempConfigFile(t, "invalid yaml: {")
		cfg := defaultConfig()
		err := loadFromYAML(path, cfg)
		assert.Error(t, err)
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("Переменные окружения переопределяют файл", func(t *testing.T) {
		t.Setenv("VOXIO_ROOM", "from-env")
		t.Setenv("VOXIO_SERVER_PORT", "9090")
		t.Setenv("VOXIO_REQUIRE_AUTH", "true")
		t.Setenv("VOXIO_TYPING_TIMEOUT", "1500ms")
		t.Setenv("VOXIO_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg := defaultConfig()
		require.NoError(t, loadFromYAML(createTempConfigFile(t, fullYAML), cfg))
		require.NoError(t, loadFromEnv(cfg))

		assert.Equal(t, "from-env", cfg.Chat.Room)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Chat.RequireAuth)
		assert.Equal(t, 1500*time.Millisecond, cfg.Typing.Timeout)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	})

	t.Run("Некорректные числа собираются в одну ошибку", func(t *testing.T) {
		t.Setenv("VOXIO_SERVER_PORT", "eighty")
		t.Setenv("VOXIO_HEARTBEAT", "soon")

		err := loadFromEnv(defaultConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VOXIO_SERVER_PORT")
		assert.Contains(t, err.Error(), "VOXIO_HEARTBEAT")
	})

	t.Run("LoadConfig читает файл из VOXIO_CONFIG", func(t *testing.T) {
		t.Setenv("VOXIO_CONFIG", createTempConfigFile(t, fullYAML))

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "alice", cfg.Chat.Username)
	})
}

func TestValidate(t *testing.T) {
	validConfig := func(t *testing.T) *Config {
		cfg := defaultConfig()
		err := loadFromYAML(createTempConfigFile(t, fullYAML), cfg)
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutator func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, true},
		{"invalid shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, true},
		{"unknown transport", func(c *Config) { c.Chat.Transport = "carrier-pigeon" }, true},
		{"websocket without url", func(c *Config) { c.Platform.URL = "" }, true},
		{"memory without url", func(c *Config) { c.Chat.Transport = TransportMemory; c.Platform.URL = "" }, false},
		{"negative history", func(c *Config) { c.Chat.HistoryLimit = -1 }, true},
		{"invalid heartbeat", func(c *Config) { c.Chat.Heartbeat = 0 }, true},
		{"invalid typing timeout", func(c *Config) { c.Typing.Timeout = 0 }, true},
		{"invalid upload size", func(c *Config) { c.Platform.MaxUploadSize = "lots" }, true},
		{"invalid body limit", func(c *Config) { c.Preview.BodyLimit = "" }, true},
		{"invalid rate limit", func(c *Config) { c.Preview.RateLimitRPS = 0 }, true},
		{"invalid logging level", func(c *Config) { c.Logging.Level = "wrong" }, true},
		{"invalid logging format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutator(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
