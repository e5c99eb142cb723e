// Package config предоставляет управление конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Префикс переменных окружения.
const EnvPrefix = "VOXIO_"

// Server содержит конфигурацию сервера предпросмотра
type Server struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// Platform содержит адрес и ключ платформы хранения и доставки
type Platform struct {
	URL    string `json:"url" yaml:"url"`
	APIKey string `json:"api_key" yaml:"api_key"`
	Bucket string `json:"bucket" yaml:"bucket"`
	// Размер в человекочитаемом виде, например "10 MiB".
	MaxUploadSize string `json:"max_upload_size" yaml:"max_upload_size"`
}

// Chat содержит конфигурацию терминального клиента
type Chat struct {
	UserID       string        `json:"user_id" yaml:"user_id"`
	Username     string        `json:"username" yaml:"username"`
	AccessToken  string        `json:"access_token" yaml:"access_token"`
	Room         string        `json:"room" yaml:"room"`
	Transport    string        `json:"transport" yaml:"transport"` // memory, websocket
	DatabasePath string        `json:"database_path" yaml:"database_path"`
	HistoryLimit int           `json:"history_limit" yaml:"history_limit"`
	Heartbeat    time.Duration `json:"heartbeat" yaml:"heartbeat"`
	RequireAuth  bool          `json:"require_auth" yaml:"require_auth"`
	PreviewURL   string        `json:"preview_url" yaml:"preview_url"`
	MetricsAddr  string        `json:"metrics_addr" yaml:"metrics_addr"`
}

// Typing содержит интервалы индикатора набора
type Typing struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	QuietPeriod   time.Duration `json:"quiet_period" yaml:"quiet_period"`
}

// Enrichment содержит конфигурацию сервиса обогащения строк
type Enrichment struct {
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	ProfileTTL       time.Duration `json:"profile_ttl" yaml:"profile_ttl"`
}

// Preview содержит конфигурацию сервиса предпросмотра ссылок
type Preview struct {
	CacheTTL       time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	BodyLimit      string        `json:"body_limit" yaml:"body_limit"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	RateLimitRPS   float64       `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// Logging содержит конфигурацию логирования
type Logging struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json; пусто - по терминалу
}

// Config содержит конфигурацию приложения
type Config struct {
	Server     Server     `json:"server" yaml:"server"`
	Platform   Platform   `json:"platform" yaml:"platform"`
	Chat       Chat       `json:"chat" yaml:"chat"`
	Typing     Typing     `json:"typing" yaml:"typing"`
	Enrichment Enrichment `json:"enrichment" yaml:"enrichment"`
	Preview    Preview    `json:"preview" yaml:"preview"`
	Logging    Logging    `json:"logging" yaml:"logging"`
}

// LoadConfig загружает конфигурацию из .env файла, config.yml и переменных окружения VOXIO_*.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig() (*Config, error) {
	// Отсутствие .env файла не является ошибкой
	_ = godotenv.Load()

	cfg := defaultConfig()
	if err := loadFromYAML(getEnv(EnvPrefix+"CONFIG", "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию из env: %w", err)
	}
	return cfg, nil
}

// defaultConfig возвращает конфигурацию со значениями по умолчанию
func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Platform: Platform{
			Bucket:        DefaultBucket,
			MaxUploadSize: DefaultMaxUploadSize,
		},
		Chat: Chat{
			Room:         DefaultRoom,
			Transport:    DefaultTransport,
			DatabasePath: DefaultDatabasePath,
			HistoryLimit: DefaultHistoryLimit,
			Heartbeat:    DefaultHeartbeat,
		},
		Typing: Typing{
			Timeout:       DefaultTypingTimeout,
			SweepInterval: DefaultSweepInterval,
			QuietPeriod:   DefaultTypingQuiet,
		},
		Enrichment: Enrichment{
			OperationTimeout: DefaultOperationTimeout,
			ProfileTTL:       DefaultProfileTTL,
		},
		Preview: Preview{
			CacheTTL:       DefaultPreviewCacheTTL,
			BodyLimit:      DefaultPreviewBodyLimit,
			Timeout:        DefaultPreviewTimeout,
			RateLimitRPS:   DefaultRateLimitRPS,
			RateLimitBurst: DefaultRateLimitBurst,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// loadFromYAML накладывает значения из YAML-файла на cfg. Отсутствие файла не ошибка.
func loadFromYAML(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}
	return nil
}

// loadFromEnv накладывает переменные окружения VOXIO_* на cfg
func loadFromEnv(cfg *Config) error {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Platform.URL, "URL")
	setString(&cfg.Platform.APIKey, "API_KEY")
	setString(&cfg.Platform.Bucket, "BUCKET")
	setString(&cfg.Platform.MaxUploadSize, "MAX_UPLOAD_SIZE")
	setString(&cfg.Chat.UserID, "USER_ID")
	setString(&cfg.Chat.Username, "USERNAME")
	setString(&cfg.Chat.AccessToken, "ACCESS_TOKEN")
	setString(&cfg.Chat.Room, "ROOM")
	setString(&cfg.Chat.Transport, "TRANSPORT")
	setString(&cfg.Chat.DatabasePath, "DATABASE_PATH")
	setString(&cfg.Chat.PreviewURL, "PREVIEW_URL")
	setString(&cfg.Chat.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.Preview.BodyLimit, "PREVIEW_BODY_LIMIT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setInt(&cfg.Server.Port, "SERVER_PORT"),
		setInt(&cfg.Chat.HistoryLimit, "HISTORY_LIMIT"),
		setInt(&cfg.Preview.RateLimitBurst, "RATE_LIMIT_BURST"),
		setFloat(&cfg.Preview.RateLimitRPS, "RATE_LIMIT_RPS"),
		setBool(&cfg.Chat.RequireAuth, "REQUIRE_AUTH"),
		setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
		setDuration(&cfg.Chat.Heartbeat, "HEARTBEAT"),
		setDuration(&cfg.Typing.Timeout, "TYPING_TIMEOUT"),
		setDuration(&cfg.Preview.CacheTTL, "PREVIEW_CACHE_TTL"),
		setDuration(&cfg.Preview.Timeout, "PREVIEW_TIMEOUT"),
	)
	return errors.Join(errs...)
}

// Address возвращает адрес сервера в формате "host:port"
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxUploadBytes возвращает предельный размер вложения в байтах
func (c *Config) MaxUploadBytes() (int64, error) {
	return parseSize("platform.max_upload_size", c.Platform.MaxUploadSize)
}

// PreviewBodyLimitBytes возвращает объем читаемой страницы в байтах
func (c *Config) PreviewBodyLimitBytes() (int64, error) {
	return parseSize("preview.body_limit", c.Preview.BodyLimit)
}

func parseSize(field, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: недопустимый размер %q: %w", field, value, err)
	}
	return int64(n), nil
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port должен быть действительным номером порта (1-65535)")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout должно быть положительным")
	}

	switch c.Chat.Transport {
	case TransportMemory:
	case TransportWebsocket:
		if c.Platform.URL == "" || c.Platform.APIKey == "" {
			return fmt.Errorf("platform.url и platform.api_key обязательны для транспорта websocket")
		}
	default:
		return fmt.Errorf("chat.transport должен быть одним из: memory, websocket")
	}

	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit должно быть неотрицательным (0 для отсутствия ограничений)")
	}

	if c.Chat.Heartbeat <= 0 {
		return fmt.Errorf("chat.heartbeat должно быть положительным")
	}

	if c.Typing.Timeout <= 0 || c.Typing.SweepInterval <= 0 || c.Typing.QuietPeriod <= 0 {
		return fmt.Errorf("интервалы typing должны быть положительными")
	}

	if c.Enrichment.OperationTimeout <= 0 {
		return fmt.Errorf("enrichment.operation_timeout должно быть положительным")
	}

	if c.Enrichment.ProfileTTL <= 0 {
		return fmt.Errorf("enrichment.profile_ttl должно быть положительным")
	}

	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}

	if _, err := c.PreviewBodyLimitBytes(); err != nil {
		return err
	}

	if c.Preview.CacheTTL <= 0 {
		return fmt.Errorf("preview.cache_ttl должно быть положительным")
	}

	if c.Preview.RateLimitRPS <= 0 || c.Preview.RateLimitBurst <= 0 {
		return fmt.Errorf("preview.rate_limit_rps и preview.rate_limit_burst должны быть положительными")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("logging.level должен быть одним из: debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format должен быть одним из: text, json")
	}

	return nil
}

// getEnv извлекает значение переменной окружения или возвращает значение по умолчанию, если она не установлена
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("недопустимый %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("недопустимый %s%s: %w", EnvPrefix, key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("недопустимый %s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("недопустимый %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
