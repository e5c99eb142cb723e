// Package httpstore реализует хранилище вложений поверх HTTP API объектного хранилища платформы.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// Бакет вложений чата.
const DefaultBucket = "chat_attachments"

var (
	// ErrTooLarge возвращается, если файл превышает допустимый размер.
	ErrTooLarge = errors.New("attachment is too large")
	// ErrForeignURL возвращается при попытке удалить объект не из этого бакета.
	ErrForeignURL = errors.New("url does not belong to the bucket")
)

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBucket задает бакет.
func WithBucket(bucket string) Option {
	return func(c *Client) {
		if bucket != "" {
			c.bucket = bucket
		}
	}
}

// WithMaxSize ограничивает размер загружаемого файла. Ноль снимает ограничение.
func WithMaxSize(n int64) Option {
	return func(c *Client) {
		c.maxSize = n
	}
}

// WithSessionProvider подключает токен пользователя для заголовка Authorization.
// Без него запросы подписываются публичным ключом.
func WithSessionProvider(p ports.SessionProvider) Option {
	return func(c *Client) {
		c.session = p
	}
}

// WithClock подменяет источник времени для имени объекта.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client работает с объектным хранилищем.
type Client struct {
	baseURL    string
	apiKey     string
	bucket     string
	maxSize    int64
	session    ports.SessionProvider
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

// NewClient создает новый экземпляр Client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  DefaultBucket,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // Загрузка медиа бывает долгой
		},
		now: time.Now,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "httpstore")
	return c
}

// ObjectPath строит путь объекта вида <userId>/<unix-millis>.<ext>.
func ObjectPath(userID string, now time.Time, file domain.File) string {
	ext := file.Ext()
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%d.%s", userID, now.UnixMilli(), ext)
}

// PublicURL возвращает публичную ссылку на объект.
func (c *Client) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, escapePath(objectPath))
}

// Upload загружает файл и возвращает его публичную ссылку.
func (c *Client) Upload(ctx context.Context, userID string, file domain.File) (string, error) {
	if c.maxSize > 0 && int64(len(file.Data)) > c.maxSize {
		return "", fmt.Errorf("%w: %s of %s allowed",
			ErrTooLarge, humanize.IBytes(uint64(len(file.Data))), humanize.IBytes(uint64(c.maxSize)))
	}

	objectPath := ObjectPath(userID, c.now(), file)
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, escapePath(objectPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(file.Data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	if err := c.do(req, http.StatusOK, http.StatusCreated); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}

	c.log.InfoContext(ctx, "attachment uploaded",
		"path", objectPath, "size", humanize.IBytes(uint64(len(file.Data))))
	return c.PublicURL(objectPath), nil
}

// Remove удаляет ранее загруженный объект по его публичной ссылке.
func (c *Client) Remove(ctx context.Context, publicURL string) error {
	prefix := fmt.Sprintf("%s/storage/v1/object/public/%s/", c.baseURL, c.bucket)
	if !strings.HasPrefix(publicURL, prefix) {
		return fmt.Errorf("%w: %s", ErrForeignURL, publicURL)
	}
	objectPath, err := url.PathUnescape(strings.TrimPrefix(publicURL, prefix))
	if err != nil {
		return fmt.Errorf("invalid object path in %s: %w", publicURL, err)
	}

	body, err := json.Marshal(map[string][]string{"prefixes": {objectPath}})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.baseURL, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	if err := c.do(req, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to remove %s: %w", objectPath, err)
	}
	c.log.InfoContext(ctx, "attachment removed", "path", objectPath)
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	req.Header.Set("apikey", c.apiKey)
	token := c.apiKey
	if c.session != nil {
		t, err := c.session.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		if t != "" {
			token = t
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) do(req *http.Request, okStatuses ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	for _, s := range okStatuses {
		if resp.StatusCode == s {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}

	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &apiErr) == nil && (apiErr.Message != "" || apiErr.Error != "") {
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, firstNonEmpty(apiErr.Message, apiErr.Error))
	}
	return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
