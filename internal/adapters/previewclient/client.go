// Package previewclient обращается к HTTP API сервиса предпросмотра ссылок.
package previewclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voxio-chat/internal/cache"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// DefaultTTL задает время жизни предпросмотра в кэше клиента.
const DefaultTTL = time.Hour

// ErrUnexpectedStatus возвращается, если сервис ответил неуспешным статусом.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithCache задает кэш предпросмотров и время жизни записей.
func WithCache(c *cache.CacheStore[domain.Preview], ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		if ttl > 0 {
			cl.ttl = ttl
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// Client — клиент для взаимодействия с сервисом предпросмотра.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.CacheStore[domain.Preview]
	ttl        time.Duration
	log        *slog.Logger
}

var _ ports.PreviewFetcher = (*Client)(nil)

// NewClient создает новый экземпляр Client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second, // Общий таймаут для запросов
		},
		cache: cache.NewCacheStore[domain.Preview](),
		ttl:   DefaultTTL,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "previewclient")
	return c
}

// ID возвращает адрес сервиса, к которому обращается клиент.
func (c *Client) ID() string {
	return c.baseURL
}

// Health проверяет доступность сервиса через /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Fetch запрашивает предпросмотр ссылки. Успешные ответы кэшируются, ошибки нет.
func (c *Client) Fetch(ctx context.Context, rawURL string) (domain.Preview, error) {
	if item, ok := c.cache.Get(rawURL); ok {
		return item.Data, nil
	}

	endpoint := c.baseURL + "/preview?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		c.log.DebugContext(ctx, "Сервис предпросмотра вернул ошибку", "url", rawURL, "status", resp.StatusCode, "error", apiErr.Error)
		return domain.Preview{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var result domain.Preview
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Preview{}, fmt.Errorf("failed to decode response: %w", err)
	}

	c.cache.Put(rawURL, result, c.ttl)
	return result, nil
}
