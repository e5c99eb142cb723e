// Package wsrealtime реализует канал доставки поверх websocket
// с кадрами в формате каналов Phoenix.
package wsrealtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxio-chat/internal/adapters/parser"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

const (
	// DefaultHeartbeat задает период отправки heartbeat.
	DefaultHeartbeat = 25 * time.Second
	// DefaultBuffer задает емкость очереди событий подписки.
	DefaultBuffer = 64

	writeTimeout = 10 * time.Second
	protocolVsn  = "1.0.0"
)

// Option настраивает Client.
type Option func(*Client)

// WithHeartbeat задает период heartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithParser подменяет разбор строк сообщений.
func WithParser(p ports.RowParser) Option {
	return func(c *Client) {
		if p != nil {
			c.parser = p
		}
	}
}

// WithDialer подменяет websocket.Dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
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

// Client открывает подписки на комнаты, по одному соединению на подписку.
type Client struct {
	endpoint  string
	apiKey    string
	heartbeat time.Duration
	parser    ports.RowParser
	dialer    *websocket.Dialer
	log       *slog.Logger
}

// NewClient создает клиента. baseURL задает адрес платформы (http, https, ws или wss),
// apiKey содержит публичный ключ проекта.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	endpoint, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		heartbeat: DefaultHeartbeat,
		parser:    parser.NewJsonParser(),
		dialer:    websocket.DefaultDialer,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "wsrealtime")
	return c, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid realtime url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path += "/realtime/v1/websocket"
	}
	return u.String(), nil
}

// Subscribe реализует ports.Realtime: устанавливает соединение и отправляет phx_join.
// О готовности подписки сообщает событие SUBSCRIBED после ответа сервера.
func (c *Client) Subscribe(ctx context.Context, roomID, token string) (ports.Subscription, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("apikey", c.apiKey)
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime: %w", err)
	}

	s := newSubscription(conn, Topic(roomID), c.parser, c.heartbeat, c.log.With("room_id", roomID))
	if err := s.join(roomID, token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.start()
	return s, nil
}

// statusOf переводит статус ответа сервера в статус подписки.
func statusOf(reply replyPayload) domain.SubscriptionStatus {
	if reply.Status == "ok" {
		return domain.StatusSubscribed
	}
	return domain.StatusError
}
