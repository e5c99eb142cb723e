// Package preview собирает предпросмотры ссылок: oEmbed для известных поставщиков
// и OpenGraph разметку для остальных страниц.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voxio-chat/internal/cache"
	"voxio-chat/internal/domain"
)

const (
	// DefaultCacheTTL задает время жизни предпросмотра в кэше.
	DefaultCacheTTL = time.Hour
	// DefaultBodyLimit ограничивает число байт страницы, читаемых при разборе метаданных.
	DefaultBodyLimit = 512 << 10
	// DefaultTimeout ограничивает один исходящий запрос.
	DefaultTimeout = 8 * time.Second

	userAgent = "VoxioPreview/1.0"
)

var (
	// ErrInvalidURL возвращается для пустых ссылок и схем, отличных от http(s).
	ErrInvalidURL = errors.New("invalid url")
	// ErrFetch возвращается, если страницу не удалось получить.
	ErrFetch = errors.New("fetch failed")
)

// Metrics принимает наблюдения сервиса.
type Metrics interface {
	ObserveCache(hit bool)
	ObserveFetch(provider string, d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCache(bool)                         {}
func (nopMetrics) ObserveFetch(string, time.Duration, error) {}

// Option настраивает Service.
type Option func(*Service)

// WithHTTPClient подменяет HTTP клиент. Проверка адресов при соединении
// остается только у клиента по умолчанию.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithTimeout задает таймаут обращения к внешнему ресурсу для клиента по умолчанию.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithResolver подменяет разрешение имен для проверки хоста.
func WithResolver(r Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithCache позволяет передать внешний кэш.
func WithCache(c *cache.CacheStore[domain.Preview]) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithCacheTTL задает время жизни предпросмотра.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithBodyLimit ограничивает объем читаемой страницы.
func WithBodyLimit(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithOEmbedEndpoint переопределяет oEmbed точку поставщика.
func WithOEmbedEndpoint(providerName, endpoint string) Option {
	return func(s *Service) {
		p, ok := s.providers[providerName]
		if !ok {
			return
		}
		p.endpoint = endpoint
		s.providers[providerName] = p
	}
}

// WithMetrics подключает сбор метрик.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service строит предпросмотры ссылок.
type Service struct {
	httpClient *http.Client
	timeout    time.Duration
	resolver   Resolver
	cache      *cache.CacheStore[domain.Preview]
	ttl        time.Duration
	bodyLimit  int64
	providers  map[string]provider
	metrics    Metrics
	log        *slog.Logger
}

// NewService создает сервис с настройками по умолчанию.
func NewService(opts ...Option) *Service {
	providers := make(map[string]provider, len(defaultProviders))
	for k, v := range defaultProviders {
		providers[k] = v
	}
	s := &Service{
		timeout:    DefaultTimeout,
		resolver:   net.DefaultResolver,
		cache:      cache.NewCacheStore[domain.Preview](),
		ttl:        DefaultCacheTTL,
		bodyLimit:  DefaultBodyLimit,
		providers:  providers,
		metrics:    nopMetrics{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = newGuardedClient(s.timeout)
	}
	s.log = s.log.With("component", "preview")
	return s
}

func newGuardedClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: dialControl,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Через прокси dialControl увидел бы адрес прокси, а не цели.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// Cache возвращает кэш предпросмотров.
func (s *Service) Cache() *cache.CacheStore[domain.Preview] {
	return s.cache
}

// Normalize приводит ссылку к абсолютному виду, добавляя https:// при отсутствии схемы.
func Normalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	u.Fragment = ""
	return u, nil
}

// Fetch возвращает предпросмотр ссылки, используя кэш.
func (s *Service) Fetch(ctx context.Context, rawURL string) (domain.Preview, error) {
	u, err := Normalize(rawURL)
	if err != nil {
		return domain.Preview{}, err
	}
	key := u.String()

	if item, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		return item.Data, nil
	}
	s.metrics.ObserveCache(false)

	if err := checkHost(ctx, s.resolver, u.Hostname()); err != nil {
		s.log.WarnContext(ctx, "preview target rejected", "url", key, "error", err)
		return domain.Preview{}, err
	}

	name := DetectProvider(u)
	start := time.Now()
	p, err := s.build(ctx, u, name)
	s.metrics.ObserveFetch(name, time.Since(start), err)
	if err != nil {
		s.log.WarnContext(ctx, "preview fetch failed", "url", key, "provider", name, "error", err)
		return domain.Preview{}, err
	}

	s.cache.Put(key, p, s.ttl)
	s.log.DebugContext(ctx, "preview built", "url", key, "provider", name)
	return p, nil
}

func (s *Service) build(ctx context.Context, u *url.URL, name string) (domain.Preview, error) {
	if pr, ok := s.providers[name]; ok {
		return s.fromOEmbed(ctx, u, name, pr), nil
	}
	return s.fromPage(ctx, u, name)
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	HTML         string `json:"html"`
}

// fromOEmbed опрашивает oEmbed поставщика. Ошибка поставщика дает
// минимальный предпросмотр, а не отказ.
func (s *Service) fromOEmbed(ctx context.Context, u *url.URL, name string, pr provider) domain.Preview {
	p := domain.Preview{Provider: name, URL: u.String(), MediaType: pr.mediaType}

	data, err := s.oembed(ctx, u, pr)
	if err != nil {
		s.log.DebugContext(ctx, "oembed unavailable", "provider", name, "error", err)
	}

	switch name {
	case ProviderYouTube:
		p.Title = data.Title
		p.Description = data.AuthorName
		if id := YouTubeID(u); id != "" {
			p.Images = YouTubeThumbnails(id)
		} else if data.ThumbnailURL != "" {
			p.Images = []string{data.ThumbnailURL}
		}
	case ProviderSpotify:
		p.Title = data.Title
		p.Description = data.AuthorName
	case ProviderTwitter:
		// У твитов нет заголовка, только встраиваемая разметка.
	default:
		p.Title = data.Title
	}
	if name != ProviderYouTube && data.ThumbnailURL != "" {
		p.Images = []string{data.ThumbnailURL}
	}
	p.HTML = data.HTML
	return p
}

func (s *Service) oembed(ctx context.Context, u *url.URL, pr provider) (oembedResponse, error) {
	endpoint, err := url.Parse(pr.endpoint)
	if err != nil {
		return oembedResponse{}, err
	}
	q := endpoint.Query()
	q.Set("url", u.String())
	for k, vs := range pr.extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return oembedResponse{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return oembedResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return oembedResponse{}, fmt.Errorf("oembed status %d", resp.StatusCode)
	}

	var out oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, s.bodyLimit)).Decode(&out); err != nil {
		return oembedResponse{}, fmt.Errorf("decode oembed: %w", err)
	}
	return out, nil
}

// fromPage загружает страницу и разбирает ее заголовок.
func (s *Service) fromPage(ctx context.Context, u *url.URL, name string) (domain.Preview, error) {
	p := domain.Preview{Provider: ProviderGeneric, URL: u.String(), MediaType: MediaLink}
	if name == ProviderInstagram {
		p.Provider = ProviderInstagram
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			return domain.Preview{}, err
		}
		return domain.Preview{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return domain.Preview{}, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return p, nil
	}

	meta := parseHead(io.LimitReader(resp.Body, s.bodyLimit))
	p.Title = meta.Title
	p.Description = meta.Description
	if meta.Image != "" {
		p.Images = []string{resolveRef(resp.Request.URL, meta.Image)}
	}
	return p, nil
}

// resolveRef делает относительную ссылку на изображение абсолютной.
func resolveRef(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
