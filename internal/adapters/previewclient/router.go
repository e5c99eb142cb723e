package previewclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

var (
	// ErrNoHealthyEndpoints возвращается, когда все сервисы предпросмотра недоступны.
	ErrNoHealthyEndpoints = errors.New("no healthy preview endpoints available")
	// ErrNoEndpoints возвращается, если роутер создан без адресов.
	ErrNoEndpoints = errors.New("no preview endpoints configured")
)

// DefaultHealthCheckInterval задает период проверки недоступных сервисов.
const DefaultHealthCheckInterval = 30 * time.Second

// Strategy выбирает сервис из списка доступных.
type Strategy interface {
	Next(endpoints []*Client) (*Client, error)
}

// RoundRobinStrategy выбирает сервисы по кругу.
type RoundRobinStrategy struct {
	current atomic.Uint32
}

// NewRoundRobinStrategy создает новую стратегию "по кругу".
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Next возвращает следующий сервис.
func (s *RoundRobinStrategy) Next(endpoints []*Client) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoHealthyEndpoints
	}
	idx := s.current.Add(1) - 1
	return endpoints[idx%uint32(len(endpoints))], nil
}

// RouterOption настраивает Router.
type RouterOption func(*Router)

// WithHealthCheckInterval задает период проверки недоступных сервисов.
func WithHealthCheckInterval(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.healthCheckInterval = d
		}
	}
}

// WithStrategy задает стратегию выбора сервиса.
func WithStrategy(s Strategy) RouterOption {
	return func(r *Router) {
		if s != nil {
			r.strategy = s
		}
	}
}

// WithRouterLogger устанавливает логгер роутера.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// Router распределяет запросы предпросмотра между несколькими сервисами
// и временно исключает те, что не отвечают на /health.
type Router struct {
	mu        sync.RWMutex
	endpoints []*Client
	unhealthy map[string]bool
	strategy  Strategy
	log       *slog.Logger

	healthCheckInterval time.Duration
	done                chan struct{}
	stopOnce            sync.Once
	wg                  sync.WaitGroup
}

var _ ports.PreviewFetcher = (*Router)(nil)

// NewRouter создает роутер и запускает фоновую проверку недоступных сервисов.
func NewRouter(endpoints []*Client, opts ...RouterOption) (*Router, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	r := &Router{
		endpoints:           endpoints,
		unhealthy:           make(map[string]bool),
		strategy:            NewRoundRobinStrategy(),
		log:                 slog.Default(),
		healthCheckInterval: DefaultHealthCheckInterval,
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "preview_router")

	r.wg.Add(1)
	go r.healthCheckLoop()
	return r, nil
}

// Fetch запрашивает предпросмотр у выбранного сервиса.
// При ошибке сервис проверяется в фоне и при неудаче исключается из выбора.
func (r *Router) Fetch(ctx context.Context, rawURL string) (domain.Preview, error) {
	r.mu.RLock()
	healthy := make([]*Client, 0, len(r.endpoints))
	for _, c := range r.endpoints {
		if !r.unhealthy[c.ID()] {
			healthy = append(healthy, c)
		}
	}
	strategy := r.strategy
	r.mu.RUnlock()

	client, err := strategy.Next(healthy)
	if err != nil {
		return domain.Preview{}, fmt.Errorf("strategy failed to get next endpoint: %w", err)
	}

	p, err := client.Fetch(ctx, rawURL)
	if err != nil {
		r.log.DebugContext(ctx, "Preview request failed", "endpoint", client.ID(), "error", err)
		go r.forceHealthCheck(client)
	}
	return p, err
}

// Healthy возвращает число доступных сервисов.
func (r *Router) Healthy() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints) - len(r.unhealthy)
}

// Stop останавливает фоновую проверку. Повторный вызов ничего не делает.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Router) healthCheckLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.checkUnhealthy()
		case <-r.done:
			return
		}
	}
}

// checkUnhealthy возвращает в выбор сервисы, снова прошедшие проверку.
func (r *Router) checkUnhealthy() {
	r.mu.RLock()
	toCheck := make([]*Client, 0, len(r.unhealthy))
	for _, c := range r.endpoints {
		if r.unhealthy[c.ID()] {
			toCheck = append(toCheck, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range toCheck {
		if err := c.Health(context.Background()); err != nil {
			r.log.Debug("Endpoint remains unhealthy", "endpoint", c.ID(), "reason", err)
			continue
		}
		r.setHealthy(c.ID(), true)
	}
}

func (r *Router) forceHealthCheck(c *Client) {
	if err := c.Health(context.Background()); err != nil {
		r.log.Warn("Сервис предпросмотра не прошел проверку, исключаем из выбора", "endpoint", c.ID(), "reason", err)
		r.setHealthy(c.ID(), false)
	}
}

func (r *Router) setHealthy(id string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if healthy == !r.unhealthy[id] {
		return
	}
	if healthy {
		delete(r.unhealthy, id)
	} else {
		r.unhealthy[id] = true
	}
	r.log.Info("Endpoint state changed", "endpoint", id, "healthy", healthy, "healthy_count", len(r.endpoints)-len(r.unhealthy))
}
