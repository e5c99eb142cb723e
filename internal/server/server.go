// Package server предоставляет HTTP API сервиса предпросмотра ссылок.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voxio-chat/internal/pkg/config"
	"voxio-chat/internal/ports"
	"voxio-chat/internal/preview"
)

// Option настраивает Server.
type Option func(*Server)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsHandler публикует обработчик метрик по адресу /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server представляет HTTP-сервер
type Server struct {
	HTTPServer *http.Server
	cfg        *config.Config
	fetcher    ports.PreviewFetcher
	limiters   *LimiterStore
	metrics    http.Handler
	log        *slog.Logger
}

// New создает новый экземпляр Server
func New(cfg *config.Config, fetcher ports.PreviewFetcher, limiters *LimiterStore, opts ...Option) (*Server, error) {
	if fetcher == nil {
		return nil, errors.New("preview fetcher is required")
	}
	if limiters == nil {
		limiters = NewLimiterStore(cfg.Preview.RateLimitRPS, cfg.Preview.RateLimitBurst, config.DefaultLimiterTTL)
	}

	s := &Server{
		cfg:      cfg,
		fetcher:  fetcher,
		limiters: limiters,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "preview-server")

	chiRouter := chi.NewRouter()

	// Промежуточное ПО
	chiRouter.Use(middleware.RequestID)
	chiRouter.Use(middleware.RealIP)
	chiRouter.Use(s.requestLogger)
	chiRouter.Use(middleware.Recoverer)
	chiRouter.Use(withCORS(cfg.Server.AllowedOrigins))

	// Конечная точка для проверки работоспособности
	chiRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chiRouter.With(s.rateLimit).Get("/preview", s.handlePreview)

	if s.metrics != nil {
		chiRouter.Handle("/metrics", s.metrics)
	}

	s.HTTPServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      chiRouter,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
	}
	return s, nil
}

// handlePreview отдает метаданные предпросмотра для параметра url
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	p, err := s.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.WarnContext(r.Context(), "Не удалось получить предпросмотр", "url", rawURL, "error", err)
		}
		writeError(w, status, http.StatusText(status))
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, p)
}

// rateLimit ограничивает частоту запросов с одного адреса
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger пишет в slog одну запись на запрос
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.InfoContext(r.Context(), "HTTP запрос",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// withCORS разрешает вызовы из браузерного клиента.
// Пустой список источников разрешает любой источник.
func withCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "":
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor переводит ошибку сервиса предпросмотра в HTTP-статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, preview.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, preview.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, preview.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe запускает HTTP-сервер
func (s *Server) ListenAndServe() error {
	s.log.Info("HTTP-сервер запущен", "address", s.HTTPServer.Addr)
	return s.HTTPServer.ListenAndServe()
}

// Shutdown корректно завершает работу HTTP-сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Завершение работы HTTP-сервера")
	return s.HTTPServer.Shutdown(ctx)
}
