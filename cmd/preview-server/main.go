package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	applog "voxio-chat/internal/log"
	"voxio-chat/internal/pkg/config"
	"voxio-chat/internal/preview"
	"voxio-chat/internal/server"
	"voxio-chat/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска сервера предпросмотра.
func run() error {
	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		// Логгер еще не инициализирован, выводим в stderr
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализация логгера
	logger := applog.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// 3. Валидация конфигурации (после инициализации логгера)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	bodyLimit, err := cfg.PreviewBodyLimitBytes()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Инициализация зависимостей
	metrics := telemetry.New(true)
	svc := preview.NewService(
		preview.WithCacheTTL(cfg.Preview.CacheTTL),
		preview.WithBodyLimit(bodyLimit),
		preview.WithTimeout(cfg.Preview.Timeout),
		preview.WithMetrics(metrics),
		preview.WithLogger(logger),
	)
	svc.Cache().StartCleanupTicker(ctx, config.DefaultCleanupInterval)

	limiters := server.NewLimiterStore(cfg.Preview.RateLimitRPS, cfg.Preview.RateLimitBurst, config.DefaultLimiterTTL)
	limiters.StartCleanupTicker(ctx, config.DefaultLimiterTTL)

	// 5. Создание HTTP-сервера
	srv, err := server.New(cfg, svc, limiters,
		server.WithLogger(logger),
		server.WithMetricsHandler(metrics.Handler()),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// 6. Запуск сервера и graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Signal received, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-serverErr

	slog.Info("Application exited gracefully")
	return nil
}
