package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"voxio-chat/internal/adapters/exporter"
	"voxio-chat/internal/adapters/push/memory"
	"voxio-chat/internal/adapters/push/wsrealtime"
	"voxio-chat/internal/adapters/storage/httpstore"
	"voxio-chat/internal/adapters/store/reststore"
	"voxio-chat/internal/adapters/store/sqlstore"
	"voxio-chat/internal/cache"
	"voxio-chat/internal/chat"
	"voxio-chat/internal/core/reconciler"
	"voxio-chat/internal/core/services"
	"voxio-chat/internal/core/typing"
	"voxio-chat/internal/domain"
	applog "voxio-chat/internal/log"
	"voxio-chat/internal/pkg/config"
	"voxio-chat/internal/pkg/term"
	"voxio-chat/internal/ports"
	"voxio-chat/internal/realtime"
	"voxio-chat/internal/telemetry"
)

// errNoSession возвращается, если токен пользователя не настроен.
var errNoSession = errors.New("access token is not configured")

// staticSession выдает токен из конфигурации.
type staticSession struct {
	token string
}

func (s staticSession) AccessToken(context.Context) (string, error) {
	if s.token == "" {
		return "", errNoSession
	}
	return s.token, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска клиента.
func run() error {
	var room, metricsAddr string
	flag.StringVar(&room, "room", "", "Room to open (overrides config)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	flag.Parse()

	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if room != "" {
		cfg.Chat.Room = room
	}
	if metricsAddr != "" {
		cfg.Chat.MetricsAddr = metricsAddr
	}

	// 2. Логгер пишет в stderr, лента выводится в stdout
	logger := applog.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Chat.UserID == "" || cfg.Chat.Username == "" {
		return errors.New("chat.user_id and chat.username are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	terminal := term.NewTerminal()
	if cfg.Chat.AccessToken == "" && cfg.Chat.RequireAuth && terminal.Interactive() {
		token, err := terminal.Secret(ctx, "Access token: ")
		if err != nil {
			return fmt.Errorf("failed to read access token: %w", err)
		}
		cfg.Chat.AccessToken = token
	}
	session := staticSession{token: cfg.Chat.AccessToken}

	metrics := telemetry.New(true)
	if cfg.Chat.MetricsAddr != "" {
		go serveMetrics(cfg.Chat.MetricsAddr, metrics)
	}

	// 3. Хранилище и канал доставки
	deps, err := buildTransport(cfg, session, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	profiles := cache.NewCacheStore[domain.Profile]()
	profiles.StartCleanupTicker(ctx, config.DefaultCleanupInterval)
	enricher := services.NewEnrichmentService(deps.store, deps.users,
		services.WithOperationTimeout(cfg.Enrichment.OperationTimeout),
		services.WithProfileTTL(cfg.Enrichment.ProfileTTL),
		services.WithProfileCache(profiles),
		services.WithLogger(logger),
	)
	enricher.Remember(cfg.Chat.UserID, cfg.Chat.Username)

	adapter := realtime.NewAdapter(deps.realtime,
		realtime.WithSessionProvider(session),
		realtime.WithRequireAuth(cfg.Chat.RequireAuth),
		realtime.WithEnricher(enricher),
		realtime.WithMetrics(metrics),
		realtime.WithLogger(logger),
	)

	// 4. Терминал, предпросмотры и сессия
	a := newApp(ctx, terminal, logger)
	if cfg.Chat.PreviewURL != "" {
		if err := a.withPreviews(cfg.Chat.PreviewURL, logger); err != nil {
			return err
		}
		defer a.close()
	}
	a.renderer = exporter.NewConsoleRenderer(terminal.Out(),
		exporter.WithWidth(terminal.Width()),
		exporter.WithPreviews(a.cachedPreview),
	)
	a.maxUpload, err = cfg.MaxUploadBytes()
	if err != nil {
		return err
	}

	reconcilerOpts := []reconciler.Option{
		reconciler.WithNotifier(a),
		reconciler.WithMetrics(metrics),
		reconciler.WithLogger(logger),
	}
	if deps.attachments != nil {
		reconcilerOpts = append(reconcilerOpts, reconciler.WithAttachmentStore(deps.attachments))
	}

	a.session = chat.NewSession(domain.Author{ID: cfg.Chat.UserID, Username: cfg.Chat.Username}, deps.store, adapter,
		chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
		chat.WithQuietPeriod(cfg.Typing.QuietPeriod),
		chat.WithReconcilerOptions(reconcilerOpts...),
		chat.WithTrackerOptions(
			typing.WithTimeout(cfg.Typing.Timeout),
			typing.WithSweepInterval(cfg.Typing.SweepInterval),
			typing.WithLogger(logger),
		),
		chat.WithMessagesListener(a.onMessages),
		chat.WithTypingListener(a.onTyping),
		chat.WithStatusListener(a.onStatus),
		chat.WithLogger(logger),
	)
	defer a.session.Close()

	if err := a.session.Open(ctx, cfg.Chat.Room); err != nil {
		a.NotifyFailure("open room", err)
	}

	// 5. Цикл ввода
	return a.loop(ctx)
}

// transport собирает выбранные реализации портов и функцию их закрытия.
type transport struct {
	store       ports.MessageStore
	users       ports.UserDirectory
	realtime    ports.Realtime
	attachments ports.AttachmentStore
	close       func()
}

func buildTransport(cfg *config.Config, session staticSession, logger *slog.Logger) (*transport, error) {
	switch cfg.Chat.Transport {
	case config.TransportWebsocket:
		maxUpload, err := cfg.MaxUploadBytes()
		if err != nil {
			return nil, err
		}
		ws, err := wsrealtime.NewClient(cfg.Platform.URL, cfg.Platform.APIKey,
			wsrealtime.WithHeartbeat(cfg.Chat.Heartbeat),
			wsrealtime.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create realtime client: %w", err)
		}

		storeOpts := []reststore.Option{reststore.WithLogger(logger)}
		uploadOpts := []httpstore.Option{
			httpstore.WithBucket(cfg.Platform.Bucket),
			httpstore.WithMaxSize(maxUpload),
			httpstore.WithLogger(logger),
		}
		if session.token != "" {
			storeOpts = append(storeOpts, reststore.WithSessionProvider(session))
			uploadOpts = append(uploadOpts, httpstore.WithSessionProvider(session))
		}
		store := reststore.New(cfg.Platform.URL, cfg.Platform.APIKey, storeOpts...)

		return &transport{
			store:       store,
			users:       store,
			realtime:    ws,
			attachments: httpstore.NewClient(cfg.Platform.URL, cfg.Platform.APIKey, uploadOpts...),
			close:       func() {},
		}, nil

	default:
		bus := memory.NewBus(memory.WithLogger(logger))
		store, err := sqlstore.Open(cfg.Chat.DatabasePath,
			sqlstore.WithChangeSink(bus.PublishChange),
			sqlstore.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if err := store.UpsertProfile(context.Background(), domain.Profile{ID: cfg.Chat.UserID, Username: cfg.Chat.Username}); err != nil {
			_ = store.Close()
			return nil, err
		}

		t := &transport{
			store:    store,
			users:    store,
			realtime: bus,
			close:    func() { _ = store.Close() },
		}
		// Локальные вложения доступны, только если настроена платформа хранения.
		if cfg.Platform.URL != "" {
			maxUpload, err := cfg.MaxUploadBytes()
			if err != nil {
				return nil, err
			}
			t.attachments = httpstore.NewClient(cfg.Platform.URL, cfg.Platform.APIKey,
				httpstore.WithBucket(cfg.Platform.Bucket),
				httpstore.WithMaxSize(maxUpload),
				httpstore.WithLogger(logger),
			)
		}
		return t, nil
	}
}

func serveMetrics(addr string, metrics *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	slog.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server error", "error", err)
	}
}
