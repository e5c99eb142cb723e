package config

import "time"

// Default values for configuration.
const (
	// Server defaults
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultCleanupInterval = 1 * time.Hour

	// Platform defaults
	DefaultBucket        = "chat_attachments"
	DefaultMaxUploadSize = "10 MiB"

	// Chat defaults
	DefaultTransport    = TransportMemory
	DefaultHistoryLimit = 100
	DefaultDatabasePath = "voxio.db"
	DefaultRoom         = "general"
	DefaultHeartbeat    = 25 * time.Second

	// Typing defaults
	DefaultTypingTimeout = 3500 * time.Millisecond
	DefaultSweepInterval = 1 * time.Second
	DefaultTypingQuiet   = 2 * time.Second

	// Enrichment defaults
	DefaultOperationTimeout = 5 * time.Second
	DefaultProfileTTL       = 5 * time.Minute

	// Preview defaults
	DefaultPreviewCacheTTL  = 60 * time.Minute
	DefaultPreviewBodyLimit = "512 KiB"
	DefaultPreviewTimeout   = 8 * time.Second
	DefaultRateLimitRPS     = 5.0
	DefaultRateLimitBurst   = 10
	DefaultLimiterTTL       = 10 * time.Minute

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = ""
)

// Транспорты канала доставки.
const (
	TransportMemory    = "memory"
	TransportWebsocket = "websocket"
)
