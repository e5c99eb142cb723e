package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voxio-chat/internal/cache"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// UnknownUsername показывается, когда автора не удалось определить.
const UnknownUsername = "Unknown"

// Config хранит конфигурацию для EnrichmentService.
type Config struct {
	// Таймаут одного точечного запроса.
	OperationTimeout time.Duration
	// Время жизни профиля в кэше.
	ProfileTTL time.Duration
}

// Option настраивает EnrichmentService.
type Option func(*EnrichmentService)

// WithOperationTimeout устанавливает таймаут для одного запроса.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *EnrichmentService) {
		if d > 0 {
			s.config.OperationTimeout = d
		}
	}
}

// WithProfileTTL устанавливает время жизни профиля в кэше.
func WithProfileTTL(d time.Duration) Option {
	return func(s *EnrichmentService) {
		s.config.ProfileTTL = d
	}
}

// WithProfileCache позволяет разделять кэш профилей между сервисами.
func WithProfileCache(c *cache.CacheStore[domain.Profile]) Option {
	return func(s *EnrichmentService) {
		if c != nil {
			s.profiles = c
		}
	}
}

// WithLogger устанавливает логгер для сервиса.
func WithLogger(l *slog.Logger) Option {
	return func(s *EnrichmentService) {
		if l != nil {
			s.log = l
		}
	}
}

// EnrichmentService дополняет строку из канала профилем автора и снимком сообщения, на которое ответили.
// Ошибки поиска не прерывают обработку: вместо недостающих данных подставляются запасные значения.
type EnrichmentService struct {
	store    ports.MessageStore
	users    ports.UserDirectory
	config   Config
	profiles *cache.CacheStore[domain.Profile]
	log      *slog.Logger

	mu        sync.RWMutex
	lastKnown map[string]string
}

// NewEnrichmentService создает новый EnrichmentService с конфигурацией по умолчанию,
// которую можно переопределить опциями.
func NewEnrichmentService(store ports.MessageStore, users ports.UserDirectory, opts ...Option) *EnrichmentService {
	s := &EnrichmentService{
		store: store,
		users: users,
		config: Config{
			OperationTimeout: 5 * time.Second,
			ProfileTTL:       5 * time.Minute,
		},
		profiles:  cache.NewCacheStore[domain.Profile](),
		log:       slog.Default(),
		lastKnown: make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enrich выполняет поиск автора и сообщения-цели параллельно и собирает итоговое сообщение.
func (s *EnrichmentService) Enrich(ctx context.Context, row domain.RawMessage) domain.Message {
	msg := row.Message()

	var (
		wg       sync.WaitGroup
		profile  domain.Profile
		found    bool
		snapshot *domain.ReplySnapshot
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		profile, found = s.lookupProfile(ctx, row.AuthorID)
	}()

	if row.RepliedToID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot = s.lookupReply(ctx, row.RepliedToID)
		}()
	}

	wg.Wait()

	if found {
		msg.AuthorUsername = profile.Username
		msg.AuthorAvatarURL = profile.AvatarURL
	} else {
		msg.AuthorUsername = s.fallbackUsername(row)
	}
	msg.RepliedTo = snapshot

	return msg
}

// Remember сохраняет имя пользователя как последнее известное, например для локального автора.
func (s *EnrichmentService) Remember(userID, username string) {
	if userID == "" || username == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnown[userID] = username
}

func (s *EnrichmentService) lookupProfile(ctx context.Context, userID string) (domain.Profile, bool) {
	if userID == "" || s.users == nil {
		return domain.Profile{}, false
	}
	if item, ok := s.profiles.Get(userID); ok {
		return item.Data, true
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	profile, err := s.users.Profile(opCtx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to resolve author profile, using fallback", "user_id", userID, "error", err)
		return domain.Profile{}, false
	}
	if profile.Username == "" {
		return domain.Profile{}, false
	}

	s.profiles.Put(userID, profile, s.config.ProfileTTL)
	s.Remember(userID, profile.Username)
	return profile, true
}

func (s *EnrichmentService) lookupReply(ctx context.Context, id domain.MessageID) *domain.ReplySnapshot {
	if s.store == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	target, err := s.store.Get(opCtx, id)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to resolve reply target", "replied_to_id", id, "error", err)
		return nil
	}

	snap := target.Snapshot()
	if snap.AuthorUsername == "" {
		if p, ok := s.lookupProfile(ctx, target.AuthorID); ok {
			snap.AuthorUsername = p.Username
		} else {
			snap.AuthorUsername = UnknownUsername
		}
	}
	return snap
}

func (s *EnrichmentService) fallbackUsername(row domain.RawMessage) string {
	s.mu.RLock()
	name, ok := s.lastKnown[row.AuthorID]
	s.mu.RUnlock()
	if ok {
		return name
	}
	if row.Username != "" {
		return row.Username
	}
	return UnknownUsername
}
