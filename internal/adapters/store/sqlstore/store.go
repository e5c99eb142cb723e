// Package sqlstore реализует хранилище сообщений и каталог пользователей поверх gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"voxio-chat/internal/domain"
)

// ErrUserNotFound возвращается, если профиль пользователя отсутствует.
var ErrUserNotFound = errors.New("user not found")

// ChangeSink получает каждое зафиксированное изменение строки сообщения.
type ChangeSink func(roomID string, ch domain.RowChange)

// Option настраивает Store.
type Option func(*Store)

// WithChangeSink подключает получателя изменений строк.
func WithChangeSink(sink ChangeSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock подменяет источник времени для отметки created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store хранит сообщения и профили в SQL базе.
type Store struct {
	db   *gorm.DB
	sink ChangeSink
	log  *slog.Logger
	now  func() time.Time
}

// Open открывает sqlite базу по пути path и подготавливает схему.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return New(db, opts...)
}

// New оборачивает уже открытое подключение gorm и выполняет миграцию схемы.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:  db,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "sqlstore")

	if err := db.AutoMigrate(&userEntity{}, &messageEntity{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Close закрывает подключение к базе.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert сохраняет сообщение. Идентификатор и время создания назначает хранилище.
func (s *Store) Insert(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return domain.Message{}, err
	}
	e := messageEntity{
		ClientID:      msg.ClientID,
		RoomID:        msg.RoomID,
		UserID:        msg.AuthorID,
		Content:       msg.Content,
		AttachmentURL: msg.AttachmentURL,
		Reactions:     reactions,
		CreatedAt:     s.now().UTC(),
	}
	if msg.RepliedToID != "" {
		ref, err := parseID(msg.RepliedToID)
		if err != nil {
			return domain.Message{}, err
		}
		e.RepliedToID = &ref
	}

	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	raw, err := e.raw()
	if err != nil {
		return domain.Message{}, err
	}
	s.emit(e.RoomID, domain.RowChange{Kind: domain.ChangeInsert, Row: raw})

	out, err := s.hydrate(ctx, []messageEntity{e})
	if err != nil {
		return domain.Message{}, err
	}
	s.log.DebugContext(ctx, "message inserted", "id", e.ID, "room_id", e.RoomID)
	return out[0], nil
}

// Update применяет частичное изменение к строке.
func (s *Store) Update(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}

	var e messageEntity
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&e, key).Error; err != nil {
			return err
		}
		if patch.Content != nil {
			e.Content = *patch.Content
			e.IsEdited = true
		}
		if patch.ReplaceReactions {
			reactions, err := encodeReactions(patch.Reactions)
			if err != nil {
				return err
			}
			e.Reactions = reactions
		}
		return tx.Save(&e).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id, err)
	}

	raw, err := e.raw()
	if err != nil {
		return err
	}
	s.emit(e.RoomID, domain.RowChange{Kind: domain.ChangeUpdate, Row: raw})
	return nil
}

// Delete удаляет строку.
func (s *Store) Delete(ctx context.Context, id domain.MessageID) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}

	var e messageEntity
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&e, key).Error; err != nil {
			return err
		}
		return tx.Delete(&messageEntity{}, key).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("delete %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}

	s.emit(e.RoomID, domain.RowChange{Kind: domain.ChangeDelete, OldID: id})
	return nil
}

// ListByRoom возвращает не более limit последних сообщений комнаты по возрастанию времени.
// Неположительный limit снимает ограничение.
func (s *Store) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages of room %s: %w", roomID, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return s.hydrate(ctx, rows)
}

// Get выполняет точечный поиск сообщения.
func (s *Store) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	key, err := parseID(id)
	if err != nil {
		return domain.Message{}, err
	}
	var e messageEntity
	err = s.db.WithContext(ctx).First(&e, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	out, err := s.hydrate(ctx, []messageEntity{e})
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

// Profile реализует ports.UserDirectory.
func (s *Store) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	var u userEntity
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return domain.Profile{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}, nil
}

// UpsertProfile создает или обновляет профиль пользователя.
func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	u := userEntity{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "avatar_url"}),
	}).Create(&u).Error
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// hydrate дополняет строки профилями авторов и снимками ответов.
func (s *Store) hydrate(ctx context.Context, rows []messageEntity) ([]domain.Message, error) {
	if len(rows) == 0 {
		return []domain.Message{}, nil
	}

	userIDs := make([]string, 0, len(rows))
	var replyIDs []uint64
	for _, r := range rows {
		userIDs = append(userIDs, r.UserID)
		if r.RepliedToID != nil {
			replyIDs = append(replyIDs, *r.RepliedToID)
		}
	}

	var users []userEntity
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load authors: %w", err)
	}
	byUser := make(map[string]userEntity, len(users))
	for _, u := range users {
		byUser[u.ID] = u
	}

	replies := make(map[uint64]messageEntity)
	if len(replyIDs) > 0 {
		var parents []messageEntity
		if err := s.db.WithContext(ctx).Where("id IN ?", replyIDs).Find(&parents).Error; err != nil {
			return nil, fmt.Errorf("failed to load replied messages: %w", err)
		}
		for _, p := range parents {
			replies[p.ID] = p
			if _, ok := byUser[p.UserID]; !ok {
				var u userEntity
				if err := s.db.WithContext(ctx).First(&u, "id = ?", p.UserID).Error; err == nil {
					byUser[u.ID] = u
				}
			}
		}
	}

	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		raw, err := r.raw()
		if err != nil {
			return nil, err
		}
		msg := raw.Message()
		if u, ok := byUser[r.UserID]; ok {
			msg.AuthorUsername = u.Username
			msg.AuthorAvatarURL = u.AvatarURL
		}
		if r.RepliedToID != nil {
			if p, ok := replies[*r.RepliedToID]; ok {
				msg.RepliedTo = &domain.ReplySnapshot{
					AuthorUsername: byUser[p.UserID].Username,
					Content:        p.Content,
					AttachmentURL:  p.AttachmentURL,
				}
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) emit(roomID string, ch domain.RowChange) {
	if s.sink == nil {
		return
	}
	s.sink(roomID, ch)
}

func parseID(id domain.MessageID) (uint64, error) {
	if id.IsProvisional() {
		return 0, fmt.Errorf("%s: %w", id, domain.ErrProvisional)
	}
	key, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, domain.ErrNotFound)
	}
	return key, nil
}
