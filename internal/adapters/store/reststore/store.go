// Package reststore реализует хранилище сообщений и каталог пользователей
// поверх REST API базы данных платформы (PostgREST).
package reststore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voxio-chat/internal/adapters/parser"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

const (
	messagesTable = "messages"
	usersTable    = "users"
	userColumns   = "id,username,avatar_url"
)

// Option настраивает Store.
type Option func(*Store)

// WithHTTPClient подменяет HTTP клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithSessionProvider задает источник токена пользователя для заголовка Authorization.
func WithSessionProvider(p ports.SessionProvider) Option {
	return func(s *Store) {
		s.session = p
	}
}

// WithParser подменяет разбор строк.
func WithParser(p ports.RowParser) Option {
	return func(s *Store) {
		if p != nil {
			s.parser = p
		}
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

// Store обращается к таблицам messages и users платформы.
type Store struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	session    ports.SessionProvider
	parser     ports.RowParser
	log        *slog.Logger
}

var (
	_ ports.MessageStore  = (*Store)(nil)
	_ ports.UserDirectory = (*Store)(nil)
)

// New создает новый экземпляр Store.
func New(baseURL, apiKey string, opts ...Option) *Store {
	s := &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		parser: parser.NewJsonParser(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "reststore")
	return s
}

// insertRow описывает тело вставки. Служебные поля заполняет база.
type insertRow struct {
	RoomID        string            `json:"room_id"`
	UserID        string            `json:"user_id"`
	Content       string            `json:"content"`
	AttachmentURL *string           `json:"attachment_url"`
	RepliedToID   any               `json:"replied_to_id"`
	ClientID      string            `json:"client_id,omitempty"`
	Reactions     []domain.Reaction `json:"reactions"`
}

// Insert сохраняет сообщение и возвращает строку, присвоенную базой.
func (s *Store) Insert(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	if msg.RepliedToID.IsProvisional() {
		return domain.Message{}, domain.ErrProvisional
	}

	row := insertRow{
		RoomID:    msg.RoomID,
		UserID:    msg.AuthorID,
		Content:   msg.Content,
		ClientID:  msg.ClientID,
		Reactions: []domain.Reaction{},
	}
	if msg.AttachmentURL != "" {
		row.AttachmentURL = &msg.AttachmentURL
	}
	if msg.RepliedToID != "" {
		row.RepliedToID = idValue(msg.RepliedToID)
	}

	rows, err := s.mutate(ctx, http.MethodPost, nil, row)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	if len(rows) == 0 {
		return domain.Message{}, fmt.Errorf("failed to insert message: empty representation")
	}

	out, err := s.hydrate(ctx, rows)
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

// Update применяет частичное изменение к строке.
func (s *Store) Update(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error {
	body := map[string]any{}
	if patch.Content != nil {
		body["content"] = *patch.Content
		body["is_edited"] = true
	}
	if patch.ReplaceReactions {
		reactions := domain.NormalizeReactions(patch.Reactions)
		if reactions == nil {
			reactions = []domain.Reaction{}
		}
		body["reactions"] = reactions
	}
	if len(body) == 0 {
		return nil
	}

	rows, err := s.mutate(ctx, http.MethodPatch, byID(id), body)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete удаляет строку.
func (s *Store) Delete(ctx context.Context, id domain.MessageID) error {
	rows, err := s.mutate(ctx, http.MethodDelete, byID(id), nil)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByRoom возвращает последние limit сообщений комнаты по возрастанию времени.
func (s *Store) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("room_id", "eq."+roomID)
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw []json.RawMessage
	if err := s.get(ctx, messagesTable, q, &raw); err != nil {
		return nil, fmt.Errorf("failed to list messages of room %s: %w", roomID, err)
	}
	rows, err := s.parseRows(raw)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return s.hydrate(ctx, rows)
}

// Get выполняет точечный поиск сообщения.
func (s *Store) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	var raw []json.RawMessage
	if err := s.get(ctx, messagesTable, byID(id), &raw); err != nil {
		return domain.Message{}, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if len(raw) == 0 {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	rows, err := s.parseRows(raw)
	if err != nil {
		return domain.Message{}, err
	}
	out, err := s.hydrate(ctx, rows)
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

// Profile возвращает профиль пользователя.
func (s *Store) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	profiles, err := s.profiles(ctx, []string{userID})
	if err != nil {
		return domain.Profile{}, err
	}
	p, ok := profiles[userID]
	if !ok {
		return domain.Profile{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return p, nil
}

// hydrate дополняет строки профилями авторов и снимками ответов, обходясь двумя-тремя запросами.
func (s *Store) hydrate(ctx context.Context, rows []domain.RawMessage) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	var replyIDs []string
	for _, r := range rows {
		if r.RepliedToID != "" {
			replyIDs = append(replyIDs, r.RepliedToID.String())
		}
	}

	replies := make(map[domain.MessageID]domain.RawMessage)
	if len(replyIDs) > 0 {
		q := url.Values{}
		q.Set("id", inList(replyIDs))
		var raw []json.RawMessage
		if err := s.get(ctx, messagesTable, q, &raw); err != nil {
			// Снимок ответа необязателен
			s.log.WarnContext(ctx, "failed to load replied messages", "error", err)
		} else if parents, err := s.parseRows(raw); err == nil {
			for _, p := range parents {
				replies[p.ID] = p
			}
		}
	}

	userIDs := make([]string, 0, len(rows)+len(replies))
	for _, r := range rows {
		userIDs = append(userIDs, r.AuthorID)
	}
	for _, p := range replies {
		userIDs = append(userIDs, p.AuthorID)
	}
	profiles, err := s.profiles(ctx, userIDs)
	if err != nil {
		s.log.WarnContext(ctx, "failed to load authors", "error", err)
		profiles = map[string]domain.Profile{}
	}

	for _, r := range rows {
		msg := r.Message()
		if p, ok := profiles[r.AuthorID]; ok {
			msg.AuthorUsername = p.Username
			msg.AuthorAvatarURL = p.AvatarURL
		}
		if parent, ok := replies[r.RepliedToID]; ok {
			msg.RepliedTo = &domain.ReplySnapshot{
				AuthorUsername: profiles[parent.AuthorID].Username,
				Content:        parent.Content,
				AttachmentURL:  parent.AttachmentURL,
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) profiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	out := make(map[string]domain.Profile, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	q := url.Values{}
	q.Set("select", userColumns)
	q.Set("id", inList(unique))
	var users []domain.Profile
	if err := s.get(ctx, usersTable, q, &users); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *Store) parseRows(raw []json.RawMessage) ([]domain.RawMessage, error) {
	rows := make([]domain.RawMessage, 0, len(raw))
	for _, r := range raw {
		row, err := s.parser.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) get(ctx context.Context, table string, q url.Values, out any) error {
	req, err := s.newRequest(ctx, http.MethodGet, table, q, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

// mutate выполняет запрос на изменение и возвращает затронутые строки.
func (s *Store) mutate(ctx context.Context, method string, q url.Values, body any) ([]domain.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := s.newRequest(ctx, method, messagesTable, q, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	var raw []json.RawMessage
	if err := s.do(req, &raw); err != nil {
		return nil, err
	}
	return s.parseRows(raw)
}

func (s *Store) newRequest(ctx context.Context, method, table string, q url.Values, body io.Reader) (*http.Request, error) {
	endpoint := s.baseURL + "/rest/v1/" + table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("apikey", s.apiKey)
	token := s.apiKey
	if s.session != nil {
		t, err := s.session.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}
		if t != "" {
			token = t
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (s *Store) do(req *http.Request, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func byID(id domain.MessageID) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+id.String())
	return q
}

// inList строит фильтр PostgREST вида in.("a","b").
func inList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

// idValue передает числовой идентификатор числом, остальные строкой.
func idValue(id domain.MessageID) any {
	if n, err := strconv.ParseInt(id.String(), 10, 64); err == nil {
		return n
	}
	return id.String()
}
