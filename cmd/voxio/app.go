package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voxio-chat/internal/adapters/previewclient"
	"voxio-chat/internal/adapters/source"
	"voxio-chat/internal/cache"
	"voxio-chat/internal/chat"
	"voxio-chat/internal/core/tokenizer"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/pkg/term"
	"voxio-chat/internal/ports"
)

var errNoRoom = errors.New("no room is open, use /room <id>")

// app связывает терминал с сессией чата и хранит последний снимок ленты для вывода.
type app struct {
	term      *term.Terminal
	log       *slog.Logger
	session   *chat.Session
	renderer  ports.Renderer
	previews  ports.PreviewFetcher
	cache     *cache.CacheStore[domain.Preview]
	maxUpload int64

	stopPreviews func()

	ctx context.Context

	mu           sync.Mutex
	messages     []domain.Message
	typists      []string
	requested    map[string]struct{}
	lastNotified error

	renderMu sync.Mutex
}

func newApp(ctx context.Context, t *term.Terminal, logger *slog.Logger) *app {
	return &app{
		term:      t,
		log:       logger.With("component", "terminal"),
		cache:     cache.NewCacheStore[domain.Preview](),
		requested: make(map[string]struct{}),
		ctx:       ctx,
	}
}

// withPreviews подключает сервисы предпросмотров, разделяя с ними кэш.
// Адреса перечисляются через запятую.
func (a *app) withPreviews(urls string, logger *slog.Logger) error {
	var endpoints []*previewclient.Client
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			endpoints = append(endpoints, previewclient.NewClient(u,
				previewclient.WithCache(a.cache, previewclient.DefaultTTL),
				previewclient.WithLogger(logger),
			))
		}
	}
	router, err := previewclient.NewRouter(endpoints, previewclient.WithRouterLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create preview router: %w", err)
	}
	a.previews = router
	a.stopPreviews = router.Stop
	return nil
}

// close освобождает фоновые ресурсы терминального клиента.
func (a *app) close() {
	if a.stopPreviews != nil {
		a.stopPreviews()
	}
}

// NotifyFailure выводит сбой оптимистичной операции пользователю.
func (a *app) NotifyFailure(op string, err error) {
	a.mu.Lock()
	a.lastNotified = err
	a.mu.Unlock()
	a.printf("! %s failed: %v\n", op, err)
}

// onMessages вызывается под блокировкой ленты, поэтому только сохраняет снимок.
func (a *app) onMessages(messages []domain.Message) {
	a.mu.Lock()
	a.messages = messages
	pending := a.pendingPreviewsLocked(messages)
	a.mu.Unlock()

	a.render()
	for _, u := range pending {
		go a.fetchPreview(u)
	}
}

func (a *app) onTyping(typists []string) {
	a.mu.Lock()
	a.typists = typists
	a.mu.Unlock()
	a.render()
}

// onStatus может вызываться во время открытия комнаты, поэтому не обращается к сессии.
func (a *app) onStatus(status domain.SubscriptionStatus) {
	switch status {
	case domain.StatusSubscribed:
		a.printf("* connected\n")
	case domain.StatusError, domain.StatusClosed:
		a.printf("* connection lost (%s), use /reconnect\n", status)
	}
}

// cachedPreview отдает только уже полученные предпросмотры и не ходит в сеть.
func (a *app) cachedPreview(url string) (domain.Preview, bool) {
	item, ok := a.cache.Get(url)
	if !ok {
		return domain.Preview{}, false
	}
	return item.Data, true
}

func (a *app) pendingPreviewsLocked(messages []domain.Message) []string {
	if a.previews == nil {
		return nil
	}
	var pending []string
	for _, m := range messages {
		for _, u := range tokenizer.URLs(tokenizer.Tokenize(m.Content)) {
			if _, seen := a.requested[u]; seen {
				continue
			}
			a.requested[u] = struct{}{}
			pending = append(pending, u)
		}
	}
	return pending
}

func (a *app) fetchPreview(url string) {
	if _, err := a.previews.Fetch(a.ctx, url); err != nil {
		a.log.Debug("preview unavailable", "url", url, "error", err)
		return
	}
	a.render()
}

func (a *app) render() {
	a.mu.Lock()
	messages, typists := a.messages, a.typists
	a.mu.Unlock()

	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	if a.renderer == nil {
		return
	}
	if err := a.renderer.Render(messages, typists); err != nil {
		a.log.Warn("failed to render feed", "error", err)
	}
}

func (a *app) printf(format string, args ...any) {
	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	_, _ = fmt.Fprintf(a.term.Out(), format, args...)
}

// loop читает команды до /quit, конца ввода или отмены контекста.
func (a *app) loop(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := a.term.ReadLine(ctx, "")
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("Type /help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, term.ErrClosed) {
				return nil
			}
			return err
		case line := <-lines:
			cmd, err := parseCommand(line)
			if err != nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				a.printf("! %v\n", err)
				continue
			}
			if cmd.kind == cmdQuit {
				return nil
			}
			if err := a.dispatch(ctx, cmd); err != nil && !a.alreadyNotified(err) {
				a.printf("! %v\n", err)
			}
		}
	}
}

func (a *app) alreadyNotified(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastNotified != nil && errors.Is(err, a.lastNotified)
}

func (a *app) snapshot() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messages
}

// dispatch выполняет разобранную команду в открытой комнате.
func (a *app) dispatch(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdHelp:
		a.printf("%s\n", helpText)
		return nil
	case cmdRoom:
		return a.session.SwitchRoom(ctx, cmd.arg)
	case cmdReconnect:
		return a.session.Reconnect(ctx)
	case cmdTyping:
		if d := a.session.Debouncer(); d != nil {
			d.Keystroke()
		}
		return nil
	}

	rec := a.session.Reconciler()
	if rec == nil {
		return errNoRoom
	}
	if d := a.session.Debouncer(); d != nil && (cmd.kind == cmdSend || cmd.kind == cmdReply || cmd.kind == cmdAttach) {
		d.Flush()
	}

	switch cmd.kind {
	case cmdSend:
		_, err := rec.SendText(ctx, cmd.text, "")
		return err
	case cmdAttach:
		file, err := source.NewFileSource(cmd.arg, a.maxUpload).Fetch()
		if err != nil {
			return err
		}
		_, err = rec.SendAttachment(ctx, file, cmd.text, "")
		return err
	}

	id, err := resolveID(a.snapshot(), cmd.id)
	if err != nil {
		return err
	}
	switch cmd.kind {
	case cmdReply:
		_, err = rec.SendText(ctx, cmd.text, id)
	case cmdEdit:
		err = rec.EditText(ctx, id, cmd.text)
	case cmdDelete:
		err = rec.DeleteMessage(ctx, id)
	case cmdReact:
		err = rec.ToggleReaction(ctx, id, cmd.arg, a.session.Author().ID)
	default:
		err = fmt.Errorf("%w: unsupported command %s", errUsage, cmd.kind)
	}
	return err
}
