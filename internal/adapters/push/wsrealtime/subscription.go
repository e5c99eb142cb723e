package wsrealtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// ErrClosed возвращается при отправке через закрытую подписку.
var ErrClosed = errors.New("subscription closed")

type subscription struct {
	conn      *websocket.Conn
	topic     string
	parser    ports.RowParser
	heartbeat time.Duration
	log       *slog.Logger

	writeMu sync.Mutex
	ref     atomic.Uint64
	joinRef string

	events    chan domain.ChannelEvent
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(conn *websocket.Conn, topic string, parser ports.RowParser, heartbeat time.Duration, log *slog.Logger) *subscription {
	return &subscription{
		conn:      conn,
		topic:     topic,
		parser:    parser,
		heartbeat: heartbeat,
		log:       log,
		events:    make(chan domain.ChannelEvent, DefaultBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *subscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *subscription) join(roomID, token string) error {
	s.joinRef = s.nextRef()
	f, err := newFrame(s.topic, eventJoin, newJoinPayload(roomID, token), s.joinRef)
	if err != nil {
		return err
	}
	f.JoinRef = &s.joinRef
	return s.write(f)
}

func (s *subscription) start() {
	go s.readLoop()
	go s.heartbeatLoop()
}

func (s *subscription) write(f frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscription) Events() <-chan domain.ChannelEvent {
	return s.events
}

// Send отправляет широковещательное событие комнате.
func (s *subscription) Send(ctx context.Context, bc domain.Broadcast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closing:
		return ErrClosed
	case <-s.done:
		return ErrClosed
	default:
	}
	payload := broadcastPayload{Type: eventBroadcast, Event: bc.Event, Payload: bc.Payload}
	f, err := newFrame(s.topic, eventBroadcast, payload, s.nextRef())
	if err != nil {
		return err
	}
	f.JoinRef = &s.joinRef
	return s.write(f)
}

// Close отправляет phx_leave, закрывает соединение и ждет завершения чтения.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		if f, ferr := newFrame(s.topic, eventLeave, struct{}{}, s.nextRef()); ferr == nil {
			_ = s.write(f)
		}
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	return err
}

// readDeadline отводит на тишину два периода heartbeat плюс таймаут записи.
func (s *subscription) readDeadline() time.Time {
	return time.Now().Add(2*s.heartbeat + writeTimeout)
}

// readLoop единственный пишет в s.events и закрывает канал при выходе.
func (s *subscription) readLoop() {
	defer close(s.done)
	defer close(s.events)

	_ = s.conn.SetReadDeadline(s.readDeadline())
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				s.emit(domain.ChannelEvent{Status: domain.StatusClosed})
			default:
				s.log.Warn("realtime connection lost", "error", err)
				s.emit(domain.ChannelEvent{Status: domain.StatusError})
			}
			return
		}
		_ = s.conn.SetReadDeadline(s.readDeadline())

		f, err := decodeFrame(data)
		if err != nil {
			s.log.Warn("skipping malformed frame", "error", err)
			continue
		}
		ev, ok := s.translate(f)
		if !ok {
			continue
		}
		if !s.emit(ev) {
			return
		}
	}
}

// emit доставляет событие, пока подписка не закрыта.
func (s *subscription) emit(ev domain.ChannelEvent) bool {
	if ev.Status == domain.StatusClosed {
		select {
		case s.events <- ev:
		default:
		}
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closing:
		return false
	}
}

func (s *subscription) translate(f frame) (domain.ChannelEvent, bool) {
	if f.Topic != s.topic {
		return domain.ChannelEvent{}, false
	}
	switch f.Event {
	case eventReply:
		if f.Ref == nil || *f.Ref != s.joinRef {
			return domain.ChannelEvent{}, false
		}
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			s.log.Warn("malformed join reply", "error", err)
			return domain.ChannelEvent{Status: domain.StatusError}, true
		}
		status := statusOf(reply)
		if status == domain.StatusError {
			s.log.Warn("join rejected", "response", string(reply.Response))
		}
		return domain.ChannelEvent{Status: status}, true
	case eventChanges:
		ch, err := decodeChange(s.parser, f.Payload)
		if err != nil {
			s.log.Warn("skipping row change", "error", err)
			return domain.ChannelEvent{}, false
		}
		return domain.ChannelEvent{Change: &ch}, true
	case eventBroadcast:
		bc, err := decodeBroadcast(f.Payload)
		if err != nil {
			s.log.Warn("skipping broadcast", "error", err)
			return domain.ChannelEvent{}, false
		}
		return domain.ChannelEvent{Broadcast: &bc}, true
	case eventError:
		return domain.ChannelEvent{Status: domain.StatusError}, true
	case eventClose:
		return domain.ChannelEvent{Status: domain.StatusClosed}, true
	default:
		return domain.ChannelEvent{}, false
	}
}

func (s *subscription) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-s.done:
			return
		case <-ticker.C:
			f, err := newFrame(phoenixTopic, eventHeartbeat, struct{}{}, s.nextRef())
			if err != nil {
				continue
			}
			if err := s.write(f); err != nil {
				s.log.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}
