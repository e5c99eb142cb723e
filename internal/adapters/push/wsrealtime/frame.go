package wsrealtime

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// События протокола каналов.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventBroadcast = "broadcast"

	phoenixTopic = "phoenix"
	// Таблица, изменения которой слушает подписка.
	tableMessages = "messages"
)

// frame — кадр канала.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

// Topic возвращает имя канала комнаты.
func Topic(roomID string) string {
	return "realtime:room_messages:" + roomID
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig  `json:"broadcast"`
	Presence        presenceConfig   `json:"presence"`
	PostgresChanges []changeListener `json:"postgres_changes"`
}

type broadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type changeListener struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

func newJoinPayload(roomID, token string) joinPayload {
	return joinPayload{
		Config: joinConfig{
			PostgresChanges: []changeListener{{
				Event:  "*",
				Schema: "public",
				Table:  tableMessages,
				Filter: "room_id=eq." + roomID,
			}},
		},
		AccessToken: token,
	}
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Type      domain.ChangeKind `json:"type"`
		Table     string            `json:"table"`
		Record    json.RawMessage   `json:"record"`
		OldRecord json.RawMessage   `json:"old_record"`
	} `json:"data"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encodeFrame(f frame) ([]byte, error) {
	if len(f.Payload) == 0 {
		f.Payload = json.RawMessage("{}")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, xerrors.Errorf("encode %s frame: %w", f.Event, err)
	}
	return data, nil
}

func newFrame(topic, event string, payload any, ref string) (frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return frame{}, xerrors.Errorf("encode %s payload: %w", event, err)
	}
	f := frame{Topic: topic, Event: event, Payload: data}
	if ref != "" {
		f.Ref = &ref
	}
	return f, nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, xerrors.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return frame{}, xerrors.New("frame without event")
	}
	return f, nil
}

// decodeChange превращает полезную нагрузку postgres_changes в изменение строки.
func decodeChange(parser ports.RowParser, payload json.RawMessage) (domain.RowChange, error) {
	var p changesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.RowChange{}, xerrors.Errorf("decode changes payload: %w", err)
	}

	switch p.Data.Type {
	case domain.ChangeInsert, domain.ChangeUpdate:
		row, err := parser.Parse(p.Data.Record)
		if err != nil {
			return domain.RowChange{}, xerrors.Errorf("parse %s record: %w", p.Data.Type, err)
		}
		return domain.RowChange{Kind: p.Data.Type, Row: row}, nil
	case domain.ChangeDelete:
		old, err := parser.Parse(p.Data.OldRecord)
		if err != nil {
			return domain.RowChange{}, xerrors.Errorf("parse deleted record: %w", err)
		}
		return domain.RowChange{Kind: domain.ChangeDelete, OldID: old.ID}, nil
	default:
		return domain.RowChange{}, xerrors.Errorf("unknown change type %q", p.Data.Type)
	}
}

func decodeBroadcast(payload json.RawMessage) (domain.Broadcast, error) {
	var p broadcastPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Broadcast{}, xerrors.Errorf("decode broadcast payload: %w", err)
	}
	if p.Event == "" {
		return domain.Broadcast{}, xerrors.New("broadcast without event")
	}
	return domain.Broadcast{Event: p.Event, Payload: p.Payload}, nil
}
