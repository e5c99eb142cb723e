package reconciler

import (
	"context"
	"sync"

	"voxio-chat/internal/domain"
)

// MockMessageStore - мок-реализация ports.MessageStore для тестирования
type MockMessageStore struct {
	InsertFunc     func(ctx context.Context, msg domain.Message) (domain.Message, error)
	UpdateFunc     func(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error
	DeleteFunc     func(ctx context.Context, id domain.MessageID) error
	ListByRoomFunc func(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	GetFunc        func(ctx context.Context, id domain.MessageID) (domain.Message, error)
}

func (m *MockMessageStore) Insert(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, msg)
	}
	return domain.Message{}, nil
}

func (m *MockMessageStore) Update(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return nil
}

func (m *MockMessageStore) Delete(ctx context.Context, id domain.MessageID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockMessageStore) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if m.ListByRoomFunc != nil {
		return m.ListByRoomFunc(ctx, roomID, limit)
	}
	return nil, nil
}

func (m *MockMessageStore) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return domain.Message{}, domain.ErrNotFound
}

// MockAttachmentStore - мок-реализация ports.AttachmentStore
type MockAttachmentStore struct {
	UploadFunc func(ctx context.Context, userID string, file domain.File) (string, error)
	removed    []string
}

func (m *MockAttachmentStore) Upload(ctx context.Context, userID string, file domain.File) (string, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, userID, file)
	}
	return "https://cdn.example/" + userID + "/" + file.Name, nil
}

func (m *MockAttachmentStore) Remove(ctx context.Context, publicURL string) error {
	m.removed = append(m.removed, publicURL)
	return nil
}

// recordingNotifier запоминает уведомления об ошибках
type recordingNotifier struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (n *recordingNotifier) NotifyFailure(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) Ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}
