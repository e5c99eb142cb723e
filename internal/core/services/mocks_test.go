package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"voxio-chat/internal/domain"
)

// mockUsers мокает ports.UserDirectory.
type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.Profile), args.Error(1)
}

// mockStore — это мок для интерфейса ports.MessageStore.
// Для обогащения нужен только точечный поиск.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, msg domain.Message) (domain.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error {
	return m.Called(ctx, id, patch).Error(0)
}

func (m *mockStore) Delete(ctx context.Context, id domain.MessageID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, roomID, limit)
	if res := args.Get(0); res != nil {
		return res.([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Message), args.Error(1)
}
