package delivery

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fieldrelay/internal/model"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error) {
	args := m.Called(ctx, conversationID, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) SendFile(ctx context.Context, conversationID, filename string, data []byte) error {
	return m.Called(ctx, conversationID, filename, data).Error(0)
}

type mockLog struct {
	mock.Mock
}

func (m *mockLog) SaveMessage(ctx context.Context, msg model.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ev model.IngestEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type mockResetter struct {
	mock.Mock
}

func (m *mockResetter) Reset(conversationID string) {
	m.Called(conversationID)
}
