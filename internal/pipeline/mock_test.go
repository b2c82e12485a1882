package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fieldrelay/internal/model"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, text string) ([]model.RawRecord, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawRecord), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertArtifact(ctx context.Context, conversationID string, day model.Day, records []model.Record) (*model.DailyArtifact, error) {
	args := m.Called(ctx, conversationID, day, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DailyArtifact), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, folderID, filename string, data []byte, overwrite bool) (string, error) {
	args := m.Called(ctx, folderID, filename, data, overwrite)
	return args.String(0), args.Error(1)
}

func (m *mockUploader) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	args := m.Called(ctx, parentID, name)
	return args.String(0), args.Error(1)
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, art *model.DailyArtifact) error {
	return m.Called(ctx, art).Error(0)
}
