package store

import (
	"context"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/report"
)

// Store defines the persistence interface for compiled daily artifacts and
// the inbound message log.
type Store interface {
	// Artifacts

	// GetArtifact returns the workbook bytes for (conversationID, day), or
	// nil when no artifact exists yet.
	GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error)
	// LoadArtifact returns the full artifact including its records, or nil
	// when absent.
	LoadArtifact(ctx context.Context, conversationID string, day model.Day) (*model.DailyArtifact, error)
	// UpsertArtifact merges records into the artifact for (conversationID,
	// day), creating it if needed. Concurrent calls for the same key are
	// serialized.
	UpsertArtifact(ctx context.Context, conversationID string, day model.Day, records []model.Record) (*model.DailyArtifact, error)
	// ListArtifactDays returns the days that have an artifact for a
	// conversation, most recent first.
	ListArtifactDays(ctx context.Context, conversationID string) ([]model.Day, error)

	// Message log
	SaveMessage(ctx context.Context, msg model.ChatMessage) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// compile merges incoming into existing and renders the resulting workbook.
func compile(existing, incoming []model.Record) ([]model.Record, []byte, int, error) {
	merged, added := report.Merge(existing, incoming)
	blob, err := report.RenderXLSX(merged)
	if err != nil {
		return nil, nil, 0, err
	}
	return merged, blob, added, nil
}
