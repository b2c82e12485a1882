// Package report compiles extracted records into the per-day workbook that is
// delivered back to a conversation.
package report

import "github.com/sells-group/fieldrelay/internal/model"

// Merge appends the incoming records to existing, skipping any record equal
// to one already present. Existing rows are never modified or reordered, so
// applying the same batch twice leaves the result unchanged.
func Merge(existing, incoming []model.Record) (merged []model.Record, added int) {
	merged = make([]model.Record, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)

	for _, rec := range incoming {
		if contains(merged, rec) {
			continue
		}
		merged = append(merged, rec)
		added++
	}
	return merged, added
}

func contains(records []model.Record, rec model.Record) bool {
	for _, r := range records {
		if r.Equal(rec) {
			return true
		}
	}
	return false
}
