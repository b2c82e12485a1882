package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/fieldrelay/internal/model"
)

// ValidationError rejects a single extracted record. Siblings in the same
// batch are unaffected.
type ValidationError struct {
	Index   int
	Missing []string
	Raw     model.RawRecord
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: record %d missing %s", e.Index, strings.Join(e.Missing, ", "))
}
