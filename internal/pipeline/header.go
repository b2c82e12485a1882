package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/vocab"
)

// headerLines is how many leading non-empty lines may carry the report's
// shared date and subdivision.
const headerLines = 3

var headerDatePattern = regexp.MustCompile(`(?:^|[^\d.])(\d{1,2}\.\d{1,2}(?:\.\d{4}|\.\d{2})?)(?:г\.?)?(?:$|[^\d])`)

// header is the context stated once at the top of a report.
type header struct {
	Day         model.Day
	Subdivision string
}

// parseHeader looks for a date and a known subdivision in the leading lines
// of text. Scanning stops at the first blank line after content.
func parseHeader(text string, subdivisions *vocab.List, ref time.Time) header {
	var h header
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if seen > 0 {
				break
			}
			continue
		}
		seen++
		if seen > headerLines {
			break
		}

		if h.Day.IsZero() {
			if m := headerDatePattern.FindStringSubmatch(line); m != nil {
				if d, ok := parseDay(m[1], ref); ok {
					h.Day = d
				}
			}
		}
		if h.Subdivision == "" {
			if name, ok := subdivisions.Find(line); ok {
				h.Subdivision = name
			}
		}
	}
	return h
}

// inherit fills a record's missing day and subdivision from the header, and
// the day from fallback when the header has none. Values the record already
// carries win.
func inherit(rec *model.Record, h header, fallback model.Day) {
	if rec.Day.IsZero() {
		rec.Day = h.Day
	}
	if rec.Day.IsZero() {
		rec.Day = fallback
	}
	if strings.TrimSpace(rec.Subdivision) == "" {
		rec.Subdivision = h.Subdivision
	}
}
