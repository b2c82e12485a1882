package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/fieldrelay/internal/model"
)

// fieldAliases lists the keys accepted for each record field, in priority
// order. The second spelling is the one the extraction prompt asks for.
var fieldAliases = map[string][]string{
	"day":         {"day", "date"},
	"subdivision": {"subdivision"},
	"category":    {"category", "operation"},
	"subject":     {"subject", "crop"},
	"daily_qty":   {"daily_qty", "daily_area"},
	"total_qty":   {"total_qty", "total_area"},
	"daily_yield": {"daily_yield"},
	"total_yield": {"total_yield"},
}

func lookup(raw model.RawRecord, field string) any {
	for _, key := range fieldAliases[field] {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// coerce converts a raw record into a typed one. Unparseable values become
// empty so inheritance and validation can deal with them.
func coerce(raw model.RawRecord, ref time.Time) model.Record {
	rec := model.Record{
		Subdivision: asString(lookup(raw, "subdivision")),
		Category:    asString(lookup(raw, "category")),
		Subject:     asString(lookup(raw, "subject")),
		DailyQty:    asNumber(lookup(raw, "daily_qty")),
		TotalQty:    asNumber(lookup(raw, "total_qty")),
		DailyYield:  asNumber(lookup(raw, "daily_yield")),
		TotalYield:  asNumber(lookup(raw, "total_yield")),
	}
	if s := asString(lookup(raw, "day")); s != "" {
		if d, ok := parseDay(s, ref); ok {
			rec.Day = d
		}
	}
	return rec
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// asNumber accepts JSON numbers and numeric strings with comma decimals or
// spaced thousands ("279,9", "1 259 680").
func asNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return model.Float(t)
	case int:
		return model.Float(float64(t))
	case int64:
		return model.Float(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return model.Float(f)
		}
	case string:
		s := strings.TrimSpace(t)
		s = strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(s)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return model.Float(f)
		}
	}
	return nil
}

var dayPattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})(?:\.(\d{2}|\d{4}))?$`)

// parseDay understands DD.MM, DD.MM.YY, DD.MM.YYYY and YYYY-MM-DD, with an
// optional trailing "г." year marker. A missing year is taken from ref; if
// that puts the day more than half a year after ref, the previous year is
// used instead (a late-December report read in January).
func parseDay(s string, ref time.Time) (model.Day, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, "г")
	s = strings.TrimSpace(strings.TrimSuffix(s, "."))

	if d, err := model.ParseDay(s); err == nil {
		return d, true
	}

	m := dayPattern.FindStringSubmatch(s)
	if m == nil {
		return model.Day{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])

	year := ref.Year()
	yearGiven := m[3] != ""
	if yearGiven {
		year, _ = strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}

	d, ok := makeDay(year, month, day)
	if !ok {
		return model.Day{}, false
	}
	if !yearGiven && !ref.IsZero() && d.Time().Sub(model.DayOf(ref).Time()) > 183*24*time.Hour {
		return makeDay(year-1, month, day)
	}
	return d, true
}

func makeDay(year, month, day int) (model.Day, bool) {
	if month < 1 || month > 12 || day < 1 {
		return model.Day{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return model.Day{}, false
	}
	return model.DayOf(t), true
}
