package model

import "strings"

// RawRecord is one loosely-typed item returned by the extraction service,
// before validation.
type RawRecord map[string]any

// Record is one extracted field operation for a single day.
//
// Category is the kind of work (e.g. harvesting), Subject the crop it was
// done on. Quantities are hectares, yields are centners.
type Record struct {
	Day         Day      `json:"day"`
	Subdivision string   `json:"subdivision"`
	Category    string   `json:"category"`
	Subject     string   `json:"subject"`
	DailyQty    *float64 `json:"daily_qty"`
	TotalQty    *float64 `json:"total_qty"`
	DailyYield  *float64 `json:"daily_yield"`
	TotalYield  *float64 `json:"total_yield"`
}

// MissingFields lists the required fields that are empty.
func (r Record) MissingFields() []string {
	var missing []string
	if r.Day.IsZero() {
		missing = append(missing, "day")
	}
	if strings.TrimSpace(r.Subdivision) == "" {
		missing = append(missing, "subdivision")
	}
	if strings.TrimSpace(r.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(r.Subject) == "" {
		missing = append(missing, "subject")
	}
	return missing
}

// Equal reports whether two records carry identical values.
func (r Record) Equal(o Record) bool {
	return r.Day == o.Day &&
		r.Subdivision == o.Subdivision &&
		r.Category == o.Category &&
		r.Subject == o.Subject &&
		floatPtrEqual(r.DailyQty, o.DailyQty) &&
		floatPtrEqual(r.TotalQty, o.TotalQty) &&
		floatPtrEqual(r.DailyYield, o.DailyYield) &&
		floatPtrEqual(r.TotalYield, o.TotalYield)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
