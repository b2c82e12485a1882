package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/model"
)

// cleanJSON strips markdown code fences and any prose around the outermost
// JSON array or object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	open := strings.IndexAny(text, "[{")
	if open < 0 {
		return strings.TrimSpace(text)
	}
	closer := "]"
	if text[open] == '{' {
		closer = "}"
	}
	if end := strings.LastIndex(text, closer); end > open {
		text = text[open : end+1]
	}
	return strings.TrimSpace(text)
}

// ParseResponse decodes model output into raw records. It accepts a JSON
// list, an object with a single key holding a list, or a single object.
// Non-object list elements are skipped.
func ParseResponse(text string) ([]model.RawRecord, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("extract: empty response")
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, eris.Wrap(err, "extract: decode response")
	}

	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items = unwrapObject(t)
	default:
		return nil, eris.Errorf("extract: unexpected response type %T", v)
	}

	records := make([]model.RawRecord, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			zap.L().Warn("extract: skipping non-object element", zap.Any("element", item))
			continue
		}
		records = append(records, model.RawRecord(obj))
	}
	return records, nil
}

func unwrapObject(obj map[string]any) []any {
	if len(obj) == 1 {
		for key, inner := range obj {
			if list, ok := inner.([]any); ok {
				zap.L().Debug("extract: response wrapped in object", zap.String("key", key))
				return list
			}
		}
	}
	return []any{obj}
}
