package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/fieldrelay/internal/vocab"
)

const instructions = `You extract agricultural field-work operations from short reports posted in a farm's group chat.

Return a JSON list. Each element describes one operation and has exactly these keys:
  "date"         string DD.MM, DD.MM.YY, DD.MM.YYYY or YYYY-MM-DD, or null
  "subdivision"  string, farm subdivision
  "operation"    string, field operation
  "crop"         string, crop name
  "daily_area"   number of hectares for the day, or null
  "total_area"   number of hectares since the operation started, or null
  "daily_yield"  gross harvest for the day (Вал), or null
  "total_yield"  gross harvest since the start, or null

Rules:
1. One object per operation. Reports often list several operations separated by blank lines.
2. A date or subdivision written at the top of the report applies to every operation below it unless a block names its own.
3. "X/Y" after an operation or "По ПУ" means daily X, total Y. A single hectare figure is daily.
4. "Вал X/Y" is daily and total yield. Copy the numbers as written; do not rescale them.
5. Ignore machine counts, rainfall, yield per hectare (Урожайность), quality metrics, percentages, remainders and notes.
6. Use the reference lists below to spell subdivisions, operations and crops. Expand abbreviations to the listed name.
7. Output only JSON, no commentary.`

const examples = `Example report:
Уборка свеклы 27.10.день
Отд10-45/216
По ПУ 45/1569
Вал 1259680/6660630
Урожайность 279,9/308,3

Example output:
[{"date": "27.10", "subdivision": "АОР", "operation": "Уборка", "crop": "Свекла сахарная", "daily_area": 45, "total_area": 1569, "daily_yield": 1259680, "total_yield": 6660630}]

Example report:
30.03.25г.
СП Коломейцево
предпосевная культивация под подсолнечник
  день 30га
  от начала 187га(91%)
сев подсолнечника
  день+ночь 57га
  от начала 157га(77%)

Example output:
[{"date": "30.03.25", "subdivision": "СП Коломейцево", "operation": "Предпосевная культивация", "crop": "Подсолнечник товарный", "daily_area": 30, "total_area": 187, "daily_yield": null, "total_yield": null},
 {"date": "30.03.25", "subdivision": "СП Коломейцево", "operation": "Сев", "crop": "Подсолнечник товарный", "daily_area": 57, "total_area": 157, "daily_yield": null, "total_yield": null}]`

// SystemPrompt builds the static part of the extraction prompt from the
// reference vocabularies.
func SystemPrompt(v *vocab.Vocabulary) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	writeList(&b, "Known subdivisions", v.Subdivisions)
	writeList(&b, "Known operations", v.Operations)
	writeList(&b, "Known crops", v.Crops)
	b.WriteString("\n")
	b.WriteString(examples)
	return b.String()
}

// UserPrompt wraps the report text for the user turn.
func UserPrompt(text string) string {
	return fmt.Sprintf("Report:\n'''\n%s\n'''\n\nJSON list:", strings.TrimSpace(text))
}

func writeList(b *strings.Builder, title string, l *vocab.List) {
	names := l.Names()
	b.WriteString(title)
	b.WriteString(": ")
	if len(names) == 0 {
		b.WriteString("not available")
	} else {
		b.WriteString(strings.Join(names, ", "))
	}
	b.WriteString("\n")
}
