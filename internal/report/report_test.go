package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldrelay/internal/model"
)

func sampleRecord() model.Record {
	return model.Record{
		Day:         model.Day{Year: 2024, Month: time.October, Date: 27},
		Subdivision: "АОР",
		Category:    "Уборка",
		Subject:     "Свекла сахарная",
		DailyQty:    model.Float(45),
		TotalQty:    model.Float(1569),
		DailyYield:  model.Float(12596.8),
		TotalYield:  model.Float(66606.3),
	}
}

func TestMerge_AppendsNew(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Category = "Пахота"

	merged, added := Merge([]model.Record{a}, []model.Record{b})
	assert.Equal(t, 1, added)
	require.Len(t, merged, 2)
	assert.Equal(t, a, merged[0])
	assert.Equal(t, b, merged[1])
}

func TestMerge_SameBatchTwiceDoesNotDuplicate(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Subject = "Соя товарная"
	batch := []model.Record{a, b}

	once, added := Merge(nil, batch)
	assert.Equal(t, 2, added)

	twice, added := Merge(once, batch)
	assert.Equal(t, 0, added)
	assert.Equal(t, once, twice)
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	existing := make([]model.Record, 1, 4)
	existing[0] = sampleRecord()
	b := sampleRecord()
	b.Subdivision = "Мир"

	merged, _ := Merge(existing, []model.Record{b})
	merged[0].Subdivision = "changed"
	assert.Equal(t, "АОР", existing[0].Subdivision)
}

func TestRenderXLSX_RoundTrip(t *testing.T) {
	a := sampleRecord()
	b := model.Record{
		Day:         model.Day{Year: 2025, Month: time.March, Date: 30},
		Subdivision: "СП Коломейцево",
		Category:    "Сев",
		Subject:     "Подсолнечник товарный",
		DailyQty:    model.Float(57),
	}

	blob, err := RenderXLSX([]model.Record{a, b})
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	rows, err := ReadRows(blob)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "2024-10-27", rows[1][0])

	records, err := DecodeXLSX(blob)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Equal(a), "got %+v", records[0])
	assert.Equal(t, "Подсолнечник товарный", records[1].Subject)
	assert.Nil(t, records[1].TotalQty)
	assert.InDelta(t, 57.0, *records[1].DailyQty, 0.0001)
}

func TestRenderXLSX_Empty(t *testing.T) {
	blob, err := RenderXLSX(nil)
	require.NoError(t, err)

	records, err := DecodeXLSX(blob)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadRows_Garbage(t *testing.T) {
	_, err := ReadRows([]byte("not a workbook"))
	assert.Error(t, err)
}
