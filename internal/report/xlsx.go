package report

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/fieldrelay/internal/model"
)

// SheetName is the name of the single sheet in a daily workbook.
const SheetName = "Операции"

// Columns is the header row of a daily workbook, in record field order.
var Columns = []string{
	"Дата",
	"Подразделение",
	"Операция",
	"Культура",
	"За день, га",
	"С начала операции, га",
	"Вал за день, ц",
	"Вал с начала, ц",
}

// RenderXLSX serializes records into an xlsx workbook with a header row.
func RenderXLSX(records []model.Record) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(rec.Day.String())
		row.AddCell().SetString(rec.Subdivision)
		row.AddCell().SetString(rec.Category)
		row.AddCell().SetString(rec.Subject)
		for _, v := range []*float64{rec.DailyQty, rec.TotalQty, rec.DailyYield, rec.TotalYield} {
			cell := row.AddCell()
			if v != nil {
				cell.SetFloat(*v)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "report: write workbook")
	}
	return buf.Bytes(), nil
}

// ReadRows returns every row of the first sheet of an xlsx blob as strings,
// header included.
func ReadRows(blob []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(blob)
	if err != nil {
		return nil, eris.Wrap(err, "report: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("report: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// DecodeXLSX reads records back out of a workbook produced by RenderXLSX.
func DecodeXLSX(blob []byte) ([]model.Record, error) {
	rows, err := ReadRows(blob)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]model.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		cells := make([]string, len(Columns))
		copy(cells, row)

		day, err := model.ParseDay(cells[0])
		if err != nil {
			return nil, eris.Wrapf(err, "report: row %d", i+2)
		}
		rec := model.Record{
			Day:         day,
			Subdivision: cells[1],
			Category:    cells[2],
			Subject:     cells[3],
		}
		targets := []**float64{&rec.DailyQty, &rec.TotalQty, &rec.DailyYield, &rec.TotalYield}
		for j, target := range targets {
			s := strings.TrimSpace(cells[4+j])
			if s == "" {
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "report: row %d column %q", i+2, Columns[4+j])
			}
			*target = model.Float(v)
		}
		records = append(records, rec)
	}
	return records, nil
}
