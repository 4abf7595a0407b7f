package sheets

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoSheet is returned for workbooks without any worksheet.
var ErrNoSheet = errors.New("workbook has no sheets")

// Table is the first worksheet of a workbook read as header-keyed rows.
// Blank cells are left out of a row's map.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// ReadFirstSheet parses an xlsx stream. The first row supplies column names;
// every following non-blank row becomes one map. Numeric cells are returned
// as float64 unless their display format (dates, percentages) differs from a
// plain number, in which case the displayed text is kept.
func ReadFirstSheet(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	shown, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	table := &Table{}
	if len(raw) == 0 {
		return table, nil
	}

	header := raw[0]
	for _, name := range header {
		table.Columns = append(table.Columns, strings.TrimSpace(name))
	}

	for i := 1; i < len(raw); i++ {
		row := make(map[string]any)
		for col, value := range raw[i] {
			if col >= len(table.Columns) || table.Columns[col] == "" || value == "" {
				continue
			}
			if _, dup := row[table.Columns[col]]; dup {
				continue
			}
			display := value
			if i < len(shown) && col < len(shown[i]) {
				display = shown[i][col]
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("failed to read cell %s: %w", cell, err)
			}
			row[table.Columns[col]] = cellValue(typ, value, display)
		}
		if len(row) > 0 {
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}

func cellValue(typ excelize.CellType, raw, display string) any {
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return display
		}
		if _, err := strconv.ParseFloat(strings.ReplaceAll(display, ",", ""), 64); err != nil {
			return display
		}
		return n
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	default:
		return display
	}
}
