package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/poiesic/prepdocs/core"
	"github.com/xuri/excelize/v2"
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic = []byte("PK\x03\x04")
)

var errUnknownWorkbook = errors.New("unrecognized workbook encoding")

// table is one header plus its data rows, the common shape of every
// tabular format before rows are turned into units.
type table struct {
	sheet  string
	header []string
	rows   [][]any
}

// rowUnits converts tables into one unit per row. Rows with no values become
// all-null objects. Row ordinals run across all tables so that they strictly
// increase within a file.
func rowUnits(ctx context.Context, tables []table, name string, format core.Format) ([]core.Unit, error) {
	var units []core.Unit
	for _, t := range tables {
		width := len(t.header)
		for _, row := range t.rows {
			if len(row) > width {
				width = len(row)
			}
		}
		columns := normalizeHeader(t.header, width)

		for _, row := range t.rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			content, err := encodeRow(columns, row)
			if err != nil {
				return nil, extractionError(name, err)
			}
			ordinal := len(units) + 1
			units = append(units, core.Unit{
				Ordinal: ordinal,
				Content: content,
				Metadata: core.Metadata{
					FileName:   name,
					FileType:   format.FileType(),
					RowOrdinal: ordinal,
					Sheet:      t.sheet,
				},
			})
		}
	}
	return units, nil
}

// normalizeHeader names every column. Blank names become "Unnamed: <i>" and
// repeated names get ".1", ".2" suffixes.
func normalizeHeader(raw []string, width int) []string {
	columns := make([]string, width)
	used := make(map[string]bool, width)
	dups := make(map[string]int)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(raw) {
			name = strings.TrimSpace(raw[i])
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for used[candidate] {
			dups[name]++
			candidate = name + "." + strconv.Itoa(dups[name])
		}
		used[candidate] = true
		columns[i] = candidate
	}
	return columns
}

func isEmptyRow(row []any) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

// trimTrailingRows drops the empty rows a worksheet reports past its last value.
func trimTrailingRows(rows [][]any) [][]any {
	for len(rows) > 0 && isEmptyRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

// encodeRow renders a row as a JSON object with keys in column order.
func encodeRow(columns []string, row []any) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, col); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		var v any
		if i < len(row) {
			v = row[i]
		}
		if err := writeJSON(&buf, v); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encoder terminates each value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func stringCell(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// CSV extracts one unit per data row of a comma separated file.
type CSV struct{}

var _ Extractor = (*CSV)(nil)

// NewCSV creates a CSV extractor.
func NewCSV() *CSV {
	return &CSV{}
}

// Extract treats the first record as the header. Values stay strings.
func (x *CSV) Extract(ctx context.Context, content []byte, name string) ([]core.Unit, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, extractionError(name, err)
	}

	t := table{header: header}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, extractionError(name, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = stringCell(cell)
		}
		t.rows = append(t.rows, row)
	}
	return rowUnits(ctx, []table{t}, name, core.FormatCSV)
}

// Excel extracts one unit per data row of every sheet of a workbook.
// Both OOXML (.xlsx) and legacy BIFF (.xls) workbooks are read; the encoding
// is detected from the file signature.
type Excel struct {
	logger *slog.Logger
}

var _ Extractor = (*Excel)(nil)

// NewExcel creates a workbook extractor.
func NewExcel(logger *slog.Logger) *Excel {
	if logger == nil {
		logger = slog.Default().With("component", "extract")
	}
	return &Excel{logger: logger}
}

// Extract reads all sheets in workbook order. The first row of each sheet is
// its header.
func (x *Excel) Extract(ctx context.Context, content []byte, name string) ([]core.Unit, error) {
	var (
		tables []table
		err    error
	)
	switch {
	case bytes.HasPrefix(content, zipMagic):
		tables, err = x.readXLSX(content)
	case bytes.HasPrefix(content, oleMagic):
		tables, err = x.readXLS(content)
	default:
		err = errUnknownWorkbook
	}
	if err != nil {
		return nil, extractionError(name, err)
	}
	return rowUnits(ctx, tables, name, core.FormatExcel)
}

func (x *Excel) readXLSX(content []byte) ([]table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tables []table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		t := table{sheet: sheet, header: rows[0]}
		for r, cells := range rows[1:] {
			row := make([]any, len(cells))
			for c, raw := range cells {
				// Header is sheet row 1, so data starts at row 2.
				row[c] = x.typedCell(f, sheet, c+1, r+2, raw)
			}
			t.rows = append(t.rows, row)
		}
		t.rows = trimTrailingRows(t.rows)
		tables = append(tables, t)
	}
	return tables, nil
}

// typedCell converts a raw cell value to a JSON friendly value based on the
// stored cell type.
func (x *Excel) typedCell(f *excelize.File, sheet string, col, row int, raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}
	cellType, err := f.GetCellType(sheet, ref)
	if err != nil {
		return raw
	}
	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

func (x *Excel) readXLS(content []byte) (tables []table, err error) {
	// The BIFF reader panics on truncated records.
	defer func() {
		if r := recover(); r != nil {
			tables = nil
			err = fmt.Errorf("malformed xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, err
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}

		var grid [][]string
		for r := 0; r <= int(ws.MaxRow); r++ {
			grid = append(grid, xlsRow(ws, r))
		}
		if len(grid) == 0 {
			continue
		}

		t := table{sheet: ws.Name, header: grid[0]}
		for _, cells := range grid[1:] {
			row := make([]any, len(cells))
			for c, cell := range cells {
				row[c] = stringCell(cell)
			}
			t.rows = append(t.rows, row)
		}
		t.rows = trimTrailingRows(t.rows)
		tables = append(tables, t)
	}
	return tables, nil
}

// xlsRow returns the cells of a sheet row. Rows the sheet does not store come
// back empty.
func xlsRow(ws *xls.WorkSheet, r int) (cells []string) {
	defer func() {
		if recover() != nil {
			cells = nil
		}
	}()

	row := ws.Row(r)
	if row == nil {
		return nil
	}
	cells = make([]string, row.LastCol())
	for c := row.FirstCol(); c < row.LastCol(); c++ {
		cells[c] = row.Col(c)
	}
	return cells
}
