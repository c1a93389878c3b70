package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

// errShape marks a decoded text that does not form a table
var errShape = errors.New("malformed table shape")

// records is a header plus data rows after skipped lines are dropped.
// lines holds the 1-based physical line of each row for error messages.
type records struct {
	header  []string
	rows    [][]string
	lines   []int
	skipped int
}

// splitText turns decoded text into records. Line endings are normalized,
// skipRows physical lines are dropped, blank lines are ignored and the
// first remaining line is the header. Fields follow CSV quoting, so a
// double-quoted field may hold the delimiter or a line break.
func splitText(text string, delim rune, skipRows int) (*records, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	rec := &records{}
	for rec.skipped < skipRows && text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			text = ""
		} else {
			text = text[i+1:]
		}
		rec.skipped++
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errShape, err)
		}
		if blankRow(fields) {
			continue
		}
		if rec.header == nil {
			rec.header = fields
			continue
		}
		line, _ := reader.FieldPos(0)
		rec.rows = append(rec.rows, fields)
		rec.lines = append(rec.lines, rec.skipped+line)
	}
	return rec, rec.checkShape()
}

// fromRows builds records from spreadsheet rows
func fromRows(rows [][]string, skipRows int) (*records, error) {
	rec := &records{}
	for i, row := range rows {
		if i < skipRows {
			rec.skipped++
			continue
		}
		if blankRow(row) {
			continue
		}
		if rec.header == nil {
			rec.header = row
			continue
		}
		rec.rows = append(rec.rows, row)
		rec.lines = append(rec.lines, i+1)
	}
	return rec, rec.checkShape()
}

func (r *records) checkShape() error {
	for i := range r.header {
		r.header[i] = strings.TrimSpace(r.header[i])
	}
	if blankRow(r.header) {
		return fmt.Errorf("%w: no header after %d skipped lines", errShape, r.skipped)
	}
	for i, row := range r.rows {
		if len(row) > len(r.header) {
			return fmt.Errorf("%w: line %d has %d fields, header has %d",
				errShape, r.lines[i], len(row), len(r.header))
		}
	}
	return nil
}

func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// columnLayout holds the header index of every required column
type columnLayout struct {
	no, intensity, dop, azimuth, per int
	azimuthName                      string
	azimuthPositional                bool
}

// resolveColumns finds the required columns in header. The azimuth falls
// back to azimuthPosition when its named column is absent.
func resolveColumns(header []string, azimuthName string, azimuthPosition int) (*columnLayout, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	var missing []string
	find := func(name string) int {
		i, ok := index[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}

	layout := &columnLayout{
		no:        find(domain.ColumnNo),
		intensity: find(domain.ColumnIntensity),
		dop:       find(domain.ColumnDOP),
		per:       find(domain.ColumnPER),
	}

	if i, ok := index[azimuthName]; ok {
		layout.azimuth = i
		layout.azimuthName = azimuthName
	} else if azimuthPosition >= 0 && len(header) > azimuthPosition {
		layout.azimuth = azimuthPosition
		layout.azimuthName = header[azimuthPosition]
		layout.azimuthPositional = true
	} else {
		missing = append(missing, azimuthName)
	}

	if len(missing) > 0 {
		return nil, apperrors.NewIngestionError(apperrors.ReasonMissingColumn,
			fmt.Sprintf("required column(s) missing: %s", strings.Join(missing, ", ")), nil).
			WithContext("missing_columns", missing).
			WithContext("header", header).
			WithHint("check that the file is an analyzer export with No, Intensity [%], DOP [%], φ [°] and PER [dB] columns").
			WithHint("the header is read after skipping the first lines; verify the skip-rows setting")
	}
	return layout, nil
}

// buildTable converts records into a RawSampleTable. Empty cells become
// NaN; any other non-numeric cell rejects the whole table.
func buildTable(rec *records, layout *columnLayout) (*domain.RawSampleTable, error) {
	table := domain.NewRawSampleTable(len(rec.rows))
	cols := []struct {
		name string
		idx  int
	}{
		{domain.ColumnIntensity, layout.intensity},
		{domain.ColumnDOP, layout.dop},
		{layout.azimuthName, layout.azimuth},
		{domain.ColumnPER, layout.per},
	}

	values := make([]float64, len(cols))
	for r, row := range rec.rows {
		line := rec.lines[r]

		no, err := parseNo(cell(row, layout.no))
		if err != nil {
			return nil, malformedCell(line, domain.ColumnNo, cell(row, layout.no), err)
		}

		for c, col := range cols {
			raw := cell(row, col.idx)
			v, err := parseNumber(raw)
			if err != nil {
				return nil, malformedCell(line, col.name, raw, err)
			}
			values[c] = v
		}
		table.Append(no, values[0], values[1], values[2], values[3])
	}
	return table, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseNumber parses a measurement cell. Empty cells are NaN.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseNo parses the sample number, accepting integral floats such as "3.0"
func parseNo(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty sample number")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("sample number %q is not integral", s)
	}
	return int64(f), nil
}

func malformedCell(line int, column, value string, cause error) *apperrors.AppError {
	return apperrors.NewIngestionError(apperrors.ReasonMalformedRow,
		fmt.Sprintf("line %d, column %q: cannot parse %q as a number", line, column, value), cause).
		WithContext("line", line).
		WithContext("column", column)
}
