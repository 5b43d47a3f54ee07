package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrMissingColumn is returned when an import file lacks a required header.
var ErrMissingColumn = eris.New("import: missing required column")

// Required header names (case-insensitive).
const (
	ColumnEmail      = "email"
	ColumnQuota      = "quota"
	ColumnAttainment = "attainment"
)

// Row is one parsed line of an import file. Line is 1-based and counts the
// header. A non-empty ParseError means the numeric fields are unusable.
type Row struct {
	Line       int
	Email      string
	Quota      float64
	Attainment float64
	ParseError string
}

// ReadCSV parses an import CSV with email, quota and attainment columns.
// Extra columns are ignored. Blank lines are skipped.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "import: read csv")
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record{line: line, fields: fields})
	}
	return parseRecords(records)
}

// ReadXLSX parses the first sheet of an XLSX workbook.
func ReadXLSX(r io.Reader) ([]Row, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "import: read xlsx")
	}
	f, err := xlsx.OpenBinary(b)
	if err != nil {
		return nil, eris.Wrap(err, "import: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("import: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([]record, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, record{line: i + 1, fields: cells})
	}
	return parseRecords(records)
}

// Read picks a reader by file name extension: .xlsx, otherwise CSV.
func Read(name string, r io.Reader) ([]Row, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ReadXLSX(r)
	}
	return ReadCSV(r)
}

type record struct {
	line   int
	fields []string
}

func parseRecords(records []record) ([]Row, error) {
	if len(records) == 0 {
		return nil, eris.Wrap(ErrMissingColumn, "import: empty file")
	}

	cols := map[string]int{}
	for i, h := range records[0].fields {
		if i == 0 {
			// Excel's "CSV UTF-8" export starts with a byte order mark.
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{ColumnEmail, ColumnQuota, ColumnAttainment} {
		if _, ok := cols[name]; !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "import: column %q", name)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, r := range records[1:] {
		rec := r.fields
		if isBlank(rec) {
			continue
		}
		row := Row{Line: r.line, Email: strings.TrimSpace(field(rec, cols[ColumnEmail]))}

		var problems []string
		quota, err := parseNumber(field(rec, cols[ColumnQuota]))
		if err != nil {
			problems = append(problems, "quota: "+err.Error())
		}
		attainment, err := parseNumber(field(rec, cols[ColumnAttainment]))
		if err != nil {
			problems = append(problems, "attainment: "+err.Error())
		}
		row.Quota, row.Attainment = quota, attainment
		row.ParseError = strings.Join(problems, "; ")
		rows = append(rows, row)
	}
	return rows, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseNumber accepts spreadsheet-formatted numbers such as "$12,500.00".
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errors.New("value is required")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}
