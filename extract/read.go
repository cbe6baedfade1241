package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Format is a holdings file format.
type Format string

const (
	FormatXLS  Format = "xls"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat normalizes a stored format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLS, FormatXLSX, FormatCSV:
		return f, nil
	case "":
		return "", ErrMissingConfig
	default:
		return "", fmt.Errorf("extract: unsupported format %q: %w", s, ErrMissingConfig)
	}
}

// Read decodes data with the reader for format. An empty sheet selects
// the first sheet of a workbook.
func Read(format Format, data []byte, sheet string) (RawTable, error) {
	switch format {
	case FormatXLS:
		return ReadXLS(data, sheet)
	case FormatXLSX:
		return ReadXLSX(data, sheet)
	case FormatCSV:
		return ReadCSV(data)
	}
	return nil, fmt.Errorf("extract: read %q: %w", format, ErrMissingConfig)
}

// ReadCSV decodes comma-delimited text. Ragged rows are accepted and a
// leading byte order mark is dropped.
func ReadCSV(data []byte) (RawTable, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("extract: csv: invalid utf-8: %w", ErrUnreadable)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var t RawTable
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract: csv: %v: %w", err, ErrUnreadable)
		}
		t = append(t, textRow(rec))
	}
	return t, nil
}

// ReadXLSX decodes an Office Open XML workbook.
func ReadXLSX(data []byte, sheet string) (RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract: xlsx: %v: %w", err, ErrUnreadable)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("extract: xlsx: no sheets: %w", ErrUnreadable)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("extract: xlsx: sheet %q: %v: %w", sheet, err, ErrUnreadable)
	}
	t := make(RawTable, len(rows))
	for i, rec := range rows {
		t[i] = textRow(rec)
	}
	return t, nil
}

// ReadXLS decodes a legacy BIFF workbook.
func ReadXLS(data []byte, sheet string) (t RawTable, err error) {
	// The BIFF decoder panics on some truncated streams.
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("extract: xls: %v: %w", r, ErrUnreadable)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract: xls: %v: %w", err, ErrUnreadable)
	}
	var ws *xls.WorkSheet
	for i := 0; i < wb.NumSheets(); i++ {
		s := wb.GetSheet(i)
		if s == nil {
			continue
		}
		if sheet == "" || s.Name == sheet {
			ws = s
			break
		}
	}
	if ws == nil {
		return nil, fmt.Errorf("extract: xls: sheet %q not found: %w", sheet, ErrUnreadable)
	}
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			t = append(t, nil)
			continue
		}
		rec := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			rec[j] = row.Col(j)
		}
		t = append(t, textRow(rec))
	}
	return t, nil
}

func textRow(rec []string) []Cell {
	row := make([]Cell, len(rec))
	for i, v := range rec {
		row[i] = Text(v)
	}
	return row
}
