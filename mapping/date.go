package mapping

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrNoDate is returned when a text carries no substring matching the
// configured date format.
var ErrNoDate = errors.New("mapping: no date matching format")

// Strategy selects where the trade date of a holdings file comes from.
type Strategy string

const (
	// StrategyRunDate stamps every row with the day of the run.
	StrategyRunDate Strategy = "run_date"
	// StrategyFilename parses the date out of the downloaded file name.
	StrategyFilename Strategy = "filename"
	// StrategyCell reads a fixed cell, scanning downward when configured.
	StrategyCell Strategy = "cell"
	// StrategyPage reads the date from the landing page.
	StrategyPage Strategy = "page"
	// StrategyColumn keeps the per-row trade_date column of the file.
	StrategyColumn Strategy = "column"
)

// DateStrategy configures trade date resolution.
type DateStrategy struct {
	Strategy Strategy  `json:"strategy"`
	Format   string    `json:"format,omitempty"`
	Cell     *CellRef  `json:"cell,omitempty"`
	Page     *PageDate `json:"page,omitempty"`
}

// CellRef addresses a date cell. Scan is the number of extra rows below
// Row that are tried when the cell holds no date.
type CellRef struct {
	Row  int `json:"row"`
	Col  int `json:"col"`
	Scan int `json:"scan,omitempty"`
}

// PageDate locates the date text on the landing page.
type PageDate struct {
	Location   string `json:"location"`
	TextBefore string `json:"text_before,omitempty"`
}

// OnPage reports whether the date must be captured from the browser.
func (d DateStrategy) OnPage() bool { return d.Strategy == StrategyPage }

func (d DateStrategy) validate(cols Columns) error {
	switch d.Strategy {
	case StrategyRunDate:
		return nil
	case StrategyFilename, StrategyCell, StrategyPage, StrategyColumn:
	case "":
		return fmt.Errorf("%w: date.strategy is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: date.strategy %q", ErrInvalid, d.Strategy)
	}
	if d.Strategy != StrategyColumn {
		if _, _, err := compileFormat(d.Format); err != nil {
			return err
		}
	}
	switch d.Strategy {
	case StrategyCell:
		if d.Cell == nil || d.Cell.Row < 0 || d.Cell.Col < 0 || d.Cell.Scan < 0 {
			return fmt.Errorf("%w: date.cell needs a non-negative row and col", ErrInvalid)
		}
	case StrategyPage:
		if d.Page == nil || strings.TrimSpace(d.Page.Location) == "" {
			return fmt.Errorf("%w: date.page needs a location", ErrInvalid)
		}
	case StrategyColumn:
		if !cols.Mapped(FieldTradeDate) {
			return fmt.Errorf("%w: date.strategy column needs columns.trade_date", ErrInvalid)
		}
	}
	return nil
}

// ParseDate finds the first substring of text matching the strftime-style
// format and parses it to a calendar day.
func ParseDate(text, format string) (time.Time, error) {
	re, layout, err := compileFormat(format)
	if err != nil {
		return time.Time{}, err
	}
	match := re.FindString(text)
	if match == "" {
		return time.Time{}, fmt.Errorf("%w: %q in %q", ErrNoDate, format, text)
	}
	t, err := time.Parse(layout, match)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrNoDate, match, err)
	}
	return Day(t), nil
}

// DateFromFilename parses the date out of the base name of path.
func DateFromFilename(path, format string) (time.Time, error) {
	return ParseDate(filepath.Base(path), format)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type directive struct {
	pattern string
	layout  string
}

var directives = map[byte]directive{
	'Y': {`\d{4}`, "2006"},
	'y': {`\d{2}`, "06"},
	'm': {`\d{1,2}`, "1"},
	'd': {`\d{1,2}`, "2"},
	'b': {`[A-Za-z]{3}`, "Jan"},
	'B': {`[A-Za-z]+`, "January"},
	'a': {`[A-Za-z]{3}`, "Mon"},
	'A': {`[A-Za-z]+`, "Monday"},
}

// compileFormat turns a strftime-style format into a search pattern and a
// time.Parse layout. Only calendar directives are supported.
func compileFormat(format string) (*regexp.Regexp, string, error) {
	if strings.TrimSpace(format) == "" {
		return nil, "", fmt.Errorf("%w: date.format is required", ErrInvalid)
	}
	var pat, layout strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			pat.WriteString(regexp.QuoteMeta(string(c)))
			layout.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return nil, "", fmt.Errorf("%w: date.format %q ends with %%", ErrInvalid, format)
		}
		i++
		if format[i] == '%' {
			pat.WriteString("%")
			layout.WriteByte('%')
			continue
		}
		d, ok := directives[format[i]]
		if !ok {
			return nil, "", fmt.Errorf("%w: date.format directive %%%c", ErrInvalid, format[i])
		}
		pat.WriteString(d.pattern)
		layout.WriteString(d.layout)
	}
	re, err := regexp.Compile(pat.String())
	if err != nil {
		return nil, "", fmt.Errorf("%w: date.format %q: %v", ErrInvalid, format, err)
	}
	return re, layout.String(), nil
}
