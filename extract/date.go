package extract

import (
	"fmt"
	"time"

	"github.com/hazyhaar/etfwatch/mapping"
)

// rowDateLayouts are tried for a trade_date column without a format.
var rowDateLayouts = []string{
	time.DateOnly,
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// resolveDate returns the single trade date of the table, or perRow when
// the date must be read from the trade_date column row by row. An
// external page date takes precedence over every strategy.
func resolveDate(t RawTable, m *mapping.Mapping, opts Options) (time.Time, bool, error) {
	if !opts.PageDate.IsZero() {
		return mapping.Day(opts.PageDate), false, nil
	}
	ds := m.Date
	switch ds.Strategy {
	case mapping.StrategyFilename:
		d, err := mapping.DateFromFilename(opts.Filename, ds.Format)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: filename %q: %v", ErrDate, opts.Filename, err)
		}
		return d, false, nil
	case mapping.StrategyCell:
		ref := ds.Cell
		for r := ref.Row; r <= ref.Row+ref.Scan; r++ {
			text := t.At(r, ref.Col).String()
			if text == "" {
				continue
			}
			if d, err := mapping.ParseDate(text, ds.Format); err == nil {
				return d, false, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("%w: no %q date in column %d rows %d-%d", ErrDate, ds.Format, ref.Col, ref.Row, ref.Row+ref.Scan)
	case mapping.StrategyPage:
		return time.Time{}, false, fmt.Errorf("%w: page date not supplied", ErrDate)
	case mapping.StrategyColumn:
		return time.Time{}, true, nil
	}
	return opts.runDate(), false, nil
}

// rowDate parses one trade_date cell. A blank cell is reported as absent;
// a non-blank unparseable cell is an error.
func rowDate(c Cell, format string) (time.Time, bool, error) {
	text := c.String()
	if text == "" {
		return time.Time{}, false, nil
	}
	if format != "" {
		d, err := mapping.ParseDate(text, format)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrDate, err)
		}
		return d, true, nil
	}
	for _, layout := range rowDateLayouts {
		if d, err := time.Parse(layout, text); err == nil {
			return mapping.Day(d), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: trade_date %q", ErrDate, text)
}
