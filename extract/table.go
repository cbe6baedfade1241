// Package extract turns raw spreadsheet and delimited-text payloads into
// canonical holdings records, driven by a mapping.Mapping.
package extract

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnreadable is returned when a payload cannot be decoded as the
	// declared format.
	ErrUnreadable = errors.New("extract: unreadable payload")
	// ErrMissingConfig is returned when the file format or mapping is absent.
	ErrMissingConfig = errors.New("extract: missing file format or mapping")
	// ErrHeaderNotFound is returned when no row qualifies as the header.
	ErrHeaderNotFound = errors.New("extract: header not found")
	// ErrColumnMissing is returned when a required source column is not in
	// the header.
	ErrColumnMissing = errors.New("extract: source column missing")
	// ErrDate is returned when the trade date cannot be resolved.
	ErrDate = errors.New("extract: trade date unresolved")
)

// Kind is the type of a cell value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
)

// Cell is one spreadsheet value.
type Cell struct {
	Kind Kind
	Text string
	Num  float64
}

// Text returns a text cell, or an empty cell when s is blank.
func Text(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{}
	}
	return Cell{Kind: KindText, Text: s}
}

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: KindNumber, Num: f} }

// Empty reports whether the cell carries no value.
func (c Cell) Empty() bool { return c.Kind == KindEmpty }

// String renders the cell as trimmed text.
func (c Cell) String() string {
	switch c.Kind {
	case KindText:
		return strings.TrimSpace(c.Text)
	case KindNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	}
	return ""
}

// RawTable is a decoded sheet: rows of cells, ragged.
type RawTable [][]Cell

// At returns the cell at (row, col) or an empty cell when out of range.
func (t RawTable) At(row, col int) Cell {
	if row < 0 || row >= len(t) || col < 0 || col >= len(t[row]) {
		return Cell{}
	}
	return t[row][col]
}

// Width returns the length of the longest row.
func (t RawTable) Width() int {
	w := 0
	for _, r := range t {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

func blankRow(r []Cell) bool {
	for _, c := range r {
		if !c.Empty() && c.String() != "" {
			return false
		}
	}
	return true
}

// Holding is one canonical holdings record.
type Holding struct {
	ProviderEtfID int64
	TradeDate     time.Time
	Ticker        string
	Shares        decimal.Decimal
	MarketValue   decimal.NullDecimal
	Weight        decimal.Decimal
	// Extra carries mapped fields outside the canonical set.
	Extra map[string]string
}

// Record renders h in the given field order, as produced by
// mapping.Columns.Fields.
func (h Holding) Record(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		switch f {
		case "trade_date":
			out[i] = h.TradeDate.Format(time.DateOnly)
		case "ticker":
			out[i] = h.Ticker
		case "shares":
			out[i] = h.Shares.String()
		case "market_value":
			if h.MarketValue.Valid {
				out[i] = h.MarketValue.Decimal.String()
			}
		case "weight":
			out[i] = h.Weight.String()
		default:
			out[i] = h.Extra[f]
		}
	}
	return out
}
