// Package mapping defines the per-source configuration that tells the
// pipeline how to acquire a holdings file and how to read it: header
// layout, column projection, trade date resolution, product filter,
// excluded tickers, and the browser event script.
//
// Mappings arrive as JSON documents stored on provider and ETF records.
// Parse rejects unknown keys and invalid combinations before any network
// or file I/O is attempted.
package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("mapping: invalid")

// Canonical holdings fields.
const (
	FieldTradeDate   = "trade_date"
	FieldTicker      = "ticker"
	FieldShares      = "shares"
	FieldMarketValue = "market_value"
	FieldWeight      = "weight"
)

// Layout is the header shape of a holdings table.
type Layout string

const (
	LayoutSingle Layout = "single"
	LayoutTwoRow Layout = "two_row"
)

// Height returns the number of rows the header spans.
func (l Layout) Height() int {
	if l == LayoutTwoRow {
		return 2
	}
	return 1
}

// Mapping is the validated configuration for one source.
type Mapping struct {
	Sheet         string         `json:"sheet,omitempty"`
	Header        Header         `json:"header"`
	Columns       Columns        `json:"columns"`
	Date          DateStrategy   `json:"date"`
	Product       *ProductFilter `json:"product,omitempty"`
	RemoveTickers Set            `json:"remove_tickers,omitempty"`
}

// Header locates the header inside the raw table.
type Header struct {
	// SkipRows is the number of banner rows before the header block.
	SkipRows int `json:"skip_rows"`
	// Row is the header offset after SkipRows, usually 0.
	Row    int    `json:"row"`
	Layout Layout `json:"layout"`
	// Gap is the number of unit/note rows between header and data.
	Gap int `json:"gap"`
	// ScanRows enables header detection on single-row layouts: up to
	// ScanRows candidate rows from the configured offset are scored.
	ScanRows int `json:"scan_rows,omitempty"`
	// NoPrefix lists sub-labels that stay standalone when a two-row
	// header is flattened.
	NoPrefix Set `json:"no_prefix,omitempty"`
}

// Index returns the absolute index of the first header row.
func (h Header) Index() int { return h.SkipRows + h.Row }

// ProductFilter keeps only the rows of one product in consolidated sheets.
type ProductFilter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Column maps a canonical field to a source column. A nil Source means the
// source does not carry the field.
type Column struct {
	Field  string
	Source *string
}

// Columns is the ordered canonical -> source projection. Declaration order
// is output order.
type Columns []Column

// Source returns the source column of field and whether field is declared.
func (c Columns) Source(field string) (string, bool) {
	for _, col := range c {
		if col.Field == field {
			if col.Source == nil {
				return "", true
			}
			return *col.Source, true
		}
	}
	return "", false
}

// Mapped reports whether field is declared with a non-null source.
func (c Columns) Mapped(field string) bool {
	for _, col := range c {
		if col.Field == field {
			return col.Source != nil && strings.TrimSpace(*col.Source) != ""
		}
	}
	return false
}

// Fields returns the canonical field names in declaration order.
func (c Columns) Fields() []string {
	out := make([]string, len(c))
	for i, col := range c {
		out[i] = col.Field
	}
	return out
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (c *Columns) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: columns must be an object", ErrInvalid)
	}
	var out Columns
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field := tok.(string)
		var src *string
		if err := dec.Decode(&src); err != nil {
			return fmt.Errorf("%w: columns.%s: %v", ErrInvalid, field, err)
		}
		out = append(out, Column{Field: field, Source: src})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

// MarshalJSON encodes the columns as an ordered JSON object.
func (c Columns) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(col.Field)
		v, _ := json.Marshal(col.Source)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Set is a string set encoded as a JSON array.
type Set map[string]struct{}

// NewSet builds a Set from values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// UnmarshalJSON decodes a JSON array of strings.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewSet(values...)
	return nil
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s Set) MarshalJSON() ([]byte, error) {
	values := make([]string, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	sort.Strings(values)
	return json.Marshal(values)
}

var fieldName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Parse decodes and validates a mapping document.
func Parse(data []byte) (*Mapping, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Mapping
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the mapping and fills the header layout default.
func (m *Mapping) Validate() error {
	if m.Header.Layout == "" {
		m.Header.Layout = LayoutSingle
	}
	switch m.Header.Layout {
	case LayoutSingle, LayoutTwoRow:
	default:
		return fmt.Errorf("%w: header.layout %q", ErrInvalid, m.Header.Layout)
	}
	if m.Header.SkipRows < 0 || m.Header.Row < 0 || m.Header.Gap < 0 || m.Header.ScanRows < 0 {
		return fmt.Errorf("%w: header offsets must not be negative", ErrInvalid)
	}
	if m.Header.ScanRows > 0 && m.Header.Layout != LayoutSingle {
		return fmt.Errorf("%w: header.scan_rows requires the single layout", ErrInvalid)
	}

	if len(m.Columns) == 0 {
		return fmt.Errorf("%w: columns must not be empty", ErrInvalid)
	}
	seen := make(map[string]bool, len(m.Columns))
	for _, col := range m.Columns {
		if !fieldName.MatchString(col.Field) {
			return fmt.Errorf("%w: column name %q", ErrInvalid, col.Field)
		}
		if seen[col.Field] {
			return fmt.Errorf("%w: column %q declared twice", ErrInvalid, col.Field)
		}
		seen[col.Field] = true
	}
	for _, f := range []string{FieldTicker, FieldShares, FieldWeight} {
		if !m.Columns.Mapped(f) {
			return fmt.Errorf("%w: columns.%s must name a source column", ErrInvalid, f)
		}
	}

	if err := m.Date.validate(m.Columns); err != nil {
		return err
	}

	if m.Product != nil && (strings.TrimSpace(m.Product.Column) == "" || m.Product.Value == "") {
		return fmt.Errorf("%w: product filter needs column and value", ErrInvalid)
	}
	return nil
}

// ExpectedHeaders returns the lower-cased source column names the header
// row must carry.
func (m *Mapping) ExpectedHeaders() []string {
	var out []string
	for _, col := range m.Columns {
		if col.Source != nil && strings.TrimSpace(*col.Source) != "" {
			out = append(out, strings.ToLower(strings.TrimSpace(*col.Source)))
		}
	}
	return out
}
