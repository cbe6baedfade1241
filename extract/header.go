package extract

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/etfwatch/mapping"
)

// HeaderMatchRatio is the share of expected source columns a scanned row
// must carry to be accepted as the header.
const HeaderMatchRatio = 0.6

// MatchRatio returns the fraction of expected names present in row,
// compared case-insensitively.
func MatchRatio(row []Cell, expected []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	have := make(map[string]bool, len(row))
	for _, c := range row {
		have[strings.ToLower(c.String())] = true
	}
	hits := 0
	for _, e := range expected {
		if have[strings.ToLower(strings.TrimSpace(e))] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

// resolveHeader returns the flattened header and the index of the first
// data row.
func resolveHeader(t RawTable, m *mapping.Mapping) ([]string, int, error) {
	h := m.Header
	idx := h.Index()

	if h.Layout == mapping.LayoutTwoRow {
		if idx+1 >= len(t) {
			return nil, 0, fmt.Errorf("%w: two-row header at %d beyond %d rows", ErrHeaderNotFound, idx, len(t))
		}
		return flattenHeader(t[idx], t[idx+1], h.NoPrefix), idx + 2 + h.Gap, nil
	}

	if h.ScanRows > 0 {
		expected := m.ExpectedHeaders()
		for r := idx; r < idx+h.ScanRows && r < len(t); r++ {
			if MatchRatio(t[r], expected) >= HeaderMatchRatio {
				return headerNames(t[r]), r + 1 + h.Gap, nil
			}
		}
		return nil, 0, fmt.Errorf("%w: no row in [%d,%d) matches the mapped columns", ErrHeaderNotFound, idx, idx+h.ScanRows)
	}

	if idx >= len(t) {
		return nil, 0, fmt.Errorf("%w: header at %d beyond %d rows", ErrHeaderNotFound, idx, len(t))
	}
	return headerNames(t[idx]), idx + 1 + h.Gap, nil
}

func headerNames(row []Cell) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = c.String()
	}
	return out
}

// flattenHeader merges a two-row header. Top labels carry forward over
// blank cells.
func flattenHeader(top, sub []Cell, noPrefix mapping.Set) []string {
	n := max(len(top), len(sub))
	out := make([]string, n)
	current := ""
	for i := 0; i < n; i++ {
		if i < len(top) {
			if s := top[i].String(); s != "" && !strings.EqualFold(s, "nan") {
				current = s
			}
		}
		var label string
		if i < len(sub) {
			label = sub[i].String()
		}
		if current == "" || noPrefix.Has(label) {
			out[i] = label
			continue
		}
		out[i] = strings.TrimSpace(current + " " + label)
	}
	return out
}

// columnIndex maps each canonical field to its header position, or -1
// when the source does not carry it. Each required field must be found.
func columnIndex(header []string, m *mapping.Mapping, required ...string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := pos[key]; !dup && key != "" {
			pos[key] = i
		}
	}
	idx := make(map[string]int, len(m.Columns))
	for _, col := range m.Columns {
		idx[col.Field] = -1
		if col.Source == nil {
			continue
		}
		if p, ok := pos[strings.ToLower(strings.TrimSpace(*col.Source))]; ok {
			idx[col.Field] = p
		}
	}
	for _, f := range required {
		if idx[f] < 0 {
			src, _ := m.Columns.Source(f)
			return nil, fmt.Errorf("%w: %s (%q)", ErrColumnMissing, f, src)
		}
	}
	return idx, nil
}
