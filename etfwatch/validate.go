package etfwatch

import (
	"slices"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/pipeline"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/mapping"
)

// MappingReport describes a valid mapping document.
type MappingReport struct {
	Sheet           string   `json:"sheet,omitempty"`
	Layout          string   `json:"layout"`
	Fields          []string `json:"fields"`
	ExpectedHeaders []string `json:"expected_headers"`
	DateStrategy    string   `json:"date_strategy"`
	DateOnPage      bool     `json:"date_on_page,omitempty"`
	Product         string   `json:"product,omitempty"`
	RemoveTickers   []string `json:"remove_tickers,omitempty"`
}

// ValidateMapping parses a mapping document without touching the network.
// Errors wrap mapping.ErrInvalid.
func ValidateMapping(data []byte) (*MappingReport, error) {
	m, err := mapping.Parse(data)
	if err != nil {
		return nil, err
	}
	return describeMapping(m), nil
}

func describeMapping(m *mapping.Mapping) *MappingReport {
	r := &MappingReport{
		Sheet:           m.Sheet,
		Layout:          string(m.Header.Layout),
		Fields:          m.Columns.Fields(),
		ExpectedHeaders: m.ExpectedHeaders(),
		DateStrategy:    string(m.Date.Strategy),
		DateOnPage:      m.Date.OnPage(),
	}
	if m.Product != nil {
		r.Product = m.Product.Column + "=" + m.Product.Value
	}
	for t := range m.RemoveTickers {
		r.RemoveTickers = append(r.RemoveTickers, t)
	}
	slices.Sort(r.RemoveTickers)
	return r
}

// SourceReport describes a complete acquisition target.
type SourceReport struct {
	URL     string         `json:"url"`
	Domain  string         `json:"domain"`
	Events  []string       `json:"events"`
	Trigger string         `json:"trigger"`
	Format  string         `json:"format"`
	Mapping *MappingReport `json:"mapping"`
}

// ValidateSource checks the script, trigger, mapping and file format of a
// page. Trigger, mapping and format fall back to those of parent, which
// may be nil, as they do during a download.
func ValidateSource(page store.Script, parent *store.Script) (*SourceReport, error) {
	src, err := pipeline.ResolveSource(page, parent)
	if err != nil {
		return nil, err
	}
	domain, err := pipeline.Domain(src.Script.URL)
	if err != nil {
		return nil, err
	}
	r := &SourceReport{
		URL:     src.Script.URL,
		Domain:  domain,
		Events:  []string{},
		Trigger: src.Trigger.Selector,
		Format:  string(src.Format),
		Mapping: describeMapping(src.Mapping),
	}
	for _, ev := range src.Script.Events {
		r.Events = append(r.Events, ev.Name())
	}
	return r, nil
}
