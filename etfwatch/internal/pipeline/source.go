package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/extract"
	"github.com/hazyhaar/etfwatch/mapping"
)

// ErrNoDomain is returned when no registrable domain can be derived from a
// provider start URL.
var ErrNoDomain = errors.New("pipeline: no registrable domain")

// Source is a decoded, ready to run acquisition target.
type Source struct {
	Script  mapping.Script
	Trigger mapping.Trigger
	Mapping *mapping.Mapping
	Format  extract.Format
}

// LandingScript decodes the page choreography of s.
func LandingScript(s store.Script) (mapping.Script, error) {
	out := mapping.Script{URL: strings.TrimSpace(s.URL), WaitPre: s.WaitPre, WaitPost: s.WaitPost}
	if ev := strings.TrimSpace(s.Events); ev != "" && ev != "null" {
		if err := json.Unmarshal([]byte(ev), &out.Events); err != nil {
			return mapping.Script{}, fmt.Errorf("pipeline: events: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return mapping.Script{}, err
	}
	return out, nil
}

// ResolveSource builds the acquisition target of one page. Trigger, mapping
// and file format fall back to those of parent, which may be nil.
func ResolveSource(page store.Script, parent *store.Script) (*Source, error) {
	script, err := LandingScript(page)
	if err != nil {
		return nil, err
	}
	pick := func(own string, inherited func(*store.Script) string) string {
		if strings.TrimSpace(own) == "" && parent != nil {
			return inherited(parent)
		}
		return own
	}
	trigger := pick(page.Trigger, func(p *store.Script) string { return p.Trigger })
	mp := pick(page.Mapping, func(p *store.Script) string { return p.Mapping })
	format := pick(page.FileFormat, func(p *store.Script) string { return p.FileFormat })

	src := &Source{Script: script}
	if strings.TrimSpace(trigger) == "" {
		return nil, fmt.Errorf("%w: no trigger", extract.ErrMissingConfig)
	}
	if src.Trigger, err = decodeTrigger(trigger); err != nil {
		return nil, err
	}
	if strings.TrimSpace(mp) == "" {
		return nil, fmt.Errorf("%w: no mapping", extract.ErrMissingConfig)
	}
	if src.Mapping, err = mapping.Parse([]byte(mp)); err != nil {
		return nil, err
	}
	if src.Format, err = extract.ParseFormat(format); err != nil {
		return nil, err
	}
	return src, nil
}

func decodeTrigger(raw string) (mapping.Trigger, error) {
	var t mapping.Trigger
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return t, fmt.Errorf("%w: trigger: %v", mapping.ErrInvalid, err)
	}
	return t, t.Validate()
}

// Domain returns the registrable domain of rawURL ("www.ishares.com/us"
// gives "ishares.com"). A missing scheme is tolerated.
func Domain(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDomain, rawURL)
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname()))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrNoDomain, rawURL, err)
	}
	return d, nil
}
