package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent is returned for event names outside the supported set.
var ErrUnknownEvent = errors.New("mapping: unknown event")

// Event is one step of a landing page script. The set of variants is
// closed: Navigate, Wheel, Click, Check, Fill, Select, ScrollIntoView.
type Event interface {
	// Name returns the canonical event name.
	Name() string
	event()
}

// Navigate loads a URL.
type Navigate struct {
	URL string `json:"url"`
}

// Wheel scrolls the page by a delta.
type Wheel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Click clicks an element.
type Click struct {
	Selector   string `json:"selector"`
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"clickCount,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// Check ticks a checkbox or radio.
type Check struct {
	Selector string `json:"selector"`
	Force    bool   `json:"force,omitempty"`
}

// Fill focuses an input and replaces its text.
type Fill struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Force    bool   `json:"force,omitempty"`
}

// Select picks options of a select element.
type Select struct {
	Selector string   `json:"selector"`
	Options  []string `json:"options"`
	Force    bool     `json:"force,omitempty"`
}

// ScrollIntoView scrolls the first element matching Selector into view.
type ScrollIntoView struct {
	Selector string `json:"selector"`
}

func (Navigate) Name() string       { return "navigate" }
func (Wheel) Name() string          { return "wheel" }
func (Click) Name() string          { return "click" }
func (Check) Name() string          { return "check" }
func (Fill) Name() string           { return "fill" }
func (Select) Name() string         { return "select" }
func (ScrollIntoView) Name() string { return "scroll_into_view" }

func (Navigate) event()       {}
func (Wheel) event()          {}
func (Click) event()          {}
func (Check) event()          {}
func (Fill) event()           {}
func (Select) event()         {}
func (ScrollIntoView) event() {}

// WithDefaults fills the button and click count defaults.
func (c Click) WithDefaults() Click {
	if c.Button == "" {
		c.Button = "left"
	}
	if c.ClickCount <= 0 {
		c.ClickCount = 1
	}
	return c
}

var eventNames = map[string]string{
	"navigate":         "navigate",
	"goto":             "navigate",
	"mouse":            "wheel",
	"wheel":            "wheel",
	"mousewheel":       "wheel",
	"click":            "click",
	"check":            "check",
	"fill":             "fill",
	"select":           "select",
	"scroll_to_first":  "scroll_into_view",
	"scroll_into_view": "scroll_into_view",
	"scrollintoview":   "scroll_into_view",
}

// Events is an ordered event script.
type Events []Event

// UnmarshalJSON decodes a JSON array of {"name": ..., ...} objects.
// Recorder metadata steps carrying a browserName key are dropped.
func (es *Events) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("%w: events: %v", ErrInvalid, err)
	}
	out := make(Events, 0, len(raws))
	for i, raw := range raws {
		ev, err := DecodeEvent(raw)
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		if ev != nil {
			out = append(out, ev)
		}
	}
	*es = out
	return nil
}

// MarshalJSON encodes each event with its canonical name.
func (es Events) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(es))
	for _, ev := range es {
		body, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		name, _ := json.Marshal(ev.Name())
		obj := append([]byte(`{"name":`), name...)
		if len(body) > 2 {
			obj = append(obj, ',')
			obj = append(obj, body[1:]...)
		} else {
			obj = append(obj, '}')
		}
		out = append(out, obj)
	}
	return json.Marshal(out)
}

// DecodeEvent decodes one event object. It returns a nil Event for
// recorder metadata steps.
func DecodeEvent(raw []byte) (Event, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: event: %v", ErrInvalid, err)
	}
	if _, ok := head["browserName"]; ok {
		return nil, nil
	}
	var name string
	if err := json.Unmarshal(head["name"], &name); err != nil || name == "" {
		return nil, fmt.Errorf("%w: event without name", ErrInvalid)
	}
	canonical, ok := eventNames[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	delete(head, "name")
	body, _ := json.Marshal(head)

	switch canonical {
	case "navigate":
		var e Navigate
		err := strictDecode(body, &e)
		if err == nil && strings.TrimSpace(e.URL) == "" {
			err = errors.New("url is required")
		}
		return checked(e, err)
	case "wheel":
		var e Wheel
		err := strictDecode(body, &e)
		return checked(e, err)
	case "click":
		var e Click
		err := strictDecode(body, &e)
		return checked(e, needSelector(e.Selector, err))
	case "check":
		var e Check
		err := strictDecode(body, &e)
		return checked(e, needSelector(e.Selector, err))
	case "fill":
		var e Fill
		err := strictDecode(body, &e)
		return checked(e, needSelector(e.Selector, err))
	case "select":
		var e Select
		err := decodeSelect(head, &e)
		return checked(e, needSelector(e.Selector, err))
	default:
		var e ScrollIntoView
		err := strictDecode(body, &e)
		return checked(e, needSelector(e.Selector, err))
	}
}

// decodeSelect accepts both "options" and a single "value".
func decodeSelect(head map[string]json.RawMessage, e *Select) error {
	if v, ok := head["value"]; ok {
		var one string
		if err := json.Unmarshal(v, &one); err != nil {
			return err
		}
		e.Options = append(e.Options, one)
		delete(head, "value")
	}
	body, _ := json.Marshal(head)
	opts := e.Options
	e.Options = nil
	if err := strictDecode(body, e); err != nil {
		return err
	}
	e.Options = append(opts, e.Options...)
	if len(e.Options) == 0 {
		return errors.New("options are required")
	}
	return nil
}

func strictDecode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func needSelector(sel string, err error) error {
	if err != nil {
		return err
	}
	if strings.TrimSpace(sel) == "" {
		return errors.New("selector is required")
	}
	return nil
}

func checked(ev Event, err error) (Event, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, ev.Name(), err)
	}
	return ev, nil
}

// Trigger describes the element whose activation starts the download.
type Trigger struct {
	Selector   string `json:"selector"`
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"clickCount,omitempty"`
}

// Validate checks the trigger selector.
func (t Trigger) Validate() error {
	if strings.TrimSpace(t.Selector) == "" {
		return fmt.Errorf("%w: trigger selector is required", ErrInvalid)
	}
	return nil
}

// Click returns the trigger as a click event with defaults applied.
func (t Trigger) Click() Click {
	return Click{Selector: t.Selector, Button: t.Button, ClickCount: t.ClickCount}.WithDefaults()
}

// Script is the landing page choreography of a source: the page URL,
// selectors that must be visible before and after the events, and the
// events themselves.
type Script struct {
	URL      string `json:"url"`
	WaitPre  string `json:"wait_pre_events,omitempty"`
	WaitPost string `json:"wait_post_events,omitempty"`
	Events   Events `json:"events,omitempty"`
}

// Validate checks the script URL.
func (s Script) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("%w: script url is required", ErrInvalid)
	}
	return nil
}
