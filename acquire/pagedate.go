package acquire

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/etfwatch/mapping"
)

var textOnly = bluemonday.StrictPolicy()

// PageText strips markup from an HTML fragment and collapses whitespace.
func PageText(fragment string) string {
	text := html.UnescapeString(textOnly.Sanitize(fragment))
	return strings.Join(strings.Fields(text), " ")
}

// ParsePageDate extracts a date from an HTML fragment. When anchor is set
// only the text after its first occurrence is searched, and a missing
// anchor is an error.
func ParsePageDate(fragment, anchor, format string) (time.Time, error) {
	text := PageText(fragment)
	if anchor != "" {
		a := strings.Join(strings.Fields(anchor), " ")
		i := strings.Index(text, a)
		if i < 0 {
			return time.Time{}, fmt.Errorf("%w: anchor %q not in %q", ErrNoPageDate, anchor, text)
		}
		text = text[i+len(a):]
	}
	d, err := mapping.ParseDate(text, format)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoPageDate, err)
	}
	return d, nil
}
