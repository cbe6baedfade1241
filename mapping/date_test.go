package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		text, format string
	}{
		{"Holdings as of Mar 5, 2024", "%b %d, %Y"},
		{"as of 03/05/2024 close", "%m/%d/%Y"},
		{"Fund_Holdings_20240305.xlsx", "%Y%m%d"},
		{"05.03.24", "%d.%m.%y"},
		{"As of: March 05, 2024", "%B %d, %Y"},
		{"Tue, 5 MAR 2024", "%a, %d %b %Y"},
	}
	for _, c := range cases {
		got, err := ParseDate(c.text, c.format)
		require.NoError(t, err, c.text)
		assert.Equal(t, want, got, c.text)
	}
}

func TestParseDate_LiteralsAreNotPatterns(t *testing.T) {
	// WHAT: a "." in the format matches only a dot.
	_, err := ParseDate("05-03-24", "%d.%m.%y")
	assert.ErrorIs(t, err, ErrNoDate)
}

func TestParseDate_NoMatch(t *testing.T) {
	_, err := ParseDate("no date here", "%Y-%m-%d")
	assert.ErrorIs(t, err, ErrNoDate)
}

func TestParseDate_InvalidFormat(t *testing.T) {
	_, err := ParseDate("2024", "%Y %")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDateFromFilename(t *testing.T) {
	got, err := DateFromFilename("/tmp/dl/holdings-2024-12-31.csv", "%Y-%m-%d")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), got)
}
