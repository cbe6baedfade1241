package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// WeightPrecision is the number of decimal places kept after a percent
// rescale.
const WeightPrecision = 10

var (
	numericNoise = regexp.MustCompile(`[$€£,%\s]`)
	tickerToken  = regexp.MustCompile(`^[A-Z]+$`)
)

// currencyTickers are cash pseudo-tickers some providers list as holdings.
var currencyTickers = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true,
	"CHF": true, "AUD": true, "HKD": true, "CNY": true, "CNH": true,
	"SGD": true, "CASH": true,
}

// parseNumber strips currency, percent and thousands symbols and parses
// the rest. Unparseable values are invalid.
func parseNumber(c Cell) decimal.NullDecimal {
	switch c.Kind {
	case KindNumber:
		return decimal.NewNullDecimal(decimal.NewFromFloat(c.Num))
	case KindEmpty:
		return decimal.NullDecimal{}
	}
	s := numericNoise.ReplaceAllString(c.Text, "")
	if s == "" || s == "-" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// NormalizeTicker keeps the first token of raw and reports whether it is
// an acceptable equity symbol.
func NormalizeTicker(raw string, exclude map[string]struct{}) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	t := fields[0]
	if !tickerToken.MatchString(t) || currencyTickers[t] {
		return "", false
	}
	if _, ok := exclude[t]; ok {
		return "", false
	}
	return t, true
}
