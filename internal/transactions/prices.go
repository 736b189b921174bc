package transactions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Digits with optional comma thousands groups of exactly three, then an
	// optional decimal part.
	plainAmount   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	groupedAmount = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	currencyCode  = regexp.MustCompile(`^(?i:[A-Z]{3})\s*|\s*(?i:[A-Z]{3})$`)
)

const currencySymbols = "$€£¥₹₩₽¢"

// ParsePrice reads a price from a decoded JSON value. Strings may carry a
// currency symbol or ISO code, comma thousands separators, a leading or
// trailing minus, or accounting parentheses for negatives. Anything else is
// rejected rather than guessed.
func ParsePrice(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("malformed price %q", val.String())
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		return parsePriceString(val)
	default:
		return decimal.Decimal{}, fmt.Errorf("price has type %T, want string or number", v)
	}
}

func parsePriceString(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	negative := false

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.ReplaceAll(s, "−", "-")

	s = strings.TrimSpace(currencyCode.ReplaceAllString(s, ""))
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(currencySymbols, r) || r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, s)

	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = !negative
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	switch {
	case plainAmount.MatchString(s):
	case groupedAmount.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		return decimal.Decimal{}, fmt.Errorf("malformed price %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("malformed price %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
