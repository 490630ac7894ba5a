package core

// convert.go reads typed values out of loosely typed diff row data.
//
// Diff rows arrive as JSON objects produced from spreadsheets, so the same
// field can be a string, a JSON number or null depending on how the cell was
// formatted. Numbers may carry currency symbols, thousands separators or the
// accounting "(123.45)" negative form.

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RowData is the before/after payload of a diff row.
type RowData map[string]any

// String returns the trimmed text value of key, or "" when absent.
func (d RowData) String(key string) string {
	if d == nil {
		return ""
	}
	return asString(d[key])
}

// Decimal returns the numeric value of key.
func (d RowData) Decimal(key string) (decimal.Decimal, bool) {
	if d == nil {
		return decimal.Zero, false
	}
	return asDecimal(d[key])
}

// NullDecimal is Decimal in nullable form.
func (d RowData) NullDecimal(key string) decimal.NullDecimal {
	v, ok := d.Decimal(key)
	return decimal.NullDecimal{Decimal: v, Valid: ok}
}

// Date returns the value of key when it is a valid YYYY-MM-DD date.
func (d RowData) Date(key string) (string, bool) {
	return normalizeDateOnly(d.String(key))
}

var (
	numericRegex  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	dateOnlyRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.String()
	default:
		return ""
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case decimal.Decimal:
		return x, true
	case json.Number:
		return parseDecimal(x.String())
	case string:
		return parseDecimal(x)
	default:
		return decimal.Zero, false
	}
}

// parseDecimal accepts plain numbers plus currency symbols, thousands
// separators and accounting-style negatives.
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"¥", "", "￥", "", "$", "", "元", "", ",", "", "，", "",
	).Replace(s)
	s = strings.TrimSpace(s)

	if !numericRegex.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// parseRatio reads "30%" or "0.3" style ratios as a fraction. Only a % suffix
// marks a percentage; a bare "1.5" is an overpayment of 150%.
func parseRatio(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	d, ok := parseDecimal(s)
	if !ok {
		return decimal.Zero, false
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, true
}

func normalizeDateOnly(s string) (string, bool) {
	if !dateOnlyRegex.MatchString(s) {
		return "", false
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return "", false
	}
	return s, true
}

// jsonValue converts v into a form that survives a JSON round trip
// unchanged, so audit values read back from either store compare equal.
func jsonValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case decimal.Decimal:
		f, _ := x.Float64()
		return f
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func nullableDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return f
}
