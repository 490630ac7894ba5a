package core

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone returns raw in E.164 form when it parses as a valid number
// for region. Anything else is returned trimmed and unchanged, since
// spreadsheets routinely hold extensions or several numbers in one cell.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

// MaskPhone keeps the first three and last four digits of the national
// number. E.164 input keeps its country code.
//
//	+8613812345678 -> +86138****5678
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		if num, err := libphonenumber.Parse(phone, ""); err == nil {
			national := libphonenumber.GetNationalSignificantNumber(num)
			return "+" + strconv.Itoa(int(num.GetCountryCode())) + maskMiddle(national, 3, 4)
		}
	}
	return maskMiddle(phone, 3, 4)
}

// MaskIDCard keeps the first six and last four characters of an identity
// card number.
func MaskIDCard(id string) string {
	return maskMiddle(id, 6, 4)
}

func maskMiddle(s string, head, tail int) string {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return ""
	}
	if n <= head+tail {
		return strings.Repeat("*", n)
	}
	runes := []rune(s)
	return string(runes[:head]) + strings.Repeat("*", n-head-tail) + string(runes[n-tail:])
}
