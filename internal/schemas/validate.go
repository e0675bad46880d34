package schemas

import (
	"math"
	"net/mail"
	"unicode/utf8"
)

func body(field string) []string { return []string{"body", field} }

func checkLength(v *ValidationError, field, s string, minLen, maxLen int) {
	n := utf8.RuneCountInString(s)
	switch {
	case n < minLen:
		v.add(body(field), "string_too_short", "String should have at least %d character(s)", minLen)
	case maxLen > 0 && n > maxLen:
		v.add(body(field), "string_too_long", "String should have at most %d character(s)", maxLen)
	}
}

func checkEmail(v *ValidationError, field, s string) {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		v.add(body(field), "value_error", "value is not a valid email address")
	}
}

func checkPrice(v *ValidationError, field string, p float64) {
	if !(p > 0) || math.IsInf(p, 0) {
		v.add(body(field), "greater_than", "Input should be greater than 0")
		return
	}
	cents := p * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		v.add(body(field), "decimal_max_places", "Decimal input should have no more than 2 decimal places")
	}
}

func checkNonNegative(v *ValidationError, field string, n int) {
	if n < 0 {
		v.add(body(field), "greater_than_equal", "Input should be greater than or equal to 0")
	}
}
