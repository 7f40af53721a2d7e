package textutil

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	nonAmountChars = regexp.MustCompile(`[^0-9.,]`)
	leadingNumber  = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)`)
	leadingInt     = regexp.MustCompile(`^[+-]?\d+`)
)

// ParseAmount reads a money amount typed by the operator, such as "Bs 150,50"
// or "150.5bs". Everything but digits and separators is dropped and the first
// comma is read as the decimal point. ok is false when no number is present.
func ParseAmount(text string) (decimal.Decimal, bool) {
	cleaned := nonAmountChars.ReplaceAllString(text, "")
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	m := leadingNumber.FindString(cleaned)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(m, "."))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseInt reads the leading integer of the trimmed text ("3 unidades" is 3).
func ParseInt(text string) (int, bool) {
	m := leadingInt.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
