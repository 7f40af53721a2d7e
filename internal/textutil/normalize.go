// Package textutil holds the small text helpers shared by the dialog machines:
// accent folding, phone and amount parsing, delivery windows and greetings.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeString lowercases s, strips diacritics and trims it.
// "Devolución" becomes "devolucion".
func NormalizeString(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.TrimSpace(out)
}

var (
	nonPhoneChars = regexp.MustCompile(`[^0-9+]`)
	localPhone    = regexp.MustCompile(`^\d{8}$`)
	countryPhone  = regexp.MustCompile(`^591\d{8}$`)
	intlPhone     = regexp.MustCompile(`^\+\d{9,15}$`)
)

// NormalizePhone maps a Bolivian phone number to its international form.
// Eight local digits gain the +591 prefix, 591XXXXXXXX gains the plus sign and
// numbers already in international form pass through. Anything else is
// returned as its digits. The function is idempotent.
func NormalizePhone(p string) string {
	digits := nonPhoneChars.ReplaceAllString(p, "")
	switch {
	case localPhone.MatchString(digits):
		return "+591" + digits
	case countryPhone.MatchString(digits):
		return "+" + digits
	case intlPhone.MatchString(digits):
		return digits
	}
	return digits
}

var returnKeywords = []string{"devolucion", "devolver", "registrar devolucion"}

// IsReturnRequest reports whether the text asks to register a product return.
func IsReturnRequest(text string) bool {
	t := NormalizeString(text)
	for _, kw := range returnKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(hola|buen dia|buenos dias|buenas|saludos)\b`),
	regexp.MustCompile(`\b(hi|hello|hey)\b`),
	regexp.MustCompile(`^/start$`),
}

// IsGreeting reports whether the text contains a greeting.
func IsGreeting(text string) bool {
	t := NormalizeString(text)
	if t == "" {
		return false
	}
	for _, re := range greetingPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}
