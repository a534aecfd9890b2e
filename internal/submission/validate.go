package submission

import (
	"crypto/sha256"
	"crypto/subtle"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	unsafePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)<\s*iframe`),
		regexp.MustCompile(`(?i)<\s*img`),
		regexp.MustCompile(`(?i)document\.cookie`),
		regexp.MustCompile(`(?i)<\s*form`),
	}

	phonePattern = regexp.MustCompile(`^\+?[0-9().\-]{8,20}$`)
	namePattern  = regexp.MustCompile(`^[\p{L}\p{Zs}\s'\-]{2,}$`)
	spacePattern = regexp.MustCompile(`\s+`)
	crlfPattern  = regexp.MustCompile(`[\r\n]+`)

	validate = validator.New()
)

// HasUnsafeContent reports markup or a known injection pattern in value.
// Any '<', '>' or NUL counts as markup, so plain text using angle brackets
// is rejected as well.
func HasUnsafeContent(value string) bool {
	if strings.ContainsAny(value, "<>\x00") {
		return true
	}
	for _, p := range unsafePatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

func ValidEmail(value string) bool {
	return validate.Var(value, "required,email") == nil
}

// ValidPhone accepts 8 to 20 characters of digits and ( ) . - with an
// optional leading '+', once whitespace is removed, carrying at least 8 digits.
func ValidPhone(value string) bool {
	compact := spacePattern.ReplaceAllString(value, "")
	if !phonePattern.MatchString(compact) {
		return false
	}

	digits := 0
	for _, r := range compact {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 8
}

func ValidName(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	return namePattern.MatchString(value)
}

// SanitizeHeader collapses CR/LF runs into a single space and trims.
func SanitizeHeader(value string) string {
	return strings.TrimSpace(crlfPattern.ReplaceAllString(value, " "))
}

// Label turns a field name into a body label: "first_name" -> "First Name".
func Label(field string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ").Replace(field)

	var b strings.Builder
	b.Grow(len(replaced))
	upper := true
	for _, r := range replaced {
		if upper {
			r = unicode.ToUpper(r)
		}
		upper = unicode.IsSpace(r)
		b.WriteRune(r)
	}
	return b.String()
}

// TokensEqual compares two tokens in time independent of their content and
// length. Empty tokens never match.
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// SuspiciousUserAgent reports an empty agent or one containing a blacklisted
// substring. Blacklist entries are expected in lowercase.
func SuspiciousUserAgent(ua string, blacklist []string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return true
	}
	for _, term := range blacklist {
		if term != "" && strings.Contains(ua, term) {
			return true
		}
	}
	return false
}
