package policy

import "regexp"

type piiRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: card numbers would otherwise be taken for phone numbers.
var piiRules = []piiRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`(?i)\b[A-CEGHJ-PR-TW-Z]{2} ?\d{2} ?\d{2} ?\d{2} ?[A-D]\b`), "[REDACTED_NINO]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII replaces emails, card numbers, UK National Insurance numbers and
// phone numbers in text with fixed markers. changed is false when text had
// nothing to mask.
func RedactPII(text string) (redacted string, changed bool) {
	redacted = text
	for _, r := range piiRules {
		redacted = r.pattern.ReplaceAllString(redacted, r.marker)
	}
	return redacted, redacted != text
}
