package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	listMarkerPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)

	markupReplacer = strings.NewReplacer(
		"*", " ", "_", " ", "#", " ", "~", " ", "|", " ",
		"<", " ", ">", " ", "\\", " ", "/", " ",
	)
)

// sanitizeSpeechText turns model markdown into plain sentences for speech
// synthesis. Link labels survive; code, URLs and symbols do not.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = listMarkerPattern.ReplaceAllString(raw, "")
	raw = markupReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk), r == '\u200d', r == '\ufe0f':
			// dropped
		case unicode.IsPunct(r) && !spokenPunctuation(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func spokenPunctuation(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()", r)
}
