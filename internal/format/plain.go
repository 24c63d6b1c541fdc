package format

import (
	"html"
	"regexp"
	"strings"
)

var (
	plainBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	plainTagRe   = regexp.MustCompile(`(?i)</?(?:b|strong|i|em|u|ins|s|strike|del|tg-spoiler|a|code|pre|blockquote|span|p)(?:\s[^<>]*)?>`)
)

// PlainText renders text with every markup tag removed and all content
// escaped. Paragraph breaks survive as single blank lines and list items
// become "•" lines.
func PlainText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = plainBreakRe.ReplaceAllString(text, "\n")
	text = plainTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	var out []string
	blank := false
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, " \t")
		switch {
		case l == "":
			blank = len(out) > 0
			continue
		case isRule(l):
			continue
		}
		if item, ok := bulletContent(l); ok {
			l = "• " + item
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, l)
	}
	return EscapeText(strings.Join(out, "\n"))
}
