package format

import (
	"strings"
	"unicode/utf8"
)

// Split cuts formatted text into parts of at most limit characters. A part
// ends at the last newline where no element is open, else at the last
// newline, else inside a line but never through a tag or an entity.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := cutPoint(text, limit)
		if part := strings.TrimRight(text[:cut], "\n"); part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// cutPoint returns the byte offset at which the first part of text ends.
func cutPoint(text string, limit int) int {
	window := len(text)
	runes := 0
	for i := range text {
		if runes == limit {
			window = i
			break
		}
		runes++
	}

	var (
		depth    int
		inPre    bool
		safe     = -1
		anyLine  = -1
		boundary = -1
	)
	for i := 0; i < window; {
		switch {
		case inPre:
			if strings.HasPrefix(text[i:], "</pre>") {
				inPre = false
				i += len("</pre>")
				boundary = i
				continue
			}
		case text[i] == '<':
			end := strings.IndexByte(text[i:], '>')
			if end < 0 || i+end >= window {
				i = window
				continue
			}
			tag := text[i : i+end+1]
			switch {
			case tag == "<pre>":
				inPre = true
			case strings.HasPrefix(tag, "</"):
				depth--
			default:
				depth++
			}
			i += end + 1
			boundary = i
			continue
		case text[i] == '&':
			if m := entityRe.FindString(text[i:]); m != "" {
				if i+len(m) > window {
					i = window
					continue
				}
				i += len(m)
				boundary = i
				continue
			}
		}

		if text[i] == '\n' {
			anyLine = i + 1
			if depth <= 0 && !inPre {
				safe = i + 1
			}
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		boundary = i
	}

	switch {
	case safe > 0:
		return safe
	case anyLine > 0:
		return anyLine
	case boundary > 0:
		return boundary
	}
	return window
}
