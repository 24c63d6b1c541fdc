package format

import (
	"regexp"
	"strings"
)

// isRule matches a standalone horizontal rule: three or more of the same
// rule character, optionally separated by spaces.
func isRule(s string) bool {
	t := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if len(t) < 3 {
		return false
	}
	c := t[0]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	return strings.Count(t, string(c)) == len(t)
}

// dropRules marks horizontal rules outside tabular runs for removal.
func dropRules(in buffer) buffer {
	b := in.clone()
	for i := range b.lines {
		if b.free(i) && isRule(b.lines[i].raw) {
			b.lines[i].kind = kindRule
		}
	}
	return b
}

var bulletMarkers = []string{"- ", "* ", "+ ", "• ", "-\t", "*\t", "+\t", "•\t"}

// bulletContent returns the item text of a list line.
func bulletContent(s string) (string, bool) {
	t := strings.TrimLeft(s, " \t")
	for _, m := range bulletMarkers {
		if strings.HasPrefix(t, m) {
			return strings.TrimSpace(t[len(m):]), true
		}
	}
	return "", false
}

func markBullets(in buffer) buffer {
	b := in.clone()
	for i := range b.lines {
		if !b.free(i) {
			continue
		}
		if _, ok := bulletContent(b.lines[i].raw); ok {
			b.lines[i].kind = kindBullet
		}
	}
	return b
}

var speakerRe = regexp.MustCompile(`^\s*[\p{L}\p{N}][\p{L}\p{N} .'\-]{0,39}:\s*(["“«])`)

var closingQuote = map[string]string{`"`: `"`, "“": "”", "«": "»"}

// markQuotes claims "Speaker: “text”" passages, which may span several lines
// up to the closing mark, and runs of '>' lines.
func markQuotes(in buffer) buffer {
	b := in.clone()
	for i := 0; i < len(b.lines); i++ {
		if !b.free(i) {
			continue
		}
		raw := b.lines[i].raw

		if strings.HasPrefix(strings.TrimLeft(raw, " \t"), ">") {
			j := i
			for j < len(b.lines) && b.free(j) && strings.HasPrefix(strings.TrimLeft(b.lines[j].raw, " \t"), ">") {
				j++
			}
			b.claim(kindQuote, block{kind: blockQuote, start: i, end: j, angle: true})
			i = j - 1
			continue
		}

		m := speakerRe.FindStringSubmatchIndex(raw)
		if m == nil {
			continue
		}
		open := raw[m[2]:m[3]]
		closing := closingQuote[open]
		rest := raw[m[3]:]

		end := -1
		if strings.HasSuffix(strings.TrimRight(rest, " \t"), closing) && strings.TrimSpace(rest) != closing {
			end = i
		} else {
			for j := i + 1; j < len(b.lines) && b.free(j); j++ {
				if strings.HasSuffix(strings.TrimRight(b.lines[j].raw, " \t"), closing) {
					end = j
					break
				}
			}
		}
		if end < 0 {
			continue
		}
		b.claim(kindQuote, block{kind: blockQuote, start: i, end: end + 1})
		i = end
	}
	return b
}

func quoteLine(s string, angle bool) string {
	if !angle {
		return s
	}
	t := strings.TrimLeft(s, " \t")
	t = strings.TrimPrefix(t, ">")
	return strings.TrimPrefix(t, " ")
}
