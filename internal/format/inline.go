package format

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LinkFallbackLabel is shown for a URL that has neither a label nor a host.
const LinkFallbackLabel = "link"

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeText escapes the three HTML metacharacters.
func EscapeText(s string) string {
	return escaper.Replace(s)
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(EscapeText(s), `"`, "&quot;")
}

var (
	entityRe   = regexp.MustCompile(`^&(?:lt|gt|amp|quot|#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6});`)
	tagRe      = regexp.MustCompile(`^<(/?)([a-zA-Z][a-zA-Z0-9-]*)((?:\s+[a-zA-Z][a-zA-Z0-9-]*\s*=\s*(?:"[^"<>]*"|'[^'<>]*'))*)\s*>`)
	brRe       = regexp.MustCompile(`(?i)^<br\s*/?>`)
	hrefRe     = regexp.MustCompile(`(?i)\bhref\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	mdLinkRe   = regexp.MustCompile(`^\[([^\[\]\n]+)\]\((https?://[^\s()<>]+)\)`)
	bareURLRe  = regexp.MustCompile(`^(?i:https?://|www\.)[^\s<>"'` + "`" + `]+`)
	anyURLRe   = regexp.MustCompile(`(?i)(?:https?://|\bwww\.)[^\s<>"']+`)
	schemeRe   = regexp.MustCompile(`^(?i:https?://)`)
	styleNames = map[string]bool{"b": true, "i": true, "u": true, "s": true, "tg-spoiler": true}
)

// tagAliases maps accepted input tag names to their dialect form.
var tagAliases = map[string]string{
	"b": "b", "strong": "b",
	"i": "i", "em": "i",
	"u": "u", "ins": "u",
	"s": "s", "strike": "s", "del": "s",
	"tg-spoiler": "tg-spoiler",
	"code":       "code",
	"blockquote": "blockquote",
	"a":          "a",
}

type delimiter struct {
	mark string
	tag  string
}

// Longest marks first so "***" wins over "**" and "*".
var delimiters = []delimiter{
	{"***", "b"},
	{"**", "b"},
	{"~~", "s"},
	{"||", "tg-spoiler"},
	{"*", "i"},
	{"_", "i"},
}

type inlineRenderer struct {
	labels   map[string]string
	out      strings.Builder
	inAnchor int
	inCode   int
}

// renderInline escapes one line of free text and rewrites inline markup,
// markdown emphasis and bare URLs into the dialect.
func renderInline(s string, labels map[string]string) string {
	r := &inlineRenderer{labels: labels}
	r.render(s)
	return collapseSameSpans(r.out.String())
}

// allowedHref reports whether a link target uses a scheme Telegram opens.
func allowedHref(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "tg":
		return true
	}
	return false
}

func (r *inlineRenderer) render(s string) {
	for i := 0; i < len(s); {
		if r.inCode > 0 {
			i += r.codeText(s[i:])
			continue
		}
		switch c := s[i]; {
		case c == '`':
			i += r.codeSpan(s[i:])
		case c == '<':
			i += r.tag(s[i:])
		case c == '&':
			if m := entityRe.FindString(s[i:]); m != "" {
				r.out.WriteString(m)
				i += len(m)
			} else {
				r.out.WriteString("&amp;")
				i++
			}
		case c == '>':
			r.out.WriteString("&gt;")
			i++
		case c == '[' && r.inAnchor == 0:
			i += r.markdownLink(s[i:])
		case (c == 'h' || c == 'H') && r.inAnchor == 0 && schemeRe.MatchString(s[i:]):
			i += r.bareURL(s[i:])
		case (c == 'w' || c == 'W') && r.inAnchor == 0 && wordBoundaryBefore(s, i):
			i += r.bareURL(s[i:])
		case c == '*' || c == '_' || c == '~' || c == '|':
			i += r.emphasis(s, i)
		default:
			_, size := utf8.DecodeRuneInString(s[i:])
			r.out.WriteString(s[i : i+size])
			i += size
		}
	}
}

// codeText consumes text inside a model-supplied <code> element.
func (r *inlineRenderer) codeText(s string) int {
	if strings.HasPrefix(strings.ToLower(s), "</code>") {
		r.out.WriteString("</code>")
		r.inCode--
		return len("</code>")
	}
	if m := entityRe.FindString(s); m != "" {
		r.out.WriteString(m)
		return len(m)
	}
	_, size := utf8.DecodeRuneInString(s)
	r.out.WriteString(EscapeText(s[:size]))
	return size
}

func (r *inlineRenderer) codeSpan(s string) int {
	n := 0
	for n < len(s) && s[n] == '`' {
		n++
	}
	fence := s[:n]
	rest := s[n:]
	for off := 0; off < len(rest); {
		idx := strings.Index(rest[off:], fence)
		if idx < 0 {
			break
		}
		pos := off + idx
		end := pos + n
		if end < len(rest) && rest[end] == '`' {
			off = end
			for off < len(rest) && rest[off] == '`' {
				off++
			}
			continue
		}
		inner := rest[:pos]
		if strings.TrimSpace(inner) == "" {
			break
		}
		r.out.WriteString("<code>")
		r.out.WriteString(EscapeText(inner))
		r.out.WriteString("</code>")
		return n + end
	}
	r.out.WriteString(fence)
	return n
}

func (r *inlineRenderer) tag(s string) int {
	if br := brRe.FindString(s); br != "" {
		r.out.WriteByte('\n')
		return len(br)
	}
	m := tagRe.FindStringSubmatch(s)
	if m == nil {
		r.out.WriteString("&lt;")
		return 1
	}
	closing := m[1] == "/"
	name, ok := tagAliases[strings.ToLower(m[2])]
	if !ok {
		r.out.WriteString("&lt;")
		return 1
	}

	switch {
	case name == "a" && closing:
		if r.inAnchor == 0 {
			r.out.WriteString("&lt;")
			return 1
		}
		r.inAnchor--
		r.out.WriteString("</a>")
	case name == "a":
		href := hrefRe.FindStringSubmatch(m[3])
		if href == nil || r.inAnchor > 0 {
			r.out.WriteString("&lt;")
			return 1
		}
		target := html.UnescapeString(href[1] + href[2])
		if !allowedHref(target) {
			r.out.WriteString("&lt;")
			return 1
		}
		r.inAnchor++
		r.out.WriteString(`<a href="` + escapeAttr(target) + `">`)
	case closing:
		r.out.WriteString("</" + name + ">")
	default:
		if name == "code" {
			r.inCode++
		}
		r.out.WriteString("<" + name + ">")
	}
	return len(m[0])
}

func (r *inlineRenderer) markdownLink(s string) int {
	m := mdLinkRe.FindStringSubmatch(s)
	if m == nil {
		r.out.WriteString("[")
		return 1
	}
	r.out.WriteString(`<a href="` + escapeAttr(html.UnescapeString(m[2])) + `">`)
	r.out.WriteString(EscapeText(html.UnescapeString(m[1])))
	r.out.WriteString("</a>")
	return len(m[0])
}

func (r *inlineRenderer) bareURL(s string) int {
	raw := bareURLRe.FindString(s)
	if raw == "" {
		_, size := utf8.DecodeRuneInString(s)
		r.out.WriteString(s[:size])
		return size
	}
	raw = trimURL(raw)
	target := html.UnescapeString(raw)
	if strings.HasPrefix(strings.ToLower(target), "www.") {
		target = "https://" + target
	}
	r.out.WriteString(`<a href="` + escapeAttr(target) + `">`)
	r.out.WriteString(EscapeText(r.label(raw, target)))
	r.out.WriteString("</a>")
	return len(raw)
}

// label picks the caller's label for the URL, then its host, then the fallback.
func (r *inlineRenderer) label(raw, target string) string {
	for _, key := range []string{raw, target, html.UnescapeString(raw)} {
		if l := strings.TrimSpace(r.labels[key]); l != "" {
			return l
		}
	}
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return LinkFallbackLabel
}

// trimURL drops trailing punctuation that belongs to the sentence, keeping a
// closing parenthesis when the URL itself opened one.
func trimURL(s string) string {
	for len(s) > 0 {
		last := s[len(s)-1]
		switch {
		case strings.IndexByte(".,;:!?*_~|]}'\"", last) >= 0:
			s = s[:len(s)-1]
		case last == ')' && strings.Count(s, "(") < strings.Count(s, ")"):
			s = s[:len(s)-1]
		case strings.HasSuffix(s, "&gt;") || strings.HasSuffix(s, "&lt;"):
			s = s[:len(s)-4]
		default:
			return s
		}
	}
	return s
}

func (r *inlineRenderer) emphasis(s string, i int) int {
	for _, d := range delimiters {
		if !strings.HasPrefix(s[i:], d.mark) {
			continue
		}
		end, ok := closingDelimiter(s, i, d.mark)
		if !ok {
			continue
		}
		inner := renderInline(s[i+len(d.mark):end], r.labels)
		r.out.WriteString("<" + d.tag + ">" + inner + "</" + d.tag + ">")
		return end + len(d.mark) - i
	}
	r.out.WriteByte(s[i])
	return 1
}

// closingDelimiter finds where an emphasis span opened at i ends. Openers
// must follow a boundary and precede a non-space; closers the reverse.
func closingDelimiter(s string, i int, mark string) (int, bool) {
	start := i + len(mark)
	if start >= len(s) || !wordBoundaryBefore(s, i) {
		return 0, false
	}
	next, _ := utf8.DecodeRuneInString(s[start:])
	if unicode.IsSpace(next) || strings.ContainsRune(mark, next) {
		return 0, false
	}

	for j := start + 1; j+len(mark) <= len(s); j++ {
		if s[j:j+len(mark)] != mark {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:j])
		if unicode.IsSpace(prev) || strings.ContainsRune(mark, prev) {
			continue
		}
		after := j + len(mark)
		if after < len(s) {
			r, _ := utf8.DecodeRuneInString(s[after:])
			if strings.ContainsRune(mark, r) || isWordRune(r) {
				continue
			}
		}
		if strings.Count(s[start:j], "`")%2 != 0 {
			continue
		}
		return j, true
	}
	return 0, false
}

// collapseSameSpans drops every style element that is the whole content of
// another style element, keeping the outer one. Telegram rejects two styles
// over exactly the same text.
func collapseSameSpans(s string) string {
	for {
		out, ok := collapseOnce(s)
		if !ok {
			return s
		}
		s = out
	}
}

func collapseOnce(s string) (string, bool) {
	for i := strings.IndexByte(s, '<'); i >= 0; {
		if outer, n := styleOpenAt(s, i); outer != "" {
			j := skipSpace(s, i+n)
			if inner, m := styleOpenAt(s, j); inner != "" {
				if end := matchingClose(s, j+m, inner); end >= 0 {
					after := end + len("</"+inner+">")
					if strings.HasPrefix(s[skipSpace(s, after):], "</"+outer+">") {
						return s[:j] + s[j+m:end] + s[after:], true
					}
				}
			}
		}
		next := strings.IndexByte(s[i+1:], '<')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return s, false
}

// styleOpenAt returns the style tag opened at s[i:] and its length.
func styleOpenAt(s string, i int) (string, int) {
	if i >= len(s) || s[i] != '<' {
		return "", 0
	}
	end := strings.IndexByte(s[i:], '>')
	if end < 0 {
		return "", 0
	}
	name := s[i+1 : i+end]
	if !styleNames[name] {
		return "", 0
	}
	return name, end + 1
}

// matchingClose finds the close tag balancing an element of name opened just
// before from.
func matchingClose(s string, from int, name string) int {
	open, closeTag := "<"+name+">", "</"+name+">"
	depth := 0
	for i := from; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], open):
			depth++
		case strings.HasPrefix(s[i:], closeTag):
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	return i
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(prev) && prev != '/' && prev != '_'
}
