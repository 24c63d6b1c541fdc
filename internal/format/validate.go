package format

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

var ErrInvalidMarkup = errors.New("invalid markup")

// ValidationError locates the first rule violation in formatted text.
type ValidationError struct {
	Offset int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid markup at byte %d: %s", e.Offset, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMarkup
}

var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "tg-spoiler": true,
	"a": true, "code": true, "blockquote": true,
}

// Validate checks doc.Text against the dialect and checks that every <pre>
// region still holds exactly the fence source it was built from.
func Validate(doc Document) error {
	return validate(doc.Text, doc.Fences, true)
}

// ValidateText applies the dialect rules without fence bookkeeping, for text
// that was split or built elsewhere.
func ValidateText(text string) error {
	return validate(text, nil, false)
}

func validate(text string, fences []string, checkFences bool) error {
	fence := 0
	for pos := 0; ; {
		start := strings.Index(text[pos:], "<pre>")
		if start < 0 {
			if err := validateSegment(text[pos:], pos); err != nil {
				return err
			}
			break
		}
		start += pos
		if err := validateSegment(text[pos:start], pos); err != nil {
			return err
		}

		bodyStart := start + len("<pre>")
		end := strings.Index(text[bodyStart:], "</pre>")
		if end < 0 {
			return &ValidationError{Offset: start, Reason: "unclosed <pre>"}
		}
		end += bodyStart
		if off, reason := checkPre(text[bodyStart:end]); reason != "" {
			return &ValidationError{Offset: bodyStart + off, Reason: reason}
		}
		if checkFences {
			if fence >= len(fences) {
				return &ValidationError{Offset: start, Reason: "unexpected <pre> region"}
			}
			if text[bodyStart:end] != fences[fence] {
				return &ValidationError{Offset: bodyStart, Reason: "fenced region was modified"}
			}
		}
		fence++
		pos = end + len("</pre>")
	}

	if checkFences && fence != len(fences) {
		return &ValidationError{Offset: len(text), Reason: fmt.Sprintf("%d of %d fenced regions missing", len(fences)-fence, len(fences))}
	}
	return nil
}

type frame struct {
	name string
	// children counts direct child elements; child is the last one's name.
	children int
	child    string
	hasText  bool
}

// validateSegment checks markup outside <pre> regions. Every segment must
// leave no element open.
func validateSegment(seg string, offset int) error {
	if seg == "" {
		return nil
	}
	var (
		stack  []frame
		anchor int
		code   int
	)
	fail := func(reason string) error {
		return &ValidationError{Offset: offset, Reason: reason}
	}

	z := html.NewTokenizer(strings.NewReader(seg))
	for {
		tt := z.Next()
		raw := string(z.Raw())

		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				if len(stack) > 0 {
					return fail("unclosed <" + stack[len(stack)-1].name + ">")
				}
				return nil
			}
			return fail(z.Err().Error())

		case html.TextToken:
			if err := checkText(raw, anchor == 0 && code == 0); err != "" {
				return fail(err)
			}
			if len(stack) > 0 && strings.TrimSpace(raw) != "" {
				stack[len(stack)-1].hasText = true
			}

		case html.StartTagToken:
			nameBytes, hasAttr := z.TagName()
			name := string(nameBytes)
			if code > 0 {
				return fail("tag <" + name + "> inside <code>")
			}
			if !allowedTags[name] {
				return fail("tag <" + name + "> not allowed")
			}
			if name == "a" {
				if anchor > 0 {
					return fail("nested <a>")
				}
				if err := checkHref(z, hasAttr); err != "" {
					return fail(err)
				}
				anchor++
			} else if hasAttr {
				return fail("attribute on <" + name + ">")
			}
			if name == "code" {
				code++
			}
			if len(stack) > 0 {
				parent := &stack[len(stack)-1]
				parent.children++
				parent.child = name
			}
			stack = append(stack, frame{name: name})

		case html.EndTagToken:
			nameBytes, _ := z.TagName()
			name := string(nameBytes)
			if len(stack) == 0 || stack[len(stack)-1].name != name {
				return fail("unexpected </" + name + ">")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if styleNames[name] && top.children == 1 && styleNames[top.child] && !top.hasText {
				return fail("<" + top.child + "> nested in <" + name + "> over the same text")
			}
			switch name {
			case "a":
				anchor--
			case "code":
				code--
			}

		case html.SelfClosingTagToken:
			return fail("self-closing tag")
		case html.CommentToken:
			return fail("comment")
		case html.DoctypeToken:
			return fail("doctype")
		}
		offset += len(raw)
	}
}

func checkHref(z *html.Tokenizer, hasAttr bool) string {
	href := ""
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) != "href" {
			return "attribute " + string(key) + " on <a>"
		}
		href = string(val)
	}
	if strings.TrimSpace(href) == "" {
		return "<a> without href"
	}
	if !allowedHref(href) {
		return "href scheme not allowed"
	}
	return ""
}

// checkPre returns the offset and reason of the first character in a <pre>
// body that Telegram would read as markup: a < opening a tag, comment or
// declaration, or an & that starts no entity.
func checkPre(body string) (int, string) {
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '<':
			if i+1 < len(body) && tagStart(body[i+1]) {
				return i, "tag-like < inside <pre>"
			}
		case '&':
			if entityRe.FindString(body[i:]) == "" {
				return i, "unescaped & inside <pre>"
			}
		}
	}
	return 0, ""
}

func tagStart(c byte) bool {
	return c == '/' || c == '!' || c == '?' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// checkText flags unescaped metacharacters, invalid entities and, when
// urls is set, bare URLs.
func checkText(raw string, urls bool) string {
	if strings.ContainsAny(raw, "<>") {
		return "unescaped metacharacter"
	}
	for i := strings.IndexByte(raw, '&'); i >= 0; {
		if entityRe.FindString(raw[i:]) == "" {
			return "unescaped &"
		}
		next := strings.IndexByte(raw[i+1:], '&')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if urls && anyURLRe.MatchString(raw) {
		return "bare URL outside <a>"
	}
	return ""
}
