// Package format turns free-form model output into the Telegram HTML dialect,
// validates the result and provides the plain-text fallback.
package format

import "strings"

// MaxPartLen is the largest message Telegram accepts, in characters.
const MaxPartLen = 4096

type Options struct {
	// LinkLabels maps a URL to the text shown for it when it appears bare.
	LinkLabels map[string]string
}

// Document is formatted output together with the verbatim source of every
// fenced region in the order the regions appear in Text.
type Document struct {
	Text   string
	Fences []string
}

// Format applies the formatting stages in order. Each stage returns a new
// buffer and leaves lines claimed by earlier stages alone.
func Format(text string, opts Options) Document {
	b := newBuffer(text)
	for _, stage := range []func(buffer) buffer{
		claimFences,
		claimTables,
		dropRules,
		markQuotes,
		markBullets,
	} {
		b = stage(b)
	}
	return assemble(b, opts)
}

func assemble(b buffer, opts Options) Document {
	var (
		out     strings.Builder
		fences  []string
		started bool
		blank   bool
		prev    lineKind
	)
	emit := func(s string, kind lineKind) {
		if started {
			if blank && !(prev == kindBullet && kind == kindBullet) {
				out.WriteString("\n\n")
			} else {
				out.WriteByte('\n')
			}
		}
		out.WriteString(s)
		started, blank, prev = true, false, kind
	}

	for i := 0; i < len(b.lines); {
		l := b.lines[i]
		switch l.kind {
		case kindBlank:
			blank = true
			i++
		case kindRule:
			i++
		case kindFence:
			blk := b.blocks[l.block]
			fences = append(fences, blk.body)
			emit("<pre>"+blk.body+"</pre>", kindFence)
			i = blk.end
		case kindQuote:
			blk := b.blocks[l.block]
			rows := make([]string, 0, blk.end-blk.start)
			for j := blk.start; j < blk.end; j++ {
				row := strings.TrimRight(quoteLine(b.lines[j].raw, blk.angle), " \t")
				rows = append(rows, trimLines(renderInline(row, opts.LinkLabels)))
			}
			emit("<blockquote>"+strings.Join(rows, "\n")+"</blockquote>", kindQuote)
			i = blk.end
		case kindBullet:
			item, _ := bulletContent(l.raw)
			emit("• "+trimLines(renderInline(item, opts.LinkLabels)), kindBullet)
			i++
		default:
			emit(trimLines(renderInline(strings.TrimRight(l.raw, " \t"), opts.LinkLabels)), kindText)
			i++
		}
	}
	return Document{Text: out.String(), Fences: fences}
}

// trimLines strips trailing whitespace from every line of s.
func trimLines(s string) string {
	if !strings.Contains(s, "\n") {
		return strings.TrimRight(s, " \t")
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

// Result reports how a reply was rendered.
type Result struct {
	Text  string
	Parts []string
	// Fallback is set when the formatted markup failed validation and Text
	// is the escaped plain rendering instead.
	Fallback bool
	// Err is the validation failure that forced the fallback.
	Err error
}

// Render formats text, validates it and splits it into parts of at most
// limit characters. Any validation failure, in the whole document or in a
// single part, replaces the entire reply with PlainText.
func Render(text string, opts Options, limit int) Result {
	doc := Format(text, opts)
	err := Validate(doc)
	if err == nil {
		parts := Split(doc.Text, limit)
		for _, p := range parts {
			if err = ValidateText(p); err != nil {
				break
			}
		}
		if err == nil {
			return Result{Text: doc.Text, Parts: parts}
		}
	}

	plain := PlainText(text)
	return Result{Text: plain, Parts: Split(plain, limit), Fallback: true, Err: err}
}
