package format

import "strings"

type lineKind uint8

const (
	kindText lineKind = iota
	kindBlank
	kindFence
	kindRule
	kindBullet
	kindQuote
)

type line struct {
	raw  string
	kind lineKind
	// block indexes buffer.blocks for fence and quote lines.
	block int
}

type blockKind uint8

const (
	blockCode blockKind = iota
	blockTable
	blockPre
	blockQuote
)

// block is a claimed run of lines [start, end).
type block struct {
	kind       blockKind
	start, end int
	// body is the verbatim fence content; for quotes it is unused.
	body string
	// angle marks a quote written with leading '>' markers.
	angle bool
}

// buffer is the unit every stage consumes and returns. Stages never mutate
// their input; claimed lines are skipped by later stages.
type buffer struct {
	lines  []line
	blocks []block
}

func newBuffer(text string) buffer {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")

	b := buffer{lines: make([]line, len(raw))}
	for i, r := range raw {
		kind := kindText
		if strings.TrimSpace(r) == "" {
			kind = kindBlank
		}
		b.lines[i] = line{raw: r, kind: kind, block: -1}
	}
	return b
}

func (b buffer) clone() buffer {
	lines := make([]line, len(b.lines))
	copy(lines, b.lines)
	blocks := make([]block, len(b.blocks))
	copy(blocks, b.blocks)
	return buffer{lines: lines, blocks: blocks}
}

func (b buffer) free(i int) bool {
	return b.lines[i].kind == kindText
}

func (b *buffer) claim(kind lineKind, blk block) {
	idx := len(b.blocks)
	b.blocks = append(b.blocks, blk)
	for i := blk.start; i < blk.end; i++ {
		b.lines[i].kind = kind
		b.lines[i].block = idx
	}
}

func (b buffer) join(start, end int) string {
	parts := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		parts = append(parts, b.lines[i].raw)
	}
	return strings.Join(parts, "\n")
}

// claimFences claims ``` fenced code and <pre>...</pre> regions. An opening
// fence without a closing one is left as ordinary text.
func claimFences(in buffer) buffer {
	b := in.clone()
	for i := 0; i < len(b.lines); i++ {
		if b.lines[i].kind == kindBlank {
			continue
		}
		trimmed := strings.TrimSpace(b.lines[i].raw)

		if strings.HasPrefix(trimmed, "```") {
			end := -1
			for j := i + 1; j < len(b.lines); j++ {
				if strings.HasPrefix(strings.TrimSpace(b.lines[j].raw), "```") {
					end = j
					break
				}
			}
			if end < 0 {
				continue
			}
			b.claim(kindFence, block{kind: blockCode, start: i, end: end + 1, body: b.join(i+1, end)})
			i = end
			continue
		}

		if strings.HasPrefix(trimmed, "<pre>") {
			for j := i; j < len(b.lines); j++ {
				if !strings.Contains(b.lines[j].raw, "</pre>") {
					continue
				}
				region := strings.TrimSpace(b.join(i, j+1))
				if strings.HasSuffix(region, "</pre>") && strings.Count(region, "<pre>") == 1 {
					body := region[len("<pre>") : len(region)-len("</pre>")]
					b.claim(kindFence, block{kind: blockPre, start: i, end: j + 1, body: body})
					i = j
				}
				break
			}
		}
	}
	return b
}

// claimTables claims tabular runs among unclaimed lines. A run never crosses
// a blank line or a previously claimed line.
func claimTables(in buffer) buffer {
	b := in.clone()
	for i := 0; i < len(b.lines); {
		if !b.free(i) {
			i++
			continue
		}
		end := b.tabularRunAt(i)
		if end-i >= 2 {
			b.claim(kindFence, block{kind: blockTable, start: i, end: end, body: b.join(i, end)})
			i = end
			continue
		}
		i++
	}
	return b
}

// tabularRunAt returns the end of the tabular run starting at i, or i when
// none starts there.
func (b buffer) tabularRunAt(i int) int {
	n := len(b.lines)
	ok := func(j int) bool { return j < n && b.free(j) }

	// Header followed by a separator row.
	if ok(i+1) && isTableHeader(b.lines[i].raw) && isSeparatorRow(b.lines[i+1].raw) {
		j := i + 2
		for ok(j) && (strings.Contains(b.lines[j].raw, "|") || strings.Contains(b.lines[j].raw, "\t") || isSeparatorRow(b.lines[j].raw)) {
			j++
		}
		return j
	}

	// Every line carries the column separator.
	j := i
	for ok(j) && strings.Contains(b.lines[j].raw, "|") {
		j++
	}
	if j-i >= 2 {
		return j
	}

	// Same non-zero count of a secondary delimiter.
	for _, count := range []func(string) int{countTabs, countDelimiterCommas} {
		c := count(b.lines[i].raw)
		if c == 0 {
			continue
		}
		j := i + 1
		for ok(j) && count(b.lines[j].raw) == c {
			j++
		}
		if j-i >= 2 {
			return j
		}
	}
	return i
}

func isTableHeader(s string) bool {
	return !isSeparatorRow(s) && (strings.Contains(s, "|") || strings.Contains(s, "\t"))
}

// isSeparatorRow matches rows such as "---", "|---|:--:|" or "+----+----+".
func isSeparatorRow(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	dashes := 0
	for _, r := range t {
		switch r {
		case '-':
			dashes++
		case ':', '|', '+', ' ', '\t':
		default:
			return false
		}
	}
	return dashes > 0 && (dashes >= 3 || strings.ContainsAny(t, "|+"))
}

func countTabs(s string) int {
	return strings.Count(s, "\t")
}

// countDelimiterCommas counts commas used as field delimiters, i.e. not
// followed by whitespace the way prose punctuation is.
func countDelimiterCommas(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] != ',' {
			continue
		}
		if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' {
			n++
		}
	}
	return n
}
