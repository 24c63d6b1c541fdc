package pipeline

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Document is a fetched web page. Body is kept exactly as received; the
// snapshot holds what could be derived from it.
type Document struct {
	URL      string
	Body     string
	Snapshot Snapshot
}

type Link struct {
	URL   string
	Label string
}

// Snapshot is a best-effort structural scan of a page. A field that could
// not be derived is nil, never a guess.
type Snapshot struct {
	Title       *string
	Description *string
	// Text is the body reduced to a small set of structural tags.
	Text   *string
	Links  []Link
	Images []string
	Tables []string
	Code   []string
}

var simplifyPolicy = newSimplifyPolicy()

func newSimplifyPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"strong", "b", "em", "i", "br",
		"blockquote", "pre", "code",
	)
	return p
}

// Scan parses body and extracts the snapshot fields. Relative links and
// image sources are resolved against base when it is set.
func Scan(body string, base *url.URL) Snapshot {
	var snap Snapshot
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return snap
	}

	snap.Title = nonEmpty(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		snap.Description = nonEmpty(desc)
	}
	if snap.Description == nil {
		if desc, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
			snap.Description = nonEmpty(desc)
		}
	}

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	if inner, err := root.Html(); err == nil {
		snap.Text = nonEmpty(collapseBlankLines(simplifyPolicy.Sanitize(inner)))
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target := resolve(base, href)
		if target == "" || seen[target] {
			return
		}
		seen[target] = true
		snap.Links = append(snap.Links, Link{URL: target, Label: strings.Join(strings.Fields(sel.Text()), " ")})
	})

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if target := resolve(base, src); target != "" {
			snap.Images = append(snap.Images, target)
		}
	})

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) > 0 {
			snap.Tables = append(snap.Tables, strings.Join(rows, "\n"))
		}
	})

	doc.Find("pre").Each(func(_ int, sel *goquery.Selection) {
		if code := strings.TrimSpace(sel.Text()); code != "" {
			snap.Code = append(snap.Code, code)
		}
	})
	doc.Find("code").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		return sel.ParentsFiltered("pre").Length() == 0
	}).Each(func(_ int, sel *goquery.Selection) {
		if code := strings.TrimSpace(sel.Text()); code != "" {
			snap.Code = append(snap.Code, code)
		}
	})

	return snap
}

// Labels maps each link target to its anchor text, for naming bare URLs.
func (s Snapshot) Labels() map[string]string {
	if len(s.Links) == 0 {
		return nil
	}
	labels := make(map[string]string, len(s.Links))
	for _, l := range s.Links {
		if l.Label != "" {
			labels[l.URL] = l.Label
		}
	}
	return labels
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func collapseBlankLines(s string) string {
	var out []string
	blank := false
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
