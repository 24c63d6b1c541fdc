package pipeline

import (
	"fmt"
	"strings"

	"github.com/set-night/scrapebot/internal/domain"
)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

// HistoryXML renders history, newest first, as a <messages> block. Ids count
// down to 0 so the newest turn carries the highest id. Empty sides and the
// no-history sentinel produce no element.
func HistoryXML(entries []domain.HistoryEntry) string {
	type item struct {
		role string
		text string
	}
	var items []item
	for _, e := range entries {
		if e.IsSentinel() {
			continue
		}
		if e.Content != nil {
			if t := strings.TrimSpace(*e.Content); t != "" {
				items = append(items, item{"user", t})
			}
		}
		if e.Response != nil {
			if t := strings.TrimSpace(*e.Response); t != "" {
				items = append(items, item{"assistant", t})
			}
		}
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString("<messages>\n")
	for i, it := range items {
		fmt.Fprintf(&b, "  <message id=\"%d\" role=\"%s\">%s</message>\n", len(items)-1-i, it.role, xmlEscaper.Replace(it.text))
	}
	b.WriteString("</messages>\n")
	return b.String()
}
