package epub

import (
	"fmt"
	"strings"
)

type outlineWriter struct {
	w *strings.Builder
}

func (ow outlineWriter) line(depth int, format string, args ...any) {
	for range depth {
		ow.w.WriteString("  ")
	}
	fmt.Fprintf(ow.w, format, args...)
	ow.w.WriteByte('\n')
}

// Outline renders the TOC tree as an indented text listing, one node per
// line. With hrefs enabled each line also shows the document the node
// points at.
func Outline(nodes []*TocNode, hrefs bool) string {
	ow := outlineWriter{w: &strings.Builder{}}

	var walk func(nodes []*TocNode)
	walk = func(nodes []*TocNode) {
		for _, n := range nodes {
			title := n.Title
			if title == "" {
				title = "(untitled)"
			}
			if hrefs && n.Href != "" {
				ow.line(n.Level, "%s -> %s", title, n.Href)
			} else {
				ow.line(n.Level, "%s", title)
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return ow.w.String()
}
