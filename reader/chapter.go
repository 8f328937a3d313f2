package reader

import (
	"context"
	"fmt"
	"html"
	"path"
	"strings"

	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ebr/archive"
	"ebr/epub"
)

// resolveContent loads, extracts and embeds a chapter's markup exactly once
// per normalized href. Failures never propagate as errors - a chapter whose
// document is missing or empty resolves to placeholder markup, so the book
// stays readable around the hole.
func (s *Session) resolveContent(ctx context.Context, href, title string) (string, error) {
	key := epub.ResolveHref(href, "", "")

	s.mu.Lock()
	if s.resolved == nil {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if content, ok := s.resolved[key]; ok {
		s.mu.Unlock()
		return content, nil
	}
	s.mu.Unlock()

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		markup, err := s.loadChapterMarkup(ctx, key, title)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.resolved != nil {
			s.resolved[key] = markup
		}
		s.mu.Unlock()
		return markup, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) loadChapterMarkup(ctx context.Context, p, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry, ok := s.idx.Lookup(p)
	if !ok {
		s.log.Warn("Chapter document missing from archive",
			zap.String("title", title), zap.String("path", p))
		return placeholderMarkup(title), nil
	}

	text, err := entry.Text()
	if err != nil {
		s.log.Warn("Unable to read chapter document",
			zap.String("title", title), zap.String("path", entry.Path), zap.Error(err))
		return placeholderMarkup(title), nil
	}
	if strings.TrimSpace(text) == "" {
		s.log.Warn("Chapter document is empty",
			zap.String("title", title), zap.String("path", entry.Path))
		return placeholderMarkup(title), nil
	}

	markup, handles, err := s.embedImages(ctx, text, entry.Path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(markup) == "" {
		s.log.Warn("Chapter document has no body content",
			zap.String("title", title), zap.String("path", entry.Path))
		return placeholderMarkup(title), nil
	}

	s.log.Debug("Chapter resolved",
		zap.String("path", entry.Path), zap.Int("images", len(handles)))
	return markup, nil
}

func placeholderMarkup(title string) string {
	if title == "" {
		title = "Untitled chapter"
	}
	return fmt.Sprintf(`<p class="chapter-unavailable">Content unavailable: %s</p>`, html.EscapeString(title))
}

// documentTitle extracts a display title from a chapter document, preferring
// the document title element, then the first heading, then the filename.
func documentTitle(entry *archive.Entry) string {
	if text, err := entry.Text(); err == nil {
		if doc, err := xhtml.Parse(strings.NewReader(text)); err == nil {
			if t := findDocumentText(doc, atom.Title); t != "" {
				return t
			}
			for _, a := range []atom.Atom{atom.H1, atom.H2, atom.H3} {
				if t := findDocumentText(doc, a); t != "" {
					return t
				}
			}
		}
	}
	name := path.Base(entry.Path)
	return strings.TrimSuffix(name, path.Ext(name))
}

func findDocumentText(n *xhtml.Node, a atom.Atom) string {
	if n.Type == xhtml.ElementNode && n.DataAtom == a {
		return strings.TrimSpace(nodeInnerText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findDocumentText(c, a); t != "" {
			return t
		}
	}
	return ""
}

func nodeInnerText(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
