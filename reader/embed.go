package reader

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/semaphore"

	"ebr/epub"
)

// imageRef is one image element found in chapter markup, with the attribute
// that names its source.
type imageRef struct {
	node *html.Node
	attr int
	src  string
}

// embedImages extracts the inner body content of chapter markup and rewrites
// its image references to resource handles, one handle per unique source.
// The result is always the body fragment, with or without images. Binary
// decodes run under a bounded window to cap peak memory - chapters with
// hundreds of images must not decode them all at once. Misses leave the
// element untouched and never abort the rest of the chapter.
func (s *Session) embedImages(ctx context.Context, markup, chapterPath string) (string, []*Handle, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// Not parseable as a fragment - leave markup alone.
		s.log.Warn("Unable to parse chapter markup for image embedding",
			zap.String("chapter", chapterPath), zap.Error(err))
		return markup, nil, nil
	}

	refs := collectImageRefs(doc)
	if len(refs) == 0 {
		return renderBody(doc), nil, nil
	}

	// Deduplicate by source string: two identical references inside one
	// chapter share a single handle.
	order := make([]string, 0, len(refs))
	bySrc := make(map[string][]imageRef)
	for _, r := range refs {
		if strings.HasPrefix(r.src, "data:") {
			continue
		}
		if _, seen := bySrc[r.src]; !seen {
			order = append(order, r.src)
		}
		bySrc[r.src] = append(bySrc[r.src], r)
	}
	if len(order) == 0 {
		return renderBody(doc), nil, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = semaphore.NewWeighted(int64(s.workers))
		handles = make(map[string]*Handle, len(order))
	)

	for _, src := range order {
		resolved := epub.ResolveHref(src, s.book.Base, chapterPath)
		entry, ok := s.idx.Lookup(resolved)
		if !ok {
			s.log.Warn("Image not found in archive, leaving reference unresolved",
				zap.String("chapter", chapterPath), zap.String("src", src), zap.String("resolved", resolved))
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break // context gone, stop scheduling more work
		}
		wg.Add(1)
		go func(src string, entry entryReader, path string) {
			defer wg.Done()
			defer sem.Release(1)

			data, err := entry.Bytes()
			if err != nil {
				s.log.Warn("Unable to decode image payload",
					zap.String("chapter", chapterPath), zap.String("path", path), zap.Error(err))
				return
			}
			h := newHandle(path, epub.SniffImageType(data, path), data)
			mu.Lock()
			handles[src] = h
			mu.Unlock()
		}(src, entry, entry.Path)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return markup, nil, err
	}

	created := make([]*Handle, 0, len(handles))
	for _, src := range order {
		h, ok := handles[src]
		if !ok {
			continue
		}
		created = append(created, h)
		s.handles.register(h)
		for _, r := range bySrc[src] {
			r.node.Attr[r.attr].Val = h.Ref()
		}
	}

	return renderBody(doc), created, nil
}

// entryReader is the slice of archive.Entry the embedder needs, split out so
// tests can substitute failing payloads.
type entryReader interface {
	Bytes() ([]byte, error)
}

// collectImageRefs enumerates img and svg image elements in document order.
func collectImageRefs(doc *html.Node) []imageRef {
	var refs []imageRef
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				if i := attrIndex(n, "", "src"); i >= 0 && n.Attr[i].Val != "" {
					refs = append(refs, imageRef{node: n, attr: i, src: n.Attr[i].Val})
				}
			case atom.Image:
				i := attrIndex(n, "xlink", "href")
				if i < 0 {
					i = attrIndex(n, "", "href")
				}
				if i >= 0 && n.Attr[i].Val != "" {
					refs = append(refs, imageRef{node: n, attr: i, src: n.Attr[i].Val})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return refs
}

func attrIndex(n *html.Node, namespace, key string) int {
	for i, a := range n.Attr {
		if namespace == "" {
			if a.Namespace == "" && a.Key == key {
				return i
			}
			continue
		}
		if (a.Namespace == namespace && a.Key == key) || a.Key == namespace+":"+key {
			return i
		}
	}
	return -1
}

// renderBody renders the inner content of the parsed document's body.
func renderBody(doc *html.Node) string {
	body := findBody(doc)
	if body == nil {
		return ""
	}
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(buf.String())
}

// findBody locates the body element, tolerating documents where the parser
// kept a namespaced or foreign body-tagged descendant instead of a
// conventional one.
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		if n.DataAtom == atom.Body {
			return n
		}
		if local := n.Data; strings.EqualFold(localName(local), "body") {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}

func localName(tag string) string {
	if i := strings.LastIndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
