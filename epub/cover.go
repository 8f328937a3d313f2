package epub

import (
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ebr/archive"
)

// FindCover extracts the declared cover image, trying strategies in priority
// order: the cover-image manifest property, the legacy meta name="cover"
// pointer, the guide reference and finally a name heuristic. A missing cover
// is not an error, the book simply has none.
func FindCover(idx *archive.Index, pkg *Package, base string, log *zap.Logger) *CoverImage {
	if item, ok := coverFromProperties(pkg); ok {
		if c := loadCover(idx, item.Href, item.MediaType, base); c != nil {
			return c
		}
	}
	if href, mt, ok := coverFromMeta(idx, pkg, base); ok {
		if c := loadCover(idx, href, mt, base); c != nil {
			return c
		}
	}
	if href, ok := coverFromGuide(idx, pkg, base); ok {
		if c := loadCover(idx, href, "", base); c != nil {
			return c
		}
	}
	if item, ok := coverFromHeuristic(pkg); ok {
		if c := loadCover(idx, item.Href, item.MediaType, base); c != nil {
			return c
		}
	}
	log.Debug("No cover declared in package")
	return nil
}

func coverFromProperties(pkg *Package) (*ManifestItem, bool) {
	for i := range pkg.Manifest {
		for _, prop := range strings.Fields(pkg.Manifest[i].Properties) {
			if prop == "cover-image" {
				return &pkg.Manifest[i], true
			}
		}
	}
	return nil, false
}

func coverFromMeta(idx *archive.Index, pkg *Package, base string) (string, string, bool) {
	if pkg.metaCoverID == "" {
		return "", "", false
	}
	item, ok := pkg.byID[pkg.metaCoverID]
	if !ok {
		return "", "", false
	}
	if isImageMediaType(item.MediaType) {
		return item.Href, item.MediaType, true
	}
	// Pointer to an XHTML cover page, take its first image.
	if href, ok := firstImageInDocument(idx, item.Href, base); ok {
		return href, "", true
	}
	return "", "", false
}

func coverFromGuide(idx *archive.Index, pkg *Package, base string) (string, bool) {
	if pkg.guideCover == "" {
		return "", false
	}
	if isImagePath(pkg.guideCover) {
		return pkg.guideCover, true
	}
	return firstImageInDocument(idx, pkg.guideCover, base)
}

func coverFromHeuristic(pkg *Package) (*ManifestItem, bool) {
	for i := range pkg.Manifest {
		item := &pkg.Manifest[i]
		if !isImageMediaType(item.MediaType) {
			continue
		}
		if strings.Contains(strings.ToLower(item.ID), "cover") ||
			strings.Contains(strings.ToLower(item.Href), "cover") {
			return item, true
		}
	}
	return nil, false
}

// firstImageInDocument parses an XHTML page and returns the archive path of
// its first img or svg image element.
func firstImageInDocument(idx *archive.Index, href, base string) (string, bool) {
	pagePath := ResolveHref(href, base, "")
	e, ok := idx.Lookup(pagePath)
	if !ok {
		return "", false
	}
	text, err := e.Text()
	if err != nil {
		return "", false
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", false
	}

	var src string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if src != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				src = nodeAttr(n, "src")
			case atom.Image:
				src = imageHrefAttr(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if src == "" {
		return "", false
	}
	return ResolveHref(src, base, pagePath), true
}

// imageHrefAttr reads the source of an svg image element, tolerating both
// parsed-namespace and literal "xlink:href" attribute forms.
func imageHrefAttr(n *html.Node) string {
	for _, a := range n.Attr {
		if (a.Namespace == "xlink" && a.Key == "href") || a.Key == "xlink:href" {
			return a.Val
		}
	}
	return nodeAttr(n, "href")
}

func loadCover(idx *archive.Index, href, mediaType, base string) *CoverImage {
	p := ResolveHref(href, base, "")
	e, ok := idx.Lookup(p)
	if !ok {
		return nil
	}
	data, err := e.Bytes()
	if err != nil || len(data) == 0 {
		return nil
	}
	if mediaType == "" {
		mediaType = SniffImageType(data, p)
	}
	return &CoverImage{Path: e.Path, MediaType: mediaType, Data: data}
}

func isImageMediaType(mt string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mt)), "image/")
}

func isImagePath(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SniffImageType determines media type from payload magic, falling back to
// the file extension for SVG which has no magic bytes.
func SniffImageType(data []byte, p string) string {
	if filetype.IsImage(data) {
		if t, err := filetype.Match(data); err == nil && t != filetype.Unknown {
			return t.MIME.Value
		}
	}
	if strings.HasSuffix(strings.ToLower(p), ".svg") {
		return "image/svg+xml"
	}
	return "application/octet-stream"
}
