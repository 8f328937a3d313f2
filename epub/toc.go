package epub

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TocSource is one on-disk TOC representation ready for parsing. Path is the
// archive location of the document itself, used to resolve relative hrefs.
type TocSource struct {
	Path string
	Text string
}

// BuildTOC builds the ordered hierarchical table of contents. The legacy
// hierarchical format (navigation points with explicit play order) is
// preferred; when it is absent or yields zero nodes the flat navigation
// document is used instead. Exhausting both is not fatal - the book stays
// readable with an empty TOC.
func BuildTOC(ncx, nav *TocSource, base string, log *zap.Logger) []*TocNode {
	if ncx != nil {
		if nodes := parseNCX(ncx, base, log); len(nodes) > 0 {
			return nodes
		}
	}
	if nav != nil {
		if nodes := parseNavDoc(nav, base, log); len(nodes) > 0 {
			return nodes
		}
	}
	log.Warn("No usable table of contents in archive")
	return []*TocNode{}
}

// --- legacy hierarchical format ---

func parseNCX(src *TocSource, base string, log *zap.Logger) []*TocNode {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src.Text); err != nil {
		log.Warn("Unable to parse navigation points", zap.String("path", src.Path), zap.Error(err))
		return nil
	}
	root := doc.Root()
	if root == nil {
		return nil
	}

	navMap := root.FindElement("navMap")
	if navMap == nil {
		log.Warn("Navigation document has no navMap", zap.String("path", src.Path))
		return nil
	}

	nodes := parseNavPoints(navMap, src.Path, base, 0)
	sortSiblings(nodes)
	return nodes
}

func parseNavPoints(parent *etree.Element, ncxPath, base string, level int) []*TocNode {
	var nodes []*TocNode
	for _, el := range parent.ChildElements() {
		if el.Tag != "navPoint" {
			continue
		}

		node := &TocNode{
			ID:    el.SelectAttrValue("id", ""),
			Level: level,
		}
		if node.ID == "" {
			node.ID = uuid.NewString()
		}
		if v, err := strconv.Atoi(strings.TrimSpace(el.SelectAttrValue("playOrder", ""))); err == nil {
			node.PlayOrder = v
		}
		if label := el.FindElement("navLabel/text"); label != nil {
			node.Title = strings.TrimSpace(label.Text())
		}
		if content := el.FindElement("content"); content != nil {
			if src := strings.TrimSpace(content.SelectAttrValue("src", "")); src != "" {
				node.Href = ResolveHref(src, base, ncxPath)
			}
		}
		node.Children = parseNavPoints(el, ncxPath, base, level+1)

		nodes = append(nodes, node)
	}
	return nodes
}

// sortSiblings orders every sibling list by play order ascending. The sort
// is stable so entries without an explicit order keep document order.
func sortSiblings(nodes []*TocNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].PlayOrder < nodes[j].PlayOrder
	})
	for _, n := range nodes {
		sortSiblings(n.Children)
	}
}

// --- flat navigation document ---

func parseNavDoc(src *TocSource, base string, log *zap.Logger) []*TocNode {
	doc, err := html.Parse(strings.NewReader(src.Text))
	if err != nil {
		log.Warn("Unable to parse navigation document", zap.String("path", src.Path), zap.Error(err))
		return nil
	}

	nav := findTocNav(doc)
	if nav == nil {
		return nil
	}
	ol := findDescendant(nav, atom.Ol)
	if ol == nil {
		return nil
	}
	return parseNavList(ol, src.Path, base, 0)
}

// findTocNav returns the nav element marked epub:type="toc", or the first
// nav element when none is marked.
func findTocNav(doc *html.Node) *html.Node {
	var first, marked *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if marked != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			if first == nil {
				first = n
			}
			for _, t := range strings.Fields(nodeAttr(n, "epub:type")) {
				if t == "toc" {
					marked = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if marked != nil {
		return marked
	}
	return first
}

func parseNavList(ol *html.Node, navPath, base string, level int) []*TocNode {
	var nodes []*TocNode
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		node := &TocNode{ID: uuid.NewString(), Level: level}
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.A:
				if node.Href == "" {
					if href := nodeAttr(c, "href"); href != "" {
						node.Href = ResolveHref(href, base, navPath)
					}
					node.Title = strings.TrimSpace(nodeText(c))
				}
			case atom.Span:
				if node.Title == "" {
					node.Title = strings.TrimSpace(nodeText(c))
				}
			case atom.Ol:
				node.Children = parseNavList(c, navPath, base, level+1)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func findDescendant(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findDescendant(c, a); found != nil {
			return found
		}
	}
	return nil
}
