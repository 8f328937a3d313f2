package epub

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// ManifestItem is a single entry of the package manifest file list.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// Package is the parsed package manifest: metadata, file list and reading
// order, plus the bits needed to locate TOC sources and the cover.
type Package struct {
	Version  string
	Metadata Metadata
	Manifest []ManifestItem
	Spine    []string // idrefs in reading order
	SpineToc string   // id of the NCX declared on the spine

	byID        map[string]*ManifestItem
	metaCoverID string
	guideCover  string
}

// ParsePackageXML walks the etree DOM of an OPF document and constructs the
// typed representation. Unexpected elements are ignored with a debug note,
// old packaging tools produce all kinds of extras.
func ParsePackageXML(text string, log *zap.Logger) (*Package, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil, fmt.Errorf("unable to parse package manifest: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("package manifest has no root element")
	}
	if root.Tag != "package" {
		return nil, fmt.Errorf("unexpected root element %q", root.Tag)
	}

	pkg := &Package{
		Version: root.SelectAttrValue("version", ""),
		byID:    make(map[string]*ManifestItem),
	}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "metadata":
			pkg.parseMetadata(child)
		case "manifest":
			pkg.parseManifest(child)
		case "spine":
			pkg.parseSpine(child)
		case "guide":
			pkg.parseGuide(child)
		default:
			log.Debug("Unexpected tag in package, ignoring", zap.String("tag", child.Tag))
		}
	}

	pkg.Metadata.ID = normalizeBookID(pkg.Metadata.ID, pkg.Metadata.Title)
	return pkg, nil
}

func (pkg *Package) parseMetadata(md *etree.Element) {
	for _, el := range md.ChildElements() {
		text := strings.TrimSpace(el.Text())
		switch el.Tag {
		case "title":
			if pkg.Metadata.Title == "" {
				pkg.Metadata.Title = text
			}
		case "creator":
			if pkg.Metadata.Author == "" {
				pkg.Metadata.Author = text
			}
		case "description":
			if pkg.Metadata.Description == "" {
				pkg.Metadata.Description = text
			}
		case "publisher":
			if pkg.Metadata.Publisher == "" {
				pkg.Metadata.Publisher = text
			}
		case "language":
			if pkg.Metadata.Language == "" {
				pkg.Metadata.Language = text
			}
		case "identifier":
			if pkg.Metadata.ID == "" {
				pkg.Metadata.ID = text
			}
		case "meta":
			if strings.EqualFold(el.SelectAttrValue("name", ""), "cover") {
				pkg.metaCoverID = el.SelectAttrValue("content", "")
			}
		}
	}
}

func (pkg *Package) parseManifest(mf *etree.Element) {
	for _, el := range mf.ChildElements() {
		if el.Tag != "item" {
			continue
		}
		item := ManifestItem{
			ID:         el.SelectAttrValue("id", ""),
			Href:       el.SelectAttrValue("href", ""),
			MediaType:  el.SelectAttrValue("media-type", ""),
			Properties: el.SelectAttrValue("properties", ""),
		}
		if item.Href == "" {
			continue
		}
		pkg.Manifest = append(pkg.Manifest, item)
		if item.ID != "" {
			if _, dup := pkg.byID[item.ID]; !dup {
				pkg.byID[item.ID] = &pkg.Manifest[len(pkg.Manifest)-1]
			}
		}
	}
}

func (pkg *Package) parseSpine(sp *etree.Element) {
	pkg.SpineToc = sp.SelectAttrValue("toc", "")
	for _, el := range sp.ChildElements() {
		if el.Tag != "itemref" {
			continue
		}
		if idref := el.SelectAttrValue("idref", ""); idref != "" {
			pkg.Spine = append(pkg.Spine, idref)
		}
	}
}

func (pkg *Package) parseGuide(g *etree.Element) {
	for _, el := range g.ChildElements() {
		if el.Tag != "reference" {
			continue
		}
		if strings.EqualFold(el.SelectAttrValue("type", ""), "cover") {
			pkg.guideCover = el.SelectAttrValue("href", "")
		}
	}
}

// ItemByID returns the manifest item with the given id.
func (pkg *Package) ItemByID(id string) (*ManifestItem, bool) {
	item, ok := pkg.byID[id]
	return item, ok
}

// NCXItem returns the manifest item holding the legacy hierarchical TOC.
// Spine toc reference wins, media-type scan is the fallback.
func (pkg *Package) NCXItem() (*ManifestItem, bool) {
	if pkg.SpineToc != "" {
		if item, ok := pkg.byID[pkg.SpineToc]; ok {
			return item, true
		}
	}
	for i := range pkg.Manifest {
		if strings.EqualFold(pkg.Manifest[i].MediaType, "application/x-dtbncx+xml") {
			return &pkg.Manifest[i], true
		}
	}
	return nil, false
}

// NavItem returns the manifest item holding the flat navigation document.
func (pkg *Package) NavItem() (*ManifestItem, bool) {
	for i := range pkg.Manifest {
		for _, prop := range strings.Fields(pkg.Manifest[i].Properties) {
			if prop == "nav" {
				return &pkg.Manifest[i], true
			}
		}
	}
	return nil, false
}

// normalizeBookID produces a stable process-independent book id. Declared
// identifiers win; books without one get a slug of the title so re-opening
// the same file maps to the same library record, and only truly anonymous
// books get a random id.
func normalizeBookID(declared, title string) string {
	if id := strings.TrimSpace(declared); id != "" {
		return id
	}
	if s := slug.Make(title); s != "" {
		return s
	}
	return uuid.NewString()
}
