package epub

import (
	"strings"
	"testing"
)

const sampleOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="bid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>T</dc:title>
    <dc:creator opf:role="aut">A. Author</dc:creator>
    <dc:description>About the book</dc:description>
    <dc:publisher>Pub House</dc:publisher>
    <dc:language>en</dc:language>
    <dc:identifier id="bid">urn:uuid:1234</dc:identifier>
    <meta name="cover" content="cov"/>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="nav" href="nav.xhtml" properties="nav" media-type="application/xhtml+xml"/>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="cov" href="images/cover.jpg" media-type="image/jpeg"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
  <guide>
    <reference type="cover" href="cover.xhtml"/>
  </guide>
</package>`

func TestParsePackageXML(t *testing.T) {
	log := testLogger(t)

	pkg, err := ParsePackageXML(sampleOPF, log)
	if err != nil {
		t.Fatalf("ParsePackageXML: %v", err)
	}

	md := pkg.Metadata
	if md.Title != "T" {
		t.Fatalf("title = %q", md.Title)
	}
	if md.Author != "A. Author" {
		t.Fatalf("author = %q", md.Author)
	}
	if md.Description != "About the book" || md.Publisher != "Pub House" || md.Language != "en" {
		t.Fatalf("optional metadata not parsed: %+v", md)
	}
	if md.ID != "urn:uuid:1234" {
		t.Fatalf("id = %q", md.ID)
	}

	if len(pkg.Manifest) != 5 {
		t.Fatalf("manifest items = %d", len(pkg.Manifest))
	}
	if len(pkg.Spine) != 2 || pkg.Spine[0] != "ch1" {
		t.Fatalf("spine = %v", pkg.Spine)
	}

	ncx, ok := pkg.NCXItem()
	if !ok || ncx.Href != "toc.ncx" {
		t.Fatalf("NCXItem = %+v, %v", ncx, ok)
	}
	nav, ok := pkg.NavItem()
	if !ok || nav.Href != "nav.xhtml" {
		t.Fatalf("NavItem = %+v, %v", nav, ok)
	}
	if pkg.metaCoverID != "cov" {
		t.Fatalf("metaCoverID = %q", pkg.metaCoverID)
	}
	if pkg.guideCover != "cover.xhtml" {
		t.Fatalf("guideCover = %q", pkg.guideCover)
	}
}

func TestParsePackageXMLRejectsWrongRoot(t *testing.T) {
	if _, err := ParsePackageXML(`<html/>`, testLogger(t)); err == nil {
		t.Fatal("expected error for non-package root")
	}
}

func TestNormalizeBookID(t *testing.T) {
	if got := normalizeBookID("isbn-1", "Some Title"); got != "isbn-1" {
		t.Fatalf("declared id not kept: %q", got)
	}
	if got := normalizeBookID("", "Some Title"); got != "some-title" {
		t.Fatalf("slug id = %q, want %q", got, "some-title")
	}
	got := normalizeBookID("", "")
	if got == "" {
		t.Fatal("anonymous book got empty id")
	}
	if strings.Contains(got, " ") {
		t.Fatalf("generated id contains spaces: %q", got)
	}
}

func TestNCXItemFallsBackToMediaType(t *testing.T) {
	opf := `<package version="2.0">
  <metadata><title>X</title></metadata>
  <manifest>
    <item id="t" href="x.ncx" media-type="application/x-dtbncx+xml"/>
  </manifest>
  <spine/>
</package>`
	pkg, err := ParsePackageXML(opf, testLogger(t))
	if err != nil {
		t.Fatalf("ParsePackageXML: %v", err)
	}
	item, ok := pkg.NCXItem()
	if !ok || item.Href != "x.ncx" {
		t.Fatalf("NCXItem fallback = %+v, %v", item, ok)
	}
	if _, ok := pkg.NavItem(); ok {
		t.Fatal("unexpected nav item")
	}
}
