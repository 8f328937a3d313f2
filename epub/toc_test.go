package epub

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller()))
}

const sampleNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="np3" playOrder="3">
      <navLabel><text>Third</text></navLabel>
      <content src="ch3.xhtml"/>
    </navPoint>
    <navPoint id="np1" playOrder="1">
      <navLabel><text>First</text></navLabel>
      <content src="ch1.xhtml"/>
      <navPoint id="np1b" playOrder="5">
        <navLabel><text>First B</text></navLabel>
        <content src="ch1.xhtml#b"/>
      </navPoint>
      <navPoint id="np1a" playOrder="4">
        <navLabel><text>First A</text></navLabel>
        <content src="ch1.xhtml#a"/>
      </navPoint>
    </navPoint>
    <navPoint id="np2" playOrder="2">
      <navLabel><text>Second</text></navLabel>
      <content src="ch2.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

const sampleNav = `<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="one.xhtml">One</a></li>
      <li><a href="two.xhtml">Two</a>
        <ol><li><a href="two.xhtml#s1">Two One</a></li></ol>
      </li>
    </ol>
  </nav>
</body>
</html>`

func TestBuildTOCFromNCX(t *testing.T) {
	log := testLogger(t)

	nodes := BuildTOC(&TocSource{Path: "OEBPS/toc.ncx", Text: sampleNCX}, nil, "OEBPS/", log)
	if len(nodes) != 3 {
		t.Fatalf("expected 3 top level nodes, got %d", len(nodes))
	}

	wantTitles := []string{"First", "Second", "Third"}
	for i, want := range wantTitles {
		if nodes[i].Title != want {
			t.Fatalf("node %d title = %q, want %q", i, nodes[i].Title, want)
		}
	}

	if nodes[0].Href != "OEBPS/ch1.xhtml" {
		t.Fatalf("href not resolved against toc location: %q", nodes[0].Href)
	}
	if nodes[0].Level != 0 {
		t.Fatalf("top level node has level %d", nodes[0].Level)
	}

	children := nodes[0].Children
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Title != "First A" || children[1].Title != "First B" {
		t.Fatalf("children not sorted by play order: %q, %q", children[0].Title, children[1].Title)
	}
	if children[0].Level != 1 {
		t.Fatalf("child has level %d, want 1", children[0].Level)
	}
}

func TestBuildTOCFallsBackToNavDoc(t *testing.T) {
	log := testLogger(t)

	emptyNCX := `<?xml version="1.0"?><ncx><navMap/></ncx>`
	nodes := BuildTOC(
		&TocSource{Path: "OEBPS/toc.ncx", Text: emptyNCX},
		&TocSource{Path: "OEBPS/nav.xhtml", Text: sampleNav},
		"OEBPS/", log)

	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes from nav fallback, got %d", len(nodes))
	}
	if nodes[0].Title != "One" || nodes[0].Href != "OEBPS/one.xhtml" {
		t.Fatalf("unexpected first node: %+v", nodes[0])
	}
	if len(nodes[1].Children) != 1 || nodes[1].Children[0].Title != "Two One" {
		t.Fatalf("nested nav entries not parsed: %+v", nodes[1].Children)
	}
	if nodes[1].Children[0].Level != 1 {
		t.Fatalf("nested nav level = %d, want 1", nodes[1].Children[0].Level)
	}
}

func TestBuildTOCExhaustedIsEmptyNotNil(t *testing.T) {
	log := testLogger(t)

	nodes := BuildTOC(
		&TocSource{Path: "bad.ncx", Text: "definitely not xml <<<"},
		&TocSource{Path: "bad.xhtml", Text: "<html><body><p>no nav here</p></body></html>"},
		"", log)
	if nodes == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes, got %d", len(nodes))
	}
}

func TestBuildTOCStableOrderWithoutPlayOrder(t *testing.T) {
	log := testLogger(t)

	ncx := `<?xml version="1.0"?>
<ncx><navMap>
  <navPoint id="a"><navLabel><text>A</text></navLabel><content src="a.xhtml"/></navPoint>
  <navPoint id="b"><navLabel><text>B</text></navLabel><content src="b.xhtml"/></navPoint>
  <navPoint id="c"><navLabel><text>C</text></navLabel><content src="c.xhtml"/></navPoint>
</navMap></ncx>`

	nodes := BuildTOC(&TocSource{Path: "toc.ncx", Text: ncx}, nil, "", log)
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	for i, want := range []string{"A", "B", "C"} {
		if nodes[i].Title != want {
			t.Fatalf("document order not preserved: node %d = %q", i, nodes[i].Title)
		}
	}
}
