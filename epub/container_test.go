package epub

import (
	"archive/zip"
	"bytes"
	"testing"

	"ebr/archive"
)

func buildArchive(t *testing.T, files map[string]string) *archive.Index {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	idx, err := archive.NewIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

const sampleContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func TestRootfilePath(t *testing.T) {
	idx := buildArchive(t, map[string]string{
		"META-INF/container.xml": sampleContainer,
		"OEBPS/content.opf":      "<package/>",
	})
	p, err := RootfilePath(idx, testLogger(t))
	if err != nil {
		t.Fatalf("RootfilePath: %v", err)
	}
	if p != "OEBPS/content.opf" {
		t.Fatalf("rootfile = %q", p)
	}
}

func TestRootfilePathFallsBackToScan(t *testing.T) {
	idx := buildArchive(t, map[string]string{
		"content/book.opf": "<package/>",
		"content/ch1.html": "<html/>",
	})
	p, err := RootfilePath(idx, testLogger(t))
	if err != nil {
		t.Fatalf("RootfilePath: %v", err)
	}
	if p != "content/book.opf" {
		t.Fatalf("rootfile = %q", p)
	}
}

func TestRootfilePathNoManifest(t *testing.T) {
	idx := buildArchive(t, map[string]string{"a.txt": "x"})
	if _, err := RootfilePath(idx, testLogger(t)); err == nil {
		t.Fatal("expected error when no manifest present")
	}
}

func TestBaseDir(t *testing.T) {
	tests := []struct{ rootfile, want string }{
		{"OEBPS/content.opf", "OEBPS/"},
		{"content.opf", ""},
		{"a/b/pkg.opf", "a/b/"},
	}
	for _, tc := range tests {
		if got := BaseDir(tc.rootfile); got != tc.want {
			t.Fatalf("BaseDir(%q) = %q, want %q", tc.rootfile, got, tc.want)
		}
	}
}
