package archive

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func buildZip(t *testing.T, files map[string]string) []byte {
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
	return buf.Bytes()
}

func TestNewIndexRejectsGarbage(t *testing.T) {
	if _, err := NewIndex([]byte("not a zip at all")); err == nil {
		t.Fatal("expected error for non-zip input")
	}
}

func TestLookupVariants(t *testing.T) {
	data := buildZip(t, map[string]string{
		"OEBPS/content.opf":    "<package/>",
		"OEBPS/ch 1.xhtml":     "<html/>",
		"OEBPS/images/pic.png": "PNG",
	})
	idx, err := NewIndex(data)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"exact", "OEBPS/content.opf", "OEBPS/content.opf"},
		{"leading slash", "/OEBPS/content.opf", "OEBPS/content.opf"},
		{"missing prefix", "content.opf", "OEBPS/content.opf"},
		{"nested suffix", "images/pic.png", "OEBPS/images/pic.png"},
		{"percent encoded", "OEBPS/ch%201.xhtml", "OEBPS/ch 1.xhtml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := idx.Lookup(tc.path)
			if !ok {
				t.Fatalf("Lookup(%q) missed", tc.path)
			}
			if e.Path != tc.want {
				t.Fatalf("Lookup(%q) = %q, want %q", tc.path, e.Path, tc.want)
			}
		})
	}
}

func TestLookupAllStoredPathsResolveSameEntry(t *testing.T) {
	data := buildZip(t, map[string]string{
		"OEBPS/a.xhtml":  "A",
		"OEBPS/b/c.png":  "C",
		"mimetype":       "application/epub+zip",
		"META-INF/x.xml": "<x/>",
	})
	idx, err := NewIndex(data)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	if err := idx.Walk("", func(e *Entry) error {
		for _, p := range []string{e.Path, "/" + e.Path} {
			got, ok := idx.Lookup(p)
			if !ok || got != e {
				t.Fatalf("Lookup(%q) did not resolve stored entry %q", p, e.Path)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
}

func TestLookupMissIsNotAnError(t *testing.T) {
	idx, err := NewIndex(buildZip(t, map[string]string{"a.txt": "a"}))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if _, ok := idx.Lookup("nope.txt"); ok {
		t.Fatal("expected miss for absent path")
	}
	if _, ok := idx.Lookup(""); ok {
		t.Fatal("expected miss for empty path")
	}
}

func TestUnsafeEntriesSkipped(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"../escape.txt", "/abs.txt", "ok.txt"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte("x")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	idx, err := NewIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected only safe entry indexed, got %d", idx.Len())
	}
	if _, ok := idx.Lookup("ok.txt"); !ok {
		t.Fatal("safe entry should be present")
	}
}

func TestEntrySizeLimit(t *testing.T) {
	data := buildZip(t, map[string]string{"big.txt": strings.Repeat("a", 100)})
	idx, err := NewIndex(data, WithMaxEntrySize(10))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	e, ok := idx.Lookup("big.txt")
	if !ok {
		t.Fatal("entry missing")
	}
	if _, err := e.Bytes(); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestEntryTextStripsBOM(t *testing.T) {
	data := buildZip(t, map[string]string{"bom.xhtml": "\xEF\xBB\xBF<html/>"})
	idx, err := NewIndex(data)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	e, _ := idx.Lookup("bom.xhtml")
	text, err := e.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "<html/>" {
		t.Fatalf("Text = %q, want %q", text, "<html/>")
	}
}

func TestForcedNameEncoding(t *testing.T) {
	raw, err := charmap.Windows1251.NewEncoder().String("глава.xhtml")
	if err != nil {
		t.Fatalf("encode name: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: raw, NonUTF8: true})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte("<html/>")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	idx, err := NewIndex(buf.Bytes(), WithNameEncoding(charmap.Windows1251))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if _, ok := idx.Lookup("глава.xhtml"); !ok {
		t.Fatal("decoded entry name not found")
	}

	// Without the option the stored name stays undecoded.
	idx, err = NewIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if _, ok := idx.Lookup("глава.xhtml"); ok {
		t.Fatal("lookup should miss without forced encoding")
	}
}
