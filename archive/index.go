// Package archive builds tolerant entry lookup on top of "archive/zip".
//
// EPUB authoring tools disagree on how entry paths are stored: some keep the
// OEBPS/ prefix, some do not, some store leading slashes or percent-encoded
// names. Index absorbs those differences so the rest of the engine can work
// with nominal paths.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// DefaultMaxEntrySize limits decompressed size of a single entry unless the
// caller configures its own limit.
const DefaultMaxEntrySize int64 = 256 * 1024 * 1024

// Index wraps a decoded zip container and resolves nominal paths to entries.
type Index struct {
	reader  *zip.Reader
	entries []*Entry
	byPath  map[string]*Entry
	limit   int64
	nameEnc encoding.Encoding
}

// Entry is a single file stored in the archive.
type Entry struct {
	// Path as stored in the archive.
	Path string

	file  *zip.File
	limit int64
}

// WalkFunc is the type of the function called for each file in archive
// visited by Index.Walk. If an error is returned, processing stops.
type WalkFunc func(e *Entry) error

// Option configures an Index.
type Option func(*Index)

// WithMaxEntrySize overrides the per-entry decompressed size limit.
func WithMaxEntrySize(limit int64) Option {
	return func(idx *Index) {
		if limit > 0 {
			idx.limit = limit
		}
	}
}

// WithNameEncoding forces the given encoding for entry names stored without
// the UTF-8 flag. Some archivers write local code page names, which ruins
// lookups for books with non-ASCII file names.
func WithNameEncoding(enc encoding.Encoding) Option {
	return func(idx *Index) {
		idx.nameEnc = enc
	}
}

// NewIndex decodes raw archive bytes. This is the only fatal failure in the
// processing pipeline - an unreadable container cannot degrade.
func NewIndex(data []byte, opts ...Option) (*Index, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode archive: %w", err)
	}

	idx := &Index{
		reader: zr,
		byPath: make(map[string]*Entry, len(zr.File)),
		limit:  DefaultMaxEntrySize,
	}
	for _, o := range opts {
		o(idx)
	}

	for _, f := range zr.File {
		name := f.FileHeader.Name
		if idx.nameEnc != nil && f.FileHeader.NonUTF8 {
			if decoded, err := idx.nameEnc.NewDecoder().String(name); err == nil {
				name = decoded
			}
		}
		if f.FileInfo().IsDir() || !isSafePath(name) {
			continue
		}
		e := &Entry{Path: name, file: f, limit: idx.limit}
		idx.entries = append(idx.entries, e)
		if _, dup := idx.byPath[name]; !dup {
			idx.byPath[name] = e
		}
	}
	return idx, nil
}

// Lookup resolves a nominal path to an entry. A single leading slash is
// stripped and the path is percent-decoded before matching. On an exact miss
// all stored paths are scanned for one whose suffix equals the path or
// "/"+path, first match in archive order wins. A miss returns (nil, false),
// callers decide whether that is fatal.
func (idx *Index) Lookup(p string) (*Entry, bool) {
	p = strings.TrimPrefix(p, "/")
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	if p == "" {
		return nil, false
	}

	if e, ok := idx.byPath[p]; ok {
		return e, true
	}

	suffix := "/" + p
	for _, e := range idx.entries {
		if e.Path == p || strings.HasSuffix(e.Path, suffix) {
			return e, true
		}
	}
	return nil, false
}

// Walk calls walkFn for every entry whose stored path has the given prefix,
// in archive order. Empty prefix visits every entry.
func (idx *Index) Walk(prefix string, walkFn WalkFunc) error {
	for _, e := range idx.entries {
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		if err := walkFn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Bytes returns the decompressed entry payload. The configured size limit is
// enforced against actual decompressed data, not the declared header size.
func (e *Entry) Bytes() ([]byte, error) {
	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open archive entry %s: %w", e.Path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, e.limit+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read archive entry %s: %w", e.Path, err)
	}
	if int64(len(data)) > e.limit {
		return nil, fmt.Errorf("archive entry %s exceeds size limit (%d bytes)", e.Path, e.limit)
	}
	return data, nil
}

// Text returns the entry payload decoded to UTF-8 with charset detection and
// a stripped byte order mark.
func (e *Entry) Text() (string, error) {
	data, err := e.Bytes()
	if err != nil {
		return "", err
	}
	r, err := charset.NewReader(bytes.NewReader(stripBOM(data)), "")
	if err != nil {
		return string(stripBOM(data)), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(stripBOM(data)), nil
	}
	return string(decoded), nil
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
