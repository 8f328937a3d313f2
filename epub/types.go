// Package epub implements the format layer of the engine: locating the
// package manifest inside an archive, extracting metadata, building the
// table of contents from either on-disk format and resolving the relative
// references EPUB markup is full of.
package epub

import "time"

// Metadata describes a processed book. AddedAt and the reading-state fields
// are maintained by the library, everything else comes from the package
// manifest.
type Metadata struct {
	ID          string
	Title       string
	Author      string
	Description string
	Publisher   string
	Language    string

	AddedAt        time.Time
	LastReadAt     time.Time
	Progress       float64
	CurrentChapter int
}

// TocNode is one entry of the hierarchical table of contents. PlayOrder is
// used only to sort siblings during construction and carries no meaning
// afterwards.
type TocNode struct {
	ID        string
	Href      string
	Title     string
	Level     int
	PlayOrder int
	Children  []*TocNode
}

// Chapter is a single content document of the book. Content stays empty
// until the owning session resolves it, exactly once per href.
type Chapter struct {
	ID      string
	Href    string
	Title   string
	Level   int
	Content string
}

// CoverImage is the declared cover of a book. Ref is the resource handle
// reference assigned by the session that extracted it.
type CoverImage struct {
	Path      string
	MediaType string
	Data      []byte
	Ref       string
}

// Book is the assembled document model handed to the UI collaborator.
type Book struct {
	Metadata Metadata
	Chapters []*Chapter
	TOC      []*TocNode
	Cover    *CoverImage

	// Base is the directory of the package manifest inside the archive,
	// with a trailing slash when not empty.
	Base string
}
