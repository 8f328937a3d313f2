package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding/ianaindex"

	"ebr/archive"
	"ebr/config"
	"ebr/epub"
)

var (
	// ErrChapterNotFound is returned when a requested href names no entry
	// in the archive.
	ErrChapterNotFound = errors.New("chapter not found in archive")
	// ErrStaleNavigation is returned when a resolution completed after the
	// caller navigated elsewhere. The result is discarded, not applied.
	ErrStaleNavigation = errors.New("navigation superseded, result discarded")
	// ErrSessionClosed is returned from any operation after Close.
	ErrSessionClosed = errors.New("book session is closed")
)

// Session owns everything belonging to one open book: the archive index,
// the assembled document model and every resource handle produced while
// resolving chapters. Sessions are explicitly owned values - there is no
// shared current-book state anywhere in the engine.
type Session struct {
	log     *zap.Logger
	idx     *archive.Index
	book    *epub.Book
	workers int
	handles *handleCache

	flight   singleflight.Group
	mu       sync.Mutex
	resolved map[string]string // normalized href -> markup

	nav       atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open decodes raw archive bytes into a navigable book. An undecodable
// container is the only fatal outcome; a missing package manifest, broken
// TOC or absent cover all degrade to a book that is still usable.
// When existingID is not empty it overrides the identifier derived from
// package metadata, so re-opening a cached book keeps its identity.
func Open(ctx context.Context, data []byte, existingID string, cfg config.ReaderConfig, log *zap.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := cfg.ImageWorkers
	if workers < 1 {
		workers = 4
	}

	var opts []archive.Option
	if cfg.MaxEntrySize > 0 {
		opts = append(opts, archive.WithMaxEntrySize(cfg.MaxEntrySize))
	}
	if cfg.ZipNameEncoding != "" {
		if enc, err := ianaindex.IANA.Encoding(cfg.ZipNameEncoding); err == nil && enc != nil {
			opts = append(opts, archive.WithNameEncoding(enc))
		} else {
			log.Warn("Unknown zip name encoding, ignoring", zap.String("charset", cfg.ZipNameEncoding))
		}
	}
	idx, err := archive.NewIndex(data, opts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:      log,
		idx:      idx,
		workers:  workers,
		handles:  newHandleCache(),
		resolved: make(map[string]string),
	}
	s.book = s.assembleBook(existingID)
	return s, nil
}

// Book returns the assembled document model.
func (s *Session) Book() *epub.Book {
	return s.book
}

func (s *Session) assembleBook(existingID string) *epub.Book {
	book := &epub.Book{}

	rootfile, err := epub.RootfilePath(s.idx, s.log)
	if err != nil {
		// Still a zip, just not a recognizable book. Degrade to an empty
		// one so the caller gets the single load-failure surface it expects
		// only for undecodable archives.
		s.log.Error("Archive has no package manifest", zap.Error(err))
		book.Metadata.ID = uuid.NewString()
		book.TOC = []*epub.TocNode{}
		return book
	}
	book.Base = epub.BaseDir(rootfile)

	pkg := s.parsePackage(rootfile)
	book.Metadata = pkg.Metadata
	book.TOC = s.buildTOC(pkg, book.Base)
	book.Chapters = flattenTOC(book.TOC)
	book.Cover = epub.FindCover(s.idx, pkg, book.Base, s.log)
	if book.Cover != nil {
		h := newHandle(book.Cover.Path, book.Cover.MediaType, book.Cover.Data)
		s.handles.register(h)
		book.Cover.Ref = h.Ref()
	}

	if existingID != "" {
		book.Metadata.ID = existingID
	}

	s.log.Info("Book loaded",
		zap.String("id", book.Metadata.ID),
		zap.String("title", book.Metadata.Title),
		zap.Int("toc", len(book.TOC)),
		zap.Int("chapters", len(book.Chapters)))
	return book
}

func (s *Session) parsePackage(rootfile string) *epub.Package {
	entry, ok := s.idx.Lookup(rootfile)
	if !ok {
		s.log.Warn("Package manifest entry missing", zap.String("path", rootfile))
		return emptyPackage(s.log)
	}
	text, err := entry.Text()
	if err != nil {
		s.log.Warn("Unable to read package manifest", zap.String("path", rootfile), zap.Error(err))
		return emptyPackage(s.log)
	}
	pkg, err := epub.ParsePackageXML(text, s.log)
	if err != nil {
		s.log.Warn("Unable to parse package manifest", zap.String("path", rootfile), zap.Error(err))
		return emptyPackage(s.log)
	}
	return pkg
}

func emptyPackage(log *zap.Logger) *epub.Package {
	pkg, _ := epub.ParsePackageXML(`<package version="2.0"><metadata/><manifest/><spine/></package>`, log)
	return pkg
}

func (s *Session) buildTOC(pkg *epub.Package, base string) []*epub.TocNode {
	var ncx, nav *epub.TocSource
	if item, ok := pkg.NCXItem(); ok {
		ncx = s.tocSource(item, base)
	}
	if item, ok := pkg.NavItem(); ok {
		nav = s.tocSource(item, base)
	}
	return epub.BuildTOC(ncx, nav, base, s.log)
}

func (s *Session) tocSource(item *epub.ManifestItem, base string) *epub.TocSource {
	p := epub.ResolveHref(item.Href, base, "")
	entry, ok := s.idx.Lookup(p)
	if !ok {
		s.log.Warn("TOC entry missing from archive", zap.String("path", p))
		return nil
	}
	text, err := entry.Text()
	if err != nil {
		s.log.Warn("Unable to read TOC entry", zap.String("path", p), zap.Error(err))
		return nil
	}
	return &epub.TocSource{Path: entry.Path, Text: text}
}

// flattenTOC turns the node tree into chapter placeholders in document
// order, preserving nesting depth. Nodes pointing into the same document
// collapse into one chapter - hrefs are unique after normalization.
func flattenTOC(nodes []*epub.TocNode) []*epub.Chapter {
	var chapters []*epub.Chapter
	seen := make(map[string]bool)

	var walk func(nodes []*epub.TocNode)
	walk = func(nodes []*epub.TocNode) {
		for _, n := range nodes {
			p, _ := epub.SplitFragment(n.Href)
			if p != "" && !seen[p] {
				seen[p] = true
				chapters = append(chapters, &epub.Chapter{
					ID:    uuid.NewString(),
					Href:  p,
					Title: n.Title,
					Level: n.Level,
				})
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return chapters
}

// Navigate bumps the session's navigation generation and returns the new
// token. Any resolution started under an older token is applied nowhere.
func (s *Session) Navigate() uint64 {
	return s.nav.Add(1)
}

// GoToChapter navigates to the chapter at index and resolves its content.
// A resolution that completes after another navigation is discarded with
// ErrStaleNavigation - the session state is left untouched.
func (s *Session) GoToChapter(ctx context.Context, index int) (*epub.Chapter, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if index < 0 || index >= len(s.book.Chapters) {
		return nil, fmt.Errorf("chapter index %d out of range", index)
	}

	gen := s.Navigate()
	ch := s.book.Chapters[index]
	content, err := s.resolveContent(ctx, ch.Href, ch.Title)
	if err != nil {
		return nil, err
	}
	if s.nav.Load() != gen {
		return nil, ErrStaleNavigation
	}

	ch.Content = content
	s.book.Metadata.CurrentChapter = index
	return ch, nil
}

// ChapterContent resolves and memoizes a chapter's markup. Concurrent calls
// for the same href share a single resolution.
func (s *Session) ChapterContent(ctx context.Context, ch *epub.Chapter) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	if ch.Content != "" {
		return ch.Content, nil
	}
	content, err := s.resolveContent(ctx, ch.Href, ch.Title)
	if err != nil {
		return "", err
	}
	ch.Content = content
	return content, nil
}

// ChapterByHref resolves a document that was never part of the TOC, such as
// a footnote target found in an in-chapter link, and appends it to the
// session's chapter list. The chapter title comes from the target document
// itself, or its filename when the document declares none.
func (s *Session) ChapterByHref(ctx context.Context, href string) (*epub.Chapter, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	p, _ := epub.SplitFragment(epub.ResolveHref(href, s.book.Base, ""))
	if p == "" {
		return nil, ErrChapterNotFound
	}

	entry, ok := s.idx.Lookup(p)
	if !ok {
		return nil, ErrChapterNotFound
	}

	// Already known? Resolve in place instead of appending a duplicate.
	for _, ch := range s.book.Chapters {
		if sameArchivePath(ch.Href, entry.Path) {
			if _, err := s.ChapterContent(ctx, ch); err != nil {
				return nil, err
			}
			return ch, nil
		}
	}

	ch := &epub.Chapter{
		ID:    uuid.NewString(),
		Href:  entry.Path,
		Title: documentTitle(entry),
		Level: 0,
	}
	content, err := s.resolveContent(ctx, ch.Href, ch.Title)
	if err != nil {
		return nil, err
	}
	ch.Content = content
	s.book.Chapters = append(s.book.Chapters, ch)

	s.log.Debug("Appended chapter outside TOC",
		zap.String("href", ch.Href), zap.String("title", ch.Title))
	return ch, nil
}

func sameArchivePath(a, b string) bool {
	if a == b {
		return true
	}
	return "/"+a == b || a == "/"+b ||
		len(a) > len(b) && a[len(a)-len(b)-1] == '/' && a[len(a)-len(b):] == b ||
		len(b) > len(a) && b[len(b)-len(a)-1] == '/' && b[len(b)-len(a):] == a
}

// HandleCount reports how many live resource handles the session owns.
func (s *Session) HandleCount() int {
	return s.handles.len()
}

// Handle resolves a handle reference produced during embedding.
func (s *Session) Handle(ref string) (*Handle, bool) {
	return s.handles.resolve(ref)
}

// Close releases the archive index and every resource handle created by any
// chapter in this session. Idempotent - the second and later calls return
// the first result and release nothing twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var err error
		if e := s.handles.releaseAll(); e != nil {
			err = multierr.Append(err, e)
		}
		for _, ch := range s.book.Chapters {
			ch.Content = ""
		}
		s.mu.Lock()
		s.resolved = nil
		s.mu.Unlock()
		s.idx = nil
		s.closeErr = err
		s.log.Debug("Book session closed", zap.String("id", s.book.Metadata.ID))
	})
	return s.closeErr
}
