// Package library persists opened books in a local SQLite database so they
// can be reopened without the original file. The cache is bounded: when a
// new book would push it past its configured size the oldest entries are
// evicted first.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maruel/natural"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"ebr/config"
	"ebr/epub"
)

// ErrNotFound is returned when the requested book is not in the cache.
var ErrNotFound = errors.New("book not found in library")

// ErrClosed is returned by every operation on a closed cache.
var ErrClosed = errors.New("library is closed")

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	publisher       TEXT NOT NULL DEFAULT '',
	language        TEXT NOT NULL DEFAULT '',
	archive         BLOB NOT NULL,
	cover           BLOB,
	cover_type      TEXT NOT NULL DEFAULT '',
	added_at        INTEGER NOT NULL,
	last_read_at    INTEGER NOT NULL DEFAULT 0,
	progress        REAL NOT NULL DEFAULT 0,
	current_chapter INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS books_added_at ON books(added_at);
`

// Cache is a bounded persistent store of opened books.
type Cache struct {
	log *zap.Logger
	cfg config.LibraryConfig

	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenCache opens or creates the library database at the configured path.
// An empty path keeps the library in memory for the lifetime of the process.
func OpenCache(cfg config.LibraryConfig, log *zap.Logger) (*Cache, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenMemory}
	} else if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("unable to create library directory: %w", err)
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("unable to open library database: %w", err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare library schema: %w", err)
	}
	log.Debug("Library opened", zap.String("path", path))
	return &Cache{log: log, cfg: cfg, conn: conn}, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Put stores a book's metadata, raw archive and cover thumbnail, then
// evicts the oldest entries if the cache grew past its limit. Storing an
// already-cached book updates it in place without touching its added_at
// position. The book named by openID is never evicted.
func (c *Cache) Put(meta epub.Metadata, archive []byte, cover []byte, coverType, openID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}

	now := time.Now().Unix()
	var lastRead int64
	if !meta.LastReadAt.IsZero() {
		lastRead = meta.LastReadAt.Unix()
	}
	err := sqlitex.Execute(c.conn, `
		INSERT INTO books (id, title, author, description, publisher, language,
			archive, cover, cover_type, added_at, last_read_at, progress, current_chapter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			description = excluded.description,
			publisher = excluded.publisher,
			language = excluded.language,
			archive = excluded.archive,
			cover = excluded.cover,
			cover_type = excluded.cover_type`,
		&sqlitex.ExecOptions{Args: []interface{}{
			meta.ID, meta.Title, meta.Author, meta.Description, meta.Publisher, meta.Language,
			archive, cover, coverType, now, lastRead, meta.Progress, meta.CurrentChapter,
		}})
	if err != nil {
		return fmt.Errorf("unable to store book %s: %w", meta.ID, err)
	}
	return c.evictLocked(openID)
}

func (c *Cache) evictLocked(openID string) error {
	if c.cfg.MaxBooks <= 0 {
		return nil
	}
	var count int
	err := sqlitex.Execute(c.conn, `SELECT COUNT(*) FROM books`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		}})
	if err != nil {
		return err
	}
	excess := count - c.cfg.MaxBooks
	if excess <= 0 {
		return nil
	}

	protect := ""
	if c.cfg.ProtectOpenBook && openID != "" {
		protect = openID
	}
	var victims []string
	err = sqlitex.Execute(c.conn, `SELECT id FROM books WHERE id != ? ORDER BY added_at, id LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []interface{}{protect, excess},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				victims = append(victims, stmt.ColumnText(0))
				return nil
			}})
	if err != nil {
		return err
	}
	for _, id := range victims {
		err = sqlitex.Execute(c.conn, `DELETE FROM books WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []interface{}{id}})
		if err != nil {
			return fmt.Errorf("unable to evict book %s: %w", id, err)
		}
		c.log.Info("Evicted book from library", zap.String("id", id))
	}
	return nil
}

// Get returns a cached book's metadata and raw archive bytes.
func (c *Cache) Get(id string) (epub.Metadata, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return epub.Metadata{}, nil, ErrClosed
	}
	var (
		meta    epub.Metadata
		archive []byte
		found   bool
	)
	err := sqlitex.Execute(c.conn, `
		SELECT id, title, author, description, publisher, language,
			archive, added_at, last_read_at, progress, current_chapter
		FROM books WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []interface{}{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				meta = scanMetadata(stmt)
				archive = make([]byte, stmt.ColumnLen(6))
				stmt.ColumnBytes(6, archive)
				return nil
			}})
	if err != nil {
		return epub.Metadata{}, nil, err
	}
	if !found {
		return epub.Metadata{}, nil, ErrNotFound
	}
	return meta, archive, nil
}

// Cover returns a cached book's cover thumbnail, or ErrNotFound.
func (c *Cache) Cover(id string) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, "", ErrClosed
	}
	var (
		cover []byte
		typ   string
		found bool
	)
	err := sqlitex.Execute(c.conn, `SELECT cover, cover_type FROM books WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []interface{}{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				cover = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, cover)
				typ = stmt.ColumnText(1)
				return nil
			}})
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, "", ErrNotFound
	}
	return cover, typ, nil
}

// List returns metadata for every cached book ordered by title, using
// natural ordering so "Volume 2" sorts before "Volume 10".
func (c *Cache) List() ([]epub.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrClosed
	}
	var books []epub.Metadata
	err := sqlitex.Execute(c.conn, `
		SELECT id, title, author, description, publisher, language,
			NULL, added_at, last_read_at, progress, current_chapter
		FROM books`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			books = append(books, scanMetadata(stmt))
			return nil
		}})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return natural.Less(books[i].Title, books[j].Title)
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// Remove deletes a book from the cache. Removing an absent book is not an
// error.
func (c *Cache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return sqlitex.Execute(c.conn, `DELETE FROM books WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []interface{}{id}})
}

// Clear empties the cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return sqlitex.Execute(c.conn, `DELETE FROM books`, nil)
}

// Len reports how many books the cache holds.
func (c *Cache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0, ErrClosed
	}
	var count int
	err := sqlitex.Execute(c.conn, `SELECT COUNT(*) FROM books`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		}})
	return count, err
}

// SetProgress records the reading position for a cached book and stamps
// last_read_at with the current time.
func (c *Cache) SetProgress(id string, progress float64, currentChapter int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return sqlitex.Execute(c.conn, `
		UPDATE books SET progress = ?, current_chapter = ?, last_read_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []interface{}{progress, currentChapter, time.Now().Unix(), id}})
}

func scanMetadata(stmt *sqlite.Stmt) epub.Metadata {
	return epub.Metadata{
		ID:             stmt.ColumnText(0),
		Title:          stmt.ColumnText(1),
		Author:         stmt.ColumnText(2),
		Description:    stmt.ColumnText(3),
		Publisher:      stmt.ColumnText(4),
		Language:       stmt.ColumnText(5),
		AddedAt:        time.Unix(stmt.ColumnInt64(7), 0),
		LastReadAt:     time.Unix(stmt.ColumnInt64(8), 0),
		Progress:       stmt.ColumnFloat(9),
		CurrentChapter: stmt.ColumnInt(10),
	}
}
