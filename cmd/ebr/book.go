package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"ebr/config"
	"ebr/epub"
	"ebr/library"
	"ebr/reader"
	"ebr/state"
)

func runOpen(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	if cmd.Args().Len() != 1 {
		return errors.New("exactly one SOURCE is expected")
	}
	source := cmd.Args().Get(0)

	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("unable to read '%s': %w", source, err)
	}

	session, err := reader.Open(ctx, data, "", env.Cfg.Reader, env.Log)
	if err != nil {
		return fmt.Errorf("unable to open book '%s': %w", source, err)
	}
	defer session.Close()

	book := session.Book()
	env.OpenBookID = book.Metadata.ID

	if !cmd.Bool("no-cache") {
		if err := cacheBook(env, book, data); err != nil {
			return err
		}
	}

	printBookSummary(book)
	return nil
}

func cacheBook(env *state.LocalEnv, book *epub.Book, data []byte) error {
	cache, err := library.OpenCache(env.Cfg.Library, env.Log)
	if err != nil {
		return err
	}
	defer cache.Close()

	var (
		thumb []byte
		ctype string
	)
	if thumb = library.Thumbnail(book.Cover, env.Cfg.Reader.Cover, env.Log); thumb != nil {
		ctype = "image/jpeg"
	}
	if err := cache.Put(book.Metadata, data, thumb, ctype, env.OpenBookID); err != nil {
		return fmt.Errorf("unable to store book in library: %w", err)
	}
	env.Log.Info("Book stored in library", zap.String("id", book.Metadata.ID))
	return nil
}

func printBookSummary(book *epub.Book) {
	fmt.Printf("%s\n", titleOrID(book.Metadata))
	if book.Metadata.Author != "" {
		fmt.Printf("by %s\n", book.Metadata.Author)
	}
	fmt.Printf("id: %s\n", book.Metadata.ID)
	if book.Cover != nil {
		fmt.Printf("cover: %s (%s)\n", book.Cover.Path, book.Cover.MediaType)
	}
	fmt.Printf("chapters: %d\n\n", len(book.Chapters))
	fmt.Print(epub.Outline(book.TOC, false))
}

func titleOrID(meta epub.Metadata) string {
	if meta.Title != "" {
		return meta.Title
	}
	return meta.ID
}

func runRead(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	if cmd.Args().Len() != 1 {
		return errors.New("exactly one SOURCE is expected")
	}
	source := cmd.Args().Get(0)
	index := int(cmd.Int("chapter"))

	var (
		data   []byte
		bookID string
		cache  *library.Cache
	)

	if fileData, err := os.ReadFile(source); err == nil {
		data = fileData
	} else {
		// not a file, try the library
		c, er := library.OpenCache(env.Cfg.Library, env.Log)
		if er != nil {
			return er
		}
		defer c.Close()

		meta, archived, er := c.Get(source)
		if er != nil {
			if errors.Is(er, library.ErrNotFound) {
				return fmt.Errorf("'%s' is neither a readable file nor a library book", source)
			}
			return er
		}
		data = archived
		bookID = meta.ID
		cache = c
		if index < 0 {
			index = meta.CurrentChapter
		}
	}
	if index < 0 {
		index = 0
	}

	session, err := reader.Open(ctx, data, bookID, env.Cfg.Reader, env.Log)
	if err != nil {
		return fmt.Errorf("unable to open book '%s': %w", source, err)
	}
	defer session.Close()

	book := session.Book()
	env.OpenBookID = book.Metadata.ID
	if len(book.Chapters) == 0 {
		return errors.New("book has no chapters")
	}
	if index >= len(book.Chapters) {
		return fmt.Errorf("chapter index %d out of range, book has %d chapters", index, len(book.Chapters))
	}

	ch, err := session.GoToChapter(ctx, index)
	if err != nil {
		return err
	}

	text, err := session.ChapterText(ctx, ch)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n\n", ch.Title)
	fmt.Println(text)

	if cache != nil {
		progress := float64(index+1) / float64(len(book.Chapters))
		if err := cache.SetProgress(bookID, progress, index); err != nil {
			env.Log.Warn("Unable to save reading position", zap.String("id", bookID), zap.Error(err))
		}
	}
	return nil
}

func runLibraryList(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	cache, err := library.OpenCache(env.Cfg.Library, env.Log)
	if err != nil {
		return err
	}
	defer cache.Close()

	books, err := cache.List()
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Println("library is empty")
		return nil
	}
	for _, b := range books {
		line := fmt.Sprintf("%-36s  %s", b.ID, titleOrID(b))
		if b.Author != "" {
			line += " / " + b.Author
		}
		if b.Progress > 0 {
			line += fmt.Sprintf("  (%.0f%%)", b.Progress*100)
		}
		fmt.Println(line)
	}
	return nil
}

func runLibraryRemove(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	if cmd.Args().Len() == 0 {
		return errors.New("at least one book ID is expected")
	}
	cache, err := library.OpenCache(env.Cfg.Library, env.Log)
	if err != nil {
		return err
	}
	defer cache.Close()

	for _, id := range cmd.Args().Slice() {
		if err := cache.Remove(id); err != nil {
			return fmt.Errorf("unable to remove book '%s': %w", id, err)
		}
		env.Log.Info("Book removed from library", zap.String("id", id))
	}
	return nil
}

func runLibraryExport(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
		return errors.New("book ID and optional DESTINATION are expected")
	}
	id := cmd.Args().Get(0)

	cache, err := library.OpenCache(env.Cfg.Library, env.Log)
	if err != nil {
		return err
	}
	defer cache.Close()

	meta, data, err := cache.Get(id)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return fmt.Errorf("book '%s' is not in the library", id)
		}
		return err
	}

	destDir := cmd.Args().Get(1)
	name := config.CleanFileName(titleOrID(meta)) + ".epub"
	dest := filepath.Join(destDir, name)

	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("unable to write '%s': %w", dest, err)
	}
	env.Log.Info("Book exported", zap.String("id", id), zap.String("file", dest))
	fmt.Println(dest)
	return nil
}

func runLibraryClear(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	cache, err := library.OpenCache(env.Cfg.Library, env.Log)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Clear(); err != nil {
		return err
	}
	env.Log.Info("Library cleared")
	return nil
}
