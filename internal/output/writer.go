// Package output turns fetched book content into finished files on disk.
// It resolves the destination first, assembles the archive in a scratch
// file, and publishes with an atomic rename so readers never observe a
// partial download.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"grawlix/internal/book"
	"grawlix/internal/cbz"
	"grawlix/internal/epub"
	"grawlix/internal/errs"
	"grawlix/internal/fetch"
	"grawlix/internal/logging"
	"grawlix/internal/metawrite"
	"grawlix/internal/paths"
)

// Options control a single write.
type Options struct {
	// Root is the library directory all output stays under.
	Root string
	// Template renders the relative output path from book metadata.
	Template string
	// Format requests an output extension. Empty means the natural format
	// of the book's content.
	Format string
	// Overwrite reuses the rendered path even when the file exists.
	Overwrite bool
	// WriteMetadata merges book metadata into the finished archive.
	WriteMetadata bool
	// Progress receives fetch progress events when set.
	Progress fetch.Sink
	// OnBookStart is invoked by WriteSeries before each book begins.
	OnBookStart func(index, total int, bk book.Book)
	// WorkDir holds in-flight scratch files. Defaults to the output
	// directory so the final rename stays on one filesystem.
	WorkDir string
	// FetchOptions tune the per-book fetch group.
	FetchOptions []fetch.GroupOption
}

// Result records the outcome of one book.
type Result struct {
	Title    string
	Path     string
	Size     int64
	Duration time.Duration
	Err      error
}

// Writer assembles and publishes books.
type Writer struct {
	fetcher  fetch.Fetcher
	resolver *paths.Resolver
	logger   *slog.Logger
}

// NewWriter creates a Writer. The resolver must be shared across every
// writer targeting the same library root.
func NewWriter(fetcher fetch.Fetcher, resolver *paths.Resolver, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		fetcher:  fetcher,
		resolver: resolver,
		logger:   logging.NewComponentLogger(logger, "output"),
	}
}

// TargetExtension derives the output extension for the book's content,
// validating any explicitly requested format against it.
func TargetExtension(data book.Data, requested string) (string, error) {
	natural := book.DefaultExtension(data)
	requested = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(requested), "."))
	if requested == "" || requested == natural {
		return natural, nil
	}
	return "", errs.Wrap(errs.ErrUnsupportedFormat, "output", "select format",
		fmt.Sprintf("requested %q but this content only produces %q", requested, natural), nil)
}

// AssembleAndWrite downloads, assembles, and publishes one book, returning
// the final path. Nothing is left at the destination on failure.
func (w *Writer) AssembleAndWrite(ctx context.Context, bk book.Book, opts Options) (string, error) {
	logger := w.logger.With(logging.String(logging.FieldBook, bk.Metadata.Title))

	ext, err := TargetExtension(bk.Data, opts.Format)
	if err != nil {
		return "", err
	}

	// Claim the destination before any network traffic so collisions and
	// unwritable roots fail fast.
	reservation, err := w.resolver.Resolve(opts.Template, bk.Metadata, ext, opts.Root, opts.Overwrite)
	if err != nil {
		return "", err
	}
	defer reservation.Release()

	logger.Info("assembling book",
		logging.String("path", reservation.Path),
		logging.String("format", ext))

	payload, err := w.assemble(ctx, bk, ext, opts)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(errs.ErrDownloadFailed, "output", "assemble", bk.Metadata.Title, err)
	}

	if err := w.publish(payload, reservation.Path, opts.WorkDir); err != nil {
		return "", err
	}
	logger.Info("book published",
		logging.String("path", reservation.Path),
		logging.Int("bytes", len(payload)))
	return reservation.Path, nil
}

// WriteSeries downloads every book in the series sequentially. A failing
// book is recorded and the rest continue; only context cancellation stops
// the run early.
func (w *Writer) WriteSeries(ctx context.Context, series book.Series, opts Options) []Result {
	results := make([]Result, 0, len(series.Books))
	for i, bk := range series.Books {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Title: bk.Metadata.Title, Err: err})
			continue
		}
		if opts.OnBookStart != nil {
			opts.OnBookStart(i, len(series.Books), bk)
		}
		start := time.Now()
		path, err := w.AssembleAndWrite(ctx, bk, opts)
		result := Result{
			Title:    bk.Metadata.Title,
			Path:     path,
			Duration: time.Since(start),
			Err:      err,
		}
		if err == nil {
			if info, statErr := os.Stat(path); statErr == nil {
				result.Size = info.Size()
			}
		} else {
			w.logger.Error("book failed",
				logging.String(logging.FieldBook, bk.Metadata.Title),
				logging.Error(err))
		}
		results = append(results, result)
	}
	return results
}

func (w *Writer) assemble(ctx context.Context, bk book.Book, ext string, opts Options) ([]byte, error) {
	groupOpts := opts.FetchOptions
	if opts.Progress != nil {
		groupOpts = append(groupOpts[:len(groupOpts):len(groupOpts)], fetch.WithSink(opts.Progress))
	}
	group := fetch.NewGroup(w.fetcher, w.logger, groupOpts...)

	switch data := bk.Data.(type) {
	case book.SingleFile:
		return group.FetchOne(ctx, data.Unit)

	case book.ImageList:
		pages, err := group.FetchAll(ctx, data.Units)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := cbz.Write(&buf, pages, data.Extension, bk.Metadata); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case book.HtmlFiles:
		return w.assembleHTML(ctx, group, bk.Metadata, data, opts)

	case book.EpubInParts:
		parts, err := group.FetchAll(ctx, data.Units)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := epub.Merge(&buf, parts, data.TOC); err != nil {
			return nil, err
		}
		// The merged descriptor inherits part one's metadata; overlay the
		// book's own metadata on top.
		return metawrite.WriteEPUB(buf.Bytes(), bk.Metadata)

	default:
		return nil, errs.Wrap(errs.ErrUnsupportedFormat, "output", "assemble",
			fmt.Sprintf("unhandled content shape %T", bk.Data), nil)
	}
}

func (w *Writer) assembleHTML(ctx context.Context, group *fetch.Group, meta book.Metadata, data book.HtmlFiles, opts Options) ([]byte, error) {
	units := make([]book.Unit, 0, len(data.Pages)+1)
	for _, page := range data.Pages {
		units = append(units, page.Unit)
	}
	if data.Cover != nil {
		units = append(units, *data.Cover)
	}

	fetched, err := group.FetchAll(ctx, units)
	if err != nil {
		return nil, err
	}

	chapters := make([]epub.Chapter, 0, len(data.Pages))
	for i, page := range data.Pages {
		chapter, err := epub.ChapterFromHTML(i, page.Title, fetched[i], page.Selector)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, chapter)
	}
	var cover *epub.Cover
	if data.Cover != nil {
		cover = &epub.Cover{Extension: data.CoverExtension, Data: fetched[len(fetched)-1]}
	}

	var buf bytes.Buffer
	if err := epub.Build(&buf, meta, chapters, cover); err != nil {
		return nil, err
	}
	payload := buf.Bytes()
	if opts.WriteMetadata {
		return metawrite.WriteEPUB(payload, meta)
	}
	return payload, nil
}

// publish writes the payload to a scratch file, syncs it, and renames it
// into place. Cross-device renames fall back to copy plus remove.
func (w *Writer) publish(payload []byte, target, workDir string) error {
	if workDir == "" {
		workDir = filepath.Dir(target)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return errs.Wrap(errs.ErrOutputWrite, "output", "ensure work dir", workDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.ErrOutputWrite, "output", "ensure output dir", filepath.Dir(target), err)
	}

	scratch, err := os.CreateTemp(workDir, ".grawlix-*.part")
	if err != nil {
		return errs.Wrap(errs.ErrOutputWrite, "output", "create scratch file", workDir, err)
	}
	scratchPath := scratch.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(scratchPath)
		}
	}()

	if _, err := scratch.Write(payload); err != nil {
		scratch.Close()
		return errs.Wrap(errs.ErrOutputWrite, "output", "write scratch file", scratchPath, err)
	}
	if err := scratch.Sync(); err != nil {
		scratch.Close()
		return errs.Wrap(errs.ErrOutputWrite, "output", "sync scratch file", scratchPath, err)
	}
	if err := scratch.Close(); err != nil {
		return errs.Wrap(errs.ErrOutputWrite, "output", "close scratch file", scratchPath, err)
	}

	if err := moveFile(scratchPath, target); err != nil {
		return errs.Wrap(errs.ErrOutputWrite, "output", "publish", target, err)
	}
	cleanup = false
	return nil
}

func moveFile(src, dst string) error {
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(renameErr, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if err := copyFile(src, dst); err != nil {
			return err
		}
		return os.Remove(src)
	}
	return renameErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
