// Package paths builds sanitized, collision-free output paths from a
// template and book metadata.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gofrs/flock"

	"grawlix/internal/book"
	"grawlix/internal/errs"
)

const (
	// maxSegmentBytes is the conservative per-segment limit shared by the
	// common filesystems.
	maxSegmentBytes = 255
	// maxCollisionAttempts bounds the " (n)" disambiguation search.
	maxCollisionAttempts = 1000

	lockSuffix = ".grawlix-lock"
)

// forbidden is the conservative cross-platform character set stripped from
// every path segment.
const forbidden = `<>:"/\|?*`

// reservedNames are device names Windows refuses as file name stems,
// matched case-insensitively.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Resolver turns templates into reserved output paths. Reservation is the
// only cross-invocation shared state in the pipeline, so it is serialized
// here: an in-process set guards concurrent resolutions in this process and
// a flock lock file guards against sibling processes.
type Resolver struct {
	mu       sync.Mutex
	reserved map[string]bool
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{reserved: make(map[string]bool)}
}

// Reservation is a claimed output path. Release must be called once the
// final file is published or the attempt abandoned.
type Reservation struct {
	Path string

	resolver *Resolver
	lock     *flock.Flock
	once     sync.Once
}

// Release frees the reservation and removes its lock file.
func (r *Reservation) Release() {
	r.once.Do(func() {
		if r.lock != nil {
			r.lock.Unlock()
			os.Remove(r.lock.Path())
		}
		r.resolver.mu.Lock()
		delete(r.resolver.reserved, r.Path)
		r.resolver.mu.Unlock()
	})
}

// Resolve renders the template with metadata, sanitizes it, joins it under
// root with the extension, and reserves a free path. With overwrite set the
// rendered path is reserved even if the file exists; otherwise " (n)"
// suffixes are tried until a free path is found.
func (r *Resolver) Resolve(template string, meta book.Metadata, extension, root string, overwrite bool) (*Reservation, error) {
	if strings.TrimSpace(template) == "" {
		return nil, errs.Wrap(errs.ErrPathResolution, "paths", "resolve", "empty output template", nil)
	}
	extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")

	rendered := Render(template, meta)
	segments, err := sanitizeSegments(rendered)
	if err != nil {
		return nil, err
	}

	// Truncate the stem up front, leaving room for the widest possible
	// collision suffix so disambiguated names stay within budget too.
	stem := truncateSegment(segments[len(segments)-1], extension, len(" (1000)"))
	dir := filepath.Join(append([]string{root}, segments[:len(segments)-1]...)...)

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt <= maxCollisionAttempts; attempt++ {
		name := stem
		if attempt > 0 {
			name = fmt.Sprintf("%s (%d)", stem, attempt)
		}
		candidate := filepath.Join(dir, name)
		if extension != "" {
			candidate += "." + extension
		}

		if r.reserved[candidate] {
			if overwrite {
				return nil, errs.Wrap(errs.ErrCollisionExhausted, "paths", "reserve", fmt.Sprintf("%s already reserved by a concurrent download", candidate), nil)
			}
			continue
		}
		if !overwrite {
			if _, err := os.Stat(candidate); err == nil {
				continue
			} else if !os.IsNotExist(err) {
				return nil, errs.Wrap(errs.ErrPathResolution, "paths", "stat candidate", candidate, err)
			}
		}

		lock, err := acquireLock(candidate)
		if err != nil {
			if overwrite {
				return nil, err
			}
			// Another process holds this path; move on to the next suffix.
			continue
		}
		r.reserved[candidate] = true
		return &Reservation{Path: candidate, resolver: r, lock: lock}, nil
	}
	return nil, errs.Wrap(errs.ErrCollisionExhausted, "paths", "reserve", fmt.Sprintf("no free path found for %q after %d attempts", filepath.Join(dir, stem), maxCollisionAttempts), nil)
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrPathResolution, "paths", "ensure directory", filepath.Dir(path), err)
	}
	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.ErrPathResolution, "paths", "lock", path, err)
	}
	if !locked {
		return nil, errs.Wrap(errs.ErrPathResolution, "paths", "lock", fmt.Sprintf("%s is locked by another process", path), nil)
	}
	return lock, nil
}

// Render substitutes template placeholders with metadata values. Absent
// fields render as the empty string, never a literal placeholder word.
func Render(template string, meta book.Metadata) string {
	index := ""
	if meta.SeriesIndex != nil {
		index = strconv.FormatFloat(*meta.SeriesIndex, 'f', -1, 64)
	}
	replacer := strings.NewReplacer(
		"{title}", meta.Title,
		"{authors}", meta.AuthorString(),
		"{series}", deref(meta.Series),
		"{index}", index,
		"{isbn}", deref(meta.ISBN),
		"{language}", deref(meta.Language),
	)
	return replacer.Replace(template)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sanitizeSegments splits a rendered template into safe path segments.
// Interpolated values cannot escape the output root: ".." segments, empty
// segments, and leading separators all disappear here.
func sanitizeSegments(rendered string) ([]string, error) {
	rendered = strings.ReplaceAll(rendered, "\\", "/")
	parts := strings.Split(rendered, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		cleaned := sanitizeSegment(part)
		if cleaned == "" || cleaned == ".." || cleaned == "." {
			continue
		}
		segments = append(segments, truncateSegment(cleaned, "", 0))
	}
	if len(segments) == 0 {
		return nil, errs.Wrap(errs.ErrPathResolution, "paths", "sanitize", "path is empty after sanitization", nil)
	}
	return segments, nil
}

func sanitizeSegment(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(forbidden, r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	cleaned = strings.TrimRight(cleaned, ".")
	if reservedNames[strings.ToUpper(cleaned)] {
		cleaned += "_"
	}
	return cleaned
}

// truncateSegment keeps a segment within the byte budget, reserving room
// for the dot, extension, and any extra suffix, never splitting a UTF-8
// sequence.
func truncateSegment(stem, extension string, room int) string {
	budget := maxSegmentBytes - room
	if extension != "" {
		budget -= len(extension) + 1
	}
	if budget < 1 {
		budget = 1
	}
	if len(stem) <= budget {
		return stem
	}
	for budget > 0 && !utf8.RuneStart(stem[budget]) {
		budget--
	}
	return stem[:budget]
}
