// Package book defines the normalized content model consumed by the
// assembly pipeline: metadata, fetchable content units, and the closed set
// of content shapes a book can take.
package book

import (
	"strings"
	"time"

	"golang.org/x/text/language"

	"grawlix/internal/decrypt"
)

// AuthorSeparator joins the author list when it renders as a single string.
const AuthorSeparator = ", "

// Metadata describes a single book. Title is always present; every other
// field is optional and absent fields stay nil so "no series" is
// distinguishable from a series named "".
type Metadata struct {
	Title       string
	Authors     []string
	Series      *string
	SeriesIndex *float64
	ISBN        *string
	Language    *string
	Description *string
	Publisher   *string
	ReleaseDate *time.Time
}

// AuthorString renders the author list as a single string, preserving order.
func (m Metadata) AuthorString() string {
	return strings.Join(m.Authors, AuthorSeparator)
}

// LanguageTag normalizes Language to a BCP-47 tag. Returns "" when the
// language is absent or unparseable.
func (m Metadata) LanguageTag() string {
	if m.Language == nil {
		return ""
	}
	tag, err := language.Parse(strings.TrimSpace(*m.Language))
	if err != nil {
		return ""
	}
	return tag.String()
}

// Equal reports field-by-field equality. Used for in-memory deduplication.
func (m Metadata) Equal(other Metadata) bool {
	if m.Title != other.Title {
		return false
	}
	if len(m.Authors) != len(other.Authors) {
		return false
	}
	for i := range m.Authors {
		if m.Authors[i] != other.Authors[i] {
			return false
		}
	}
	return eqStr(m.Series, other.Series) &&
		eqFloat(m.SeriesIndex, other.SeriesIndex) &&
		eqStr(m.ISBN, other.ISBN) &&
		eqStr(m.Language, other.Language) &&
		eqStr(m.Description, other.Description) &&
		eqStr(m.Publisher, other.Publisher) &&
		eqTime(m.ReleaseDate, other.ReleaseDate)
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Unit is a single fetchable, independently decryptable byte source.
type Unit struct {
	// URL locates the content when Data is nil.
	URL string
	// Headers are sent with the fetch request.
	Headers map[string]string
	// Data carries inline content that needs no fetch.
	Data []byte
	// Encryption is nil for plaintext units.
	Encryption decrypt.Scheme
}

// Inline reports whether the unit carries its content in memory.
func (u Unit) Inline() bool { return u.Data != nil }

// HTMLPage is one chapter source within an HtmlFiles book.
type HTMLPage struct {
	Title string
	Unit  Unit
	// Selector optionally narrows the fetched document to one element
	// (goquery CSS selector). Empty means the whole body.
	Selector string
}

// Data is the closed set of content shapes. The variant and its unit
// ordering are fixed at construction; order is the final reading order.
type Data interface {
	shape() string
}

// SingleFile is one file written verbatim (ACSM and other passthroughs).
type SingleFile struct {
	Unit      Unit
	Extension string
}

// ImageList is an ordered page sequence, typically a comic.
type ImageList struct {
	Units     []Unit
	Extension string
}

// HtmlFiles is an ordered chapter sequence built into an EPUB.
type HtmlFiles struct {
	Pages []HTMLPage
	Cover *Unit
	// CoverExtension names the cover image type when Cover is set.
	CoverExtension string
}

// EpubInParts is an EPUB split across several complete partial archives.
type EpubInParts struct {
	Units []Unit
	// TOC maps content file names (optionally with a fragment) to the
	// chapter titles shown in the navigation document.
	TOC map[string]string
}

func (SingleFile) shape() string  { return "single-file" }
func (ImageList) shape() string   { return "image-list" }
func (HtmlFiles) shape() string   { return "html-files" }
func (EpubInParts) shape() string { return "epub-in-parts" }

// Book pairs metadata with content. Constructed once per download request
// and discarded after the output file is written.
type Book struct {
	Metadata Metadata
	Data     Data
}

// Series fans out independent per-book downloads.
type Series struct {
	Title string
	Books []Book
}

// DefaultExtension returns the natural output extension for the content
// shape: a SingleFile keeps its own extension, images become cbz, and both
// HTML and partial-EPUB shapes become epub.
func DefaultExtension(data Data) string {
	switch d := data.(type) {
	case SingleFile:
		return strings.TrimPrefix(d.Extension, ".")
	case ImageList:
		return "cbz"
	case HtmlFiles, EpubInParts:
		return "epub"
	default:
		return ""
	}
}
