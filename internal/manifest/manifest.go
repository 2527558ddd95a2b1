// Package manifest reads JSON book manifests. A manifest describes one
// book or a series of books: metadata plus the fetchable units making up
// the content. Manifests are the hand-off format produced by source
// adapters and accepted by the download command.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"grawlix/internal/book"
	"grawlix/internal/decrypt"
	"grawlix/internal/errs"
)

type document struct {
	Title string    `json:"title"`
	Books []bookDoc `json:"books"`

	// Set instead of Books for a single-book manifest.
	bookDoc
}

type bookDoc struct {
	Metadata metadataDoc `json:"metadata"`
	Data     *dataDoc    `json:"data"`
}

type metadataDoc struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Series      *string  `json:"series"`
	SeriesIndex *float64 `json:"series_index"`
	ISBN        *string  `json:"isbn"`
	Language    *string  `json:"language"`
	Description *string  `json:"description"`
	Publisher   *string  `json:"publisher"`
	ReleaseDate *string  `json:"release_date"`
}

type dataDoc struct {
	Type           string            `json:"type"`
	Extension      string            `json:"extension"`
	Units          []unitDoc         `json:"units"`
	Pages          []pageDoc         `json:"pages"`
	Cover          *unitDoc          `json:"cover"`
	CoverExtension string            `json:"cover_extension"`
	TOC            map[string]string `json:"toc"`
}

type pageDoc struct {
	Title    string  `json:"title"`
	Selector string  `json:"selector"`
	Unit     unitDoc `json:"unit"`
}

type unitDoc struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	Data       []byte            `json:"data"`
	Encryption *encryptionDoc    `json:"encryption"`
}

// encryptionDoc carries base64-encoded key material.
type encryptionDoc struct {
	Type         string `json:"type"`
	Key          []byte `json:"key"`
	IV           []byte `json:"iv"`
	Nonce        []byte `json:"nonce"`
	InitialValue []byte `json:"initial_value"`
}

// Load reads a manifest file. Single-book manifests come back as a series
// of one.
func Load(path string) (book.Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return book.Series{}, errs.Wrap(errs.ErrValidation, "manifest", "open", path, err)
	}
	defer file.Close()
	series, err := Decode(file)
	if err != nil {
		return book.Series{}, errs.Wrap(errs.ErrValidation, "manifest", "decode", path, err)
	}
	return series, nil
}

// Decode parses manifest JSON from r.
func Decode(r io.Reader) (book.Series, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		return book.Series{}, errs.Wrap(errs.ErrValidation, "manifest", "parse", "manifest is not valid JSON", err)
	}

	if len(doc.Books) == 0 {
		bk, err := doc.bookDoc.toBook()
		if err != nil {
			return book.Series{}, err
		}
		return book.Series{Title: bk.Metadata.Title, Books: []book.Book{bk}}, nil
	}

	series := book.Series{Title: doc.Title, Books: make([]book.Book, 0, len(doc.Books))}
	for i, bd := range doc.Books {
		bk, err := bd.toBook()
		if err != nil {
			return book.Series{}, errs.Wrap(errs.ErrValidation, "manifest", "parse book", fmt.Sprintf("book %d", i), err)
		}
		series.Books = append(series.Books, bk)
	}
	return series, nil
}

func (d bookDoc) toBook() (book.Book, error) {
	if d.Metadata.Title == "" {
		return book.Book{}, errs.Wrap(errs.ErrValidation, "manifest", "parse book", "metadata.title is required", nil)
	}
	if d.Data == nil {
		return book.Book{}, errs.Wrap(errs.ErrValidation, "manifest", "parse book", "data is required", nil)
	}

	meta := book.Metadata{
		Title:       d.Metadata.Title,
		Authors:     d.Metadata.Authors,
		Series:      d.Metadata.Series,
		SeriesIndex: d.Metadata.SeriesIndex,
		ISBN:        d.Metadata.ISBN,
		Language:    d.Metadata.Language,
		Description: d.Metadata.Description,
		Publisher:   d.Metadata.Publisher,
	}
	if d.Metadata.ReleaseDate != nil {
		parsed, err := time.Parse("2006-01-02", *d.Metadata.ReleaseDate)
		if err != nil {
			return book.Book{}, errs.Wrap(errs.ErrValidation, "manifest", "parse book", "release_date must be YYYY-MM-DD", err)
		}
		meta.ReleaseDate = &parsed
	}

	data, err := d.Data.toData()
	if err != nil {
		return book.Book{}, err
	}
	return book.Book{Metadata: meta, Data: data}, nil
}

func (d dataDoc) toData() (book.Data, error) {
	switch d.Type {
	case "single_file":
		if len(d.Units) != 1 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse data", "single_file needs exactly one unit", nil)
		}
		unit, err := d.Units[0].toUnit()
		if err != nil {
			return nil, err
		}
		return book.SingleFile{Unit: unit, Extension: d.Extension}, nil

	case "image_list":
		if len(d.Units) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse data", "image_list needs at least one unit", nil)
		}
		units, err := toUnits(d.Units)
		if err != nil {
			return nil, err
		}
		return book.ImageList{Units: units, Extension: d.Extension}, nil

	case "html_files":
		if len(d.Pages) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse data", "html_files needs at least one page", nil)
		}
		pages := make([]book.HTMLPage, 0, len(d.Pages))
		for _, pd := range d.Pages {
			unit, err := pd.Unit.toUnit()
			if err != nil {
				return nil, err
			}
			pages = append(pages, book.HTMLPage{Title: pd.Title, Unit: unit, Selector: pd.Selector})
		}
		files := book.HtmlFiles{Pages: pages, CoverExtension: d.CoverExtension}
		if d.Cover != nil {
			cover, err := d.Cover.toUnit()
			if err != nil {
				return nil, err
			}
			files.Cover = &cover
		}
		return files, nil

	case "epub_in_parts":
		if len(d.Units) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse data", "epub_in_parts needs at least one unit", nil)
		}
		units, err := toUnits(d.Units)
		if err != nil {
			return nil, err
		}
		return book.EpubInParts{Units: units, TOC: d.TOC}, nil

	default:
		return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse data", fmt.Sprintf("unknown content type %q", d.Type), nil)
	}
}

func toUnits(docs []unitDoc) ([]book.Unit, error) {
	units := make([]book.Unit, 0, len(docs))
	for i, ud := range docs {
		unit, err := ud.toUnit()
		if err != nil {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse unit", fmt.Sprintf("unit %d", i), err)
		}
		units = append(units, unit)
	}
	return units, nil
}

func (d unitDoc) toUnit() (book.Unit, error) {
	if d.URL == "" && d.Data == nil {
		return book.Unit{}, errs.Wrap(errs.ErrValidation, "manifest", "parse unit", "unit needs a url or inline data", nil)
	}
	unit := book.Unit{URL: d.URL, Headers: d.Headers, Data: d.Data}
	if d.Encryption != nil {
		scheme, err := d.Encryption.toScheme()
		if err != nil {
			return book.Unit{}, err
		}
		unit.Encryption = scheme
	}
	return unit, nil
}

func (d encryptionDoc) toScheme() (decrypt.Scheme, error) {
	switch d.Type {
	case "aes_cbc":
		if len(d.Key) == 0 || len(d.IV) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse encryption", "aes_cbc needs key and iv", nil)
		}
		return decrypt.AESCBC{Key: d.Key, IV: d.IV}, nil
	case "aes_ctr":
		if len(d.Key) == 0 || len(d.Nonce) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse encryption", "aes_ctr needs key and nonce", nil)
		}
		return decrypt.AESCTR{Key: d.Key, Nonce: d.Nonce, InitialValue: d.InitialValue}, nil
	case "xor":
		if len(d.Key) == 0 {
			return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse encryption", "xor needs a key", nil)
		}
		return decrypt.XOR{Key: d.Key}, nil
	default:
		return nil, errs.Wrap(errs.ErrValidation, "manifest", "parse encryption", fmt.Sprintf("unknown scheme %q", d.Type), nil)
	}
}
