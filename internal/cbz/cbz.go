// Package cbz builds comic book ZIP archives with a ComicInfo.xml sidecar.
package cbz

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"grawlix/internal/book"
	"grawlix/internal/errs"
)

// ComicInfoName is the metadata sidecar entry name.
const ComicInfoName = "ComicInfo.xml"

// ComicInfo is the metadata document most comic readers understand.
type ComicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	Series      string   `xml:"Series,omitempty"`
	Number      string   `xml:"Number,omitempty"`
	Title       string   `xml:"Title,omitempty"`
	Writer      string   `xml:"Writer,omitempty"`
	LanguageISO string   `xml:"LanguageISO,omitempty"`
}

// FromMetadata maps book metadata onto the ComicInfo fields it covers.
func FromMetadata(meta book.Metadata) ComicInfo {
	info := ComicInfo{
		Title:       meta.Title,
		Writer:      meta.AuthorString(),
		LanguageISO: meta.LanguageTag(),
	}
	if meta.Series != nil {
		info.Series = *meta.Series
	}
	if meta.SeriesIndex != nil {
		info.Number = strconv.FormatFloat(*meta.SeriesIndex, 'f', -1, 64)
	}
	return info
}

// EntryName names page i (zero based) so lexical order equals source order.
func EntryName(i int, extension string) string {
	extension = strings.TrimPrefix(extension, ".")
	if extension == "" {
		extension = "jpg"
	}
	return fmt.Sprintf("Image %03d.%s", i, extension)
}

// Write assembles a CBZ from the already-fetched pages, in source order,
// with a ComicInfo.xml generated from meta.
func Write(w io.Writer, pages [][]byte, extension string, meta book.Metadata) error {
	if len(pages) == 0 {
		return errs.Wrap(errs.ErrValidation, "cbz", "write", "no pages to archive", nil)
	}

	zw := zip.NewWriter(w)
	for i, page := range pages {
		entry, err := zw.Create(EntryName(i, extension))
		if err != nil {
			return errs.Wrap(errs.ErrValidation, "cbz", "create entry", EntryName(i, extension), err)
		}
		if _, err := entry.Write(page); err != nil {
			return errs.Wrap(errs.ErrValidation, "cbz", "write entry", EntryName(i, extension), err)
		}
	}

	infoEntry, err := zw.Create(ComicInfoName)
	if err != nil {
		return errs.Wrap(errs.ErrValidation, "cbz", "create entry", ComicInfoName, err)
	}
	encoded, err := xml.MarshalIndent(FromMetadata(meta), "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrValidation, "cbz", "encode comicinfo", "", err)
	}
	if _, err := infoEntry.Write(append([]byte(xml.Header), encoded...)); err != nil {
		return errs.Wrap(errs.ErrValidation, "cbz", "write entry", ComicInfoName, err)
	}

	return zw.Close()
}
