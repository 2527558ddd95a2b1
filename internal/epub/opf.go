package epub

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"grawlix/internal/book"
)

const opfNamespace = "http://www.idpf.org/2007/opf"

// ManifestItem is one resource declaration in the package manifest.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// packageDoc collects everything needed to render an OPF document. Exactly
// one of Meta or MetadataXML is used: Meta renders a fresh Dublin Core
// block, MetadataXML passes a pre-existing block through untouched (the
// merge path).
type packageDoc struct {
	UniqueIDRef string
	Meta        *book.Metadata
	MetadataXML string
	CoverID     string
	Items       []ManifestItem
	Spine       []string
}

func (d packageDoc) render() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<package xmlns="%s" version="3.0" unique-identifier="%s">`+"\n", opfNamespace, xmlEscape(d.UniqueIDRef))

	if d.Meta != nil {
		renderMetadata(&b, *d.Meta, d.UniqueIDRef, d.CoverID)
	} else {
		b.WriteString(d.MetadataXML)
		b.WriteString("\n")
	}

	b.WriteString("  <manifest>\n")
	for _, item := range d.Items {
		fmt.Fprintf(&b, `    <item id="%s" href="%s" media-type="%s"`, xmlEscape(item.ID), xmlEscape(item.Href), item.MediaType)
		if item.Properties != "" {
			fmt.Fprintf(&b, ` properties="%s"`, item.Properties)
		}
		b.WriteString("/>\n")
	}
	b.WriteString("  </manifest>\n")

	b.WriteString("  <spine>\n")
	for _, idref := range d.Spine {
		fmt.Fprintf(&b, `    <itemref idref="%s"/>`+"\n", xmlEscape(idref))
	}
	b.WriteString("  </spine>\n")
	b.WriteString("</package>\n")
	return b.String()
}

// renderMetadata writes a Dublin Core metadata block from normalized book
// metadata. The identifier falls back to a random UUID when no ISBN is
// present so the package always carries a unique identifier.
func renderMetadata(b *strings.Builder, meta book.Metadata, idRef, coverID string) {
	b.WriteString(`  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` + "\n")

	if meta.ISBN != nil {
		fmt.Fprintf(b, `    <dc:identifier id="%s" opf:scheme="ISBN" xmlns:opf="%s">%s</dc:identifier>`+"\n", xmlEscape(idRef), opfNamespace, xmlEscape(*meta.ISBN))
	} else {
		fmt.Fprintf(b, `    <dc:identifier id="%s">urn:uuid:%s</dc:identifier>`+"\n", xmlEscape(idRef), uuid.NewString())
	}
	fmt.Fprintf(b, "    <dc:title>%s</dc:title>\n", xmlEscape(meta.Title))
	for _, author := range meta.Authors {
		fmt.Fprintf(b, "    <dc:creator>%s</dc:creator>\n", xmlEscape(author))
	}
	lang := meta.LanguageTag()
	if lang == "" {
		lang = "en"
	}
	fmt.Fprintf(b, "    <dc:language>%s</dc:language>\n", lang)
	if meta.Publisher != nil {
		fmt.Fprintf(b, "    <dc:publisher>%s</dc:publisher>\n", xmlEscape(*meta.Publisher))
	}
	if meta.Description != nil {
		fmt.Fprintf(b, "    <dc:description>%s</dc:description>\n", xmlEscape(*meta.Description))
	}
	if meta.ReleaseDate != nil {
		fmt.Fprintf(b, "    <dc:date>%s</dc:date>\n", meta.ReleaseDate.Format("2006-01-02"))
	}
	if meta.Series != nil {
		fmt.Fprintf(b, `    <meta name="calibre:series" content="%s"/>`+"\n", xmlEscape(*meta.Series))
	}
	if coverID != "" {
		// EPUB 2 reader compatibility alongside the cover-image property.
		fmt.Fprintf(b, `    <meta name="cover" content="%s"/>`+"\n", xmlEscape(coverID))
	}
	if meta.SeriesIndex != nil {
		fmt.Fprintf(b, `    <meta name="calibre:series_index" content="%s"/>`+"\n", strconv.FormatFloat(*meta.SeriesIndex, 'f', -1, 64))
	}
	fmt.Fprintf(b, `    <meta property="dcterms:modified">%s</meta>`+"\n", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString("  </metadata>\n")
}
