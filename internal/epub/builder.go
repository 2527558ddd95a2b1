package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"grawlix/internal/book"
	"grawlix/internal/errs"
)

const (
	contentDir  = "OEBPS"
	opfEntry    = contentDir + "/content.opf"
	navEntry    = contentDir + "/nav.xhtml"
	uniqueIDRef = "book-id"
)

// Chapter is one spine document ready to be archived.
type Chapter struct {
	Title    string
	FileName string
	Content  []byte
}

// Cover is an optional cover image.
type Cover struct {
	Extension string
	Data      []byte
}

// ChapterFromHTML extracts chapter content from a fetched HTML page and
// wraps it in a well-formed XHTML document. A non-empty selector narrows
// the page to one element; otherwise the document body is used whole.
func ChapterFromHTML(index int, title string, raw []byte, selector string) (Chapter, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Chapter{}, errs.Wrap(errs.ErrValidation, "epub", "parse chapter html", title, err)
	}

	selection := doc.Find("body")
	if selector != "" {
		if found := doc.Find(selector); found.Length() > 0 {
			selection = found.First()
		}
	}
	inner, err := selection.Html()
	if err != nil {
		return Chapter{}, errs.Wrap(errs.ErrValidation, "epub", "serialize chapter html", title, err)
	}

	return Chapter{
		Title:    title,
		FileName: fmt.Sprintf("chapter%03d.xhtml", index),
		Content:  []byte(wrapXHTML(title, inner)),
	}, nil
}

func wrapXHTML(title, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>%s</title>
</head>
<body>
%s
</body>
</html>
`, xmlEscape(title), body)
}

// Build writes a complete EPUB containing the chapters in order, an
// optional cover, a navigation document, and a package descriptor rendered
// from meta.
func Build(w io.Writer, meta book.Metadata, chapters []Chapter, cover *Cover) error {
	if len(chapters) == 0 {
		return errs.Wrap(errs.ErrValidation, "epub", "build", "no chapters to archive", nil)
	}

	zw := zip.NewWriter(w)
	if err := writeMimetype(zw); err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "write mimetype", "", err)
	}
	if err := writeContainer(zw, opfEntry); err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "write container", "", err)
	}

	items := []ManifestItem{
		{ID: "nav", Href: "nav.xhtml", MediaType: "application/xhtml+xml", Properties: "nav"},
	}
	var spine []string
	for i, chapter := range chapters {
		id := fmt.Sprintf("chapter%03d", i)
		items = append(items, ManifestItem{ID: id, Href: chapter.FileName, MediaType: "application/xhtml+xml"})
		spine = append(spine, id)
		if err := writeEntry(zw, contentDir+"/"+chapter.FileName, chapter.Content); err != nil {
			return err
		}
	}
	var coverID string
	if cover != nil {
		name := "cover." + strings.TrimPrefix(cover.Extension, ".")
		coverID = "cover-image"
		items = append(items, ManifestItem{ID: coverID, Href: name, MediaType: mediaType(name), Properties: "cover-image"})
		if err := writeEntry(zw, contentDir+"/"+name, cover.Data); err != nil {
			return err
		}
	}

	if err := writeEntry(zw, navEntry, []byte(renderNav(meta.Title, navPoints(chapters)))); err != nil {
		return err
	}

	doc := packageDoc{UniqueIDRef: uniqueIDRef, Meta: &meta, CoverID: coverID, Items: items, Spine: spine}
	if err := writeEntry(zw, opfEntry, []byte(doc.render())); err != nil {
		return err
	}
	return zw.Close()
}

type navPoint struct {
	Title string
	Href  string
}

func navPoints(chapters []Chapter) []navPoint {
	points := make([]navPoint, 0, len(chapters))
	for _, chapter := range chapters {
		title := chapter.Title
		if title == "" {
			title = chapter.FileName
		}
		points = append(points, navPoint{Title: title, Href: chapter.FileName})
	}
	return points
}

// renderNav produces the EPUB 3 navigation document listing chapters in
// reading order.
func renderNav(bookTitle string, points []navPoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>%s</title>
</head>
<body>
  <nav epub:type="toc">
    <ol>
`, xmlEscape(bookTitle))
	for _, point := range points {
		fmt.Fprintf(&b, `      <li><a href="%s">%s</a></li>`+"\n", xmlEscape(point.Href), xmlEscape(point.Title))
	}
	b.WriteString(`    </ol>
  </nav>
</body>
</html>
`)
	return b.String()
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	entry, err := zw.Create(name)
	if err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "create entry", name, err)
	}
	if _, err := entry.Write(content); err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "write entry", name, err)
	}
	return nil
}
