// Package metawrite merges normalized metadata into already-assembled
// EPUB and CBZ archives. Only the package descriptor entry is rewritten;
// every other archive entry is copied through byte-for-byte, and a
// descriptor that fails to parse leaves the archive untouched.
package metawrite

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"grawlix/internal/book"
	"grawlix/internal/cbz"
	"grawlix/internal/epub"
	"grawlix/internal/errs"
)

// WriteEPUB returns a copy of the archive whose OPF metadata block carries
// every populated field of meta. Fields absent from meta keep whatever the
// descriptor already declares.
func WriteEPUB(archive []byte, meta book.Metadata) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "open epub", "archive is not a zip file", err)
	}
	opfPath, err := epub.FindOPFPath(zr)
	if err != nil {
		return nil, err
	}
	opfData, err := epub.ReadEntry(zr, opfPath)
	if err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "read descriptor", opfPath, err)
	}

	updated, err := updateOPF(opfData, meta)
	if err != nil {
		return nil, err
	}
	return rewriteArchive(zr, opfPath, updated)
}

// WriteCBZ returns a copy of the archive with its ComicInfo.xml updated
// from meta. An archive without a ComicInfo.xml gains a fresh one.
func WriteCBZ(archive []byte, meta book.Metadata) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "open cbz", "archive is not a zip file", err)
	}

	existing, err := epub.ReadEntry(zr, cbz.ComicInfoName)
	if err != nil {
		// No sidecar yet; generate one from scratch.
		encoded, err := xml.MarshalIndent(cbz.FromMetadata(meta), "", "  ")
		if err != nil {
			return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "encode comicinfo", "", err)
		}
		return rewriteArchive(zr, cbz.ComicInfoName, append([]byte(xml.Header), encoded...))
	}

	updated, err := updateComicInfo(existing, meta)
	if err != nil {
		return nil, err
	}
	return rewriteArchive(zr, cbz.ComicInfoName, updated)
}

// rewriteArchive copies every entry raw except replaced, which is written
// fresh. A replaced entry that did not exist before is appended. The
// mimetype entry, when present, stays first so EPUB readers keep accepting
// the file.
func rewriteArchive(zr *zip.Reader, replaced string, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	written := false

	for _, f := range zr.File {
		if f.Name == replaced {
			entry, err := zw.CreateHeader(&zip.FileHeader{Name: replaced, Method: zip.Deflate})
			if err != nil {
				return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "rewrite entry", replaced, err)
			}
			if _, err := entry.Write(content); err != nil {
				return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "rewrite entry", replaced, err)
			}
			written = true
			continue
		}
		if err := zw.Copy(f); err != nil {
			return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "copy entry", f.Name, err)
		}
	}
	if !written {
		entry, err := zw.Create(replaced)
		if err != nil {
			return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "append entry", replaced, err)
		}
		if _, err := entry.Write(content); err != nil {
			return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "append entry", replaced, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "finalize archive", "", err)
	}
	return buf.Bytes(), nil
}

func updateOPF(opfData []byte, meta book.Metadata) ([]byte, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(opfData))
	if err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "parse descriptor", "package descriptor is not well-formed XML", err)
	}
	metadataNode := xmlquery.FindOne(doc, "//package/metadata")
	if metadataNode == nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "parse descriptor", "package descriptor has no metadata element", nil)
	}

	setDCElement(metadataNode, "title", meta.Title)
	if len(meta.Authors) > 0 {
		removeDCElements(metadataNode, "creator")
		for _, author := range meta.Authors {
			creator := dcElement("creator", author)
			creator.SetAttr("opf:role", "aut")
			xmlquery.AddChild(metadataNode, creator)
		}
	}
	if lang := meta.LanguageTag(); lang != "" {
		setDCElement(metadataNode, "language", lang)
	}
	if meta.Publisher != nil {
		setDCElement(metadataNode, "publisher", *meta.Publisher)
	}
	if meta.Description != nil {
		setDCElement(metadataNode, "description", *meta.Description)
	}
	if meta.ReleaseDate != nil {
		setDCElement(metadataNode, "date", meta.ReleaseDate.Format("2006-01-02"))
	}
	if meta.ISBN != nil {
		removeISBNIdentifiers(metadataNode)
		identifier := dcElement("identifier", *meta.ISBN)
		identifier.SetAttr("opf:scheme", "ISBN")
		xmlquery.AddChild(metadataNode, identifier)
	}
	if meta.Series != nil {
		setCalibreMeta(metadataNode, "calibre:series", *meta.Series)
	}
	if meta.SeriesIndex != nil {
		setCalibreMeta(metadataNode, "calibre:series_index", strconv.FormatFloat(*meta.SeriesIndex, 'f', -1, 64))
	}

	return []byte(doc.OutputXML(false)), nil
}

func updateComicInfo(data []byte, meta book.Metadata) ([]byte, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "parse comicinfo", "ComicInfo.xml is not well-formed XML", err)
	}
	root := xmlquery.FindOne(doc, "//ComicInfo")
	if root == nil {
		return nil, errs.Wrap(errs.ErrMetadataWrite, "metawrite", "parse comicinfo", "document has no ComicInfo element", nil)
	}

	setChildElement(root, "Title", meta.Title)
	if len(meta.Authors) > 0 {
		setChildElement(root, "Writer", meta.AuthorString())
	}
	if meta.Series != nil {
		setChildElement(root, "Series", *meta.Series)
	}
	if meta.SeriesIndex != nil {
		setChildElement(root, "Number", strconv.FormatFloat(*meta.SeriesIndex, 'f', -1, 64))
	}
	if lang := meta.LanguageTag(); lang != "" {
		setChildElement(root, "LanguageISO", lang)
	}

	return []byte(doc.OutputXML(false)), nil
}

func dcElement(local, text string) *xmlquery.Node {
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: local, Prefix: "dc"}
	xmlquery.AddChild(n, &xmlquery.Node{Type: xmlquery.TextNode, Data: text})
	return n
}

// setDCElement replaces every dc:<local> child with a single fresh one.
// Empty values leave the document unchanged.
func setDCElement(metadataNode *xmlquery.Node, local, text string) {
	if text == "" {
		return
	}
	removeDCElements(metadataNode, local)
	xmlquery.AddChild(metadataNode, dcElement(local, text))
}

func removeDCElements(metadataNode *xmlquery.Node, local string) {
	for _, child := range elementChildren(metadataNode) {
		if child.Prefix == "dc" && child.Data == local {
			xmlquery.RemoveFromTree(child)
		}
	}
}

// removeISBNIdentifiers drops only identifiers that declare an ISBN
// scheme; other identifiers (UUIDs, DOIs) survive the merge.
func removeISBNIdentifiers(metadataNode *xmlquery.Node) {
	for _, child := range elementChildren(metadataNode) {
		if child.Data != "identifier" {
			continue
		}
		for _, attr := range child.Attr {
			if attr.Name.Local == "scheme" && strings.EqualFold(attr.Value, "ISBN") {
				xmlquery.RemoveFromTree(child)
				break
			}
		}
	}
}

func setCalibreMeta(metadataNode *xmlquery.Node, name, content string) {
	for _, child := range elementChildren(metadataNode) {
		if child.Data != "meta" {
			continue
		}
		if child.SelectAttr("name") == name {
			xmlquery.RemoveFromTree(child)
		}
	}
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: "meta"}
	n.SetAttr("name", name)
	n.SetAttr("content", content)
	xmlquery.AddChild(metadataNode, n)
}

func setChildElement(parent *xmlquery.Node, name, text string) {
	if text == "" {
		return
	}
	for _, child := range elementChildren(parent) {
		if child.Prefix == "" && child.Data == name {
			xmlquery.RemoveFromTree(child)
		}
	}
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: name}
	xmlquery.AddChild(n, &xmlquery.Node{Type: xmlquery.TextNode, Data: text})
	xmlquery.AddChild(parent, n)
}

// elementChildren snapshots the element children so callers can remove
// nodes while iterating.
func elementChildren(parent *xmlquery.Node) []*xmlquery.Node {
	var children []*xmlquery.Node
	for child := parent.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			children = append(children, child)
		}
	}
	return children
}
