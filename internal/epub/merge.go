package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"

	"grawlix/internal/errs"
)

const mergedOPFEntry = "content.opf"

// Merge concatenates several complete partial EPUB archives into one book.
// The first part's metadata block is the authoritative base (callers
// overlay their own metadata afterwards). Manifest and spine entries are
// concatenated in part order; resource identifiers that collide across
// parts gain a part-index prefix, while entries sharing a path are treated
// as the same resource and deduplicated with the larger payload winning.
func Merge(w io.Writer, parts [][]byte, toc map[string]string) error {
	if len(parts) == 0 {
		return errs.Wrap(errs.ErrValidation, "epub", "merge", "no parts to merge", nil)
	}

	archives := make([]*zip.Reader, len(parts))
	for i, part := range parts {
		zr, err := zip.NewReader(bytes.NewReader(part), int64(len(part)))
		if err != nil {
			return errs.Wrap(errs.ErrValidation, "epub", "merge", fmt.Sprintf("part %d is not a zip archive", i), err)
		}
		archives[i] = zr
	}

	metadataXML, uniqueIDRef, err := baseMetadata(archives[0])
	if err != nil {
		return err
	}

	generateNav := len(toc) > 0

	var (
		items     []ManifestItem
		spine     []string
		spineSeen = map[string]bool{}
		usedIDs   = map[string]bool{}
		// itemByPath maps a rebased resource path to its merged manifest id.
		itemByPath = map[string]string{}
		payload    = map[string][]byte{}
		order      []string
	)

	for n, zr := range archives {
		opfPath, err := FindOPFPath(zr)
		if err != nil {
			return errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", fmt.Sprintf("part %d has no package descriptor", n), err)
		}
		opfData, err := ReadEntry(zr, opfPath)
		if err != nil {
			return errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", fmt.Sprintf("part %d: read %s", n, opfPath), err)
		}
		doc, err := xmlquery.Parse(bytes.NewReader(opfData))
		if err != nil {
			return errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", fmt.Sprintf("part %d: parse %s", n, opfPath), err)
		}
		opfDir := path.Dir(opfPath)

		idMap := map[string]string{}
		for _, item := range xmlquery.Find(doc, "//manifest/item") {
			id := item.SelectAttr("id")
			href := item.SelectAttr("href")
			if id == "" || href == "" {
				continue
			}
			full := rebase(opfDir, href)
			if strings.HasSuffix(full, ".ncx") {
				continue
			}
			if existingID, ok := itemByPath[full]; ok {
				idMap[id] = existingID
				continue
			}
			newID := id
			for usedIDs[newID] {
				newID = fmt.Sprintf("p%02d_%s", n, newID)
			}
			usedIDs[newID] = true
			idMap[id] = newID
			itemByPath[full] = newID

			mt := item.SelectAttr("media-type")
			if mt == "" {
				mt = mediaType(full)
			}
			props := item.SelectAttr("properties")
			if generateNav || n > 0 {
				props = dropProperty(props, "nav")
			}
			items = append(items, ManifestItem{ID: newID, Href: full, MediaType: mt, Properties: props})
		}

		for _, itemref := range xmlquery.Find(doc, "//spine/itemref") {
			idref := itemref.SelectAttr("idref")
			mapped, ok := idMap[idref]
			if !ok || spineSeen[mapped] {
				continue
			}
			spineSeen[mapped] = true
			spine = append(spine, mapped)
		}

		for _, f := range zr.File {
			if skipMergeEntry(f.Name) {
				continue
			}
			data, err := ReadEntry(zr, f.Name)
			if err != nil {
				return errs.Wrap(errs.ErrValidation, "epub", "merge", fmt.Sprintf("part %d: read %s", n, f.Name), err)
			}
			existing, ok := payload[f.Name]
			if !ok {
				order = append(order, f.Name)
				payload[f.Name] = data
				continue
			}
			// Non-empty beats empty, larger beats smaller.
			if len(data) > len(existing) {
				payload[f.Name] = data
			}
		}
	}

	if generateNav {
		navName := "nav.xhtml"
		for payload[navName] != nil || itemByPath[navName] != "" {
			navName = "merged-" + navName
		}
		navID := "nav"
		for usedIDs[navID] {
			navID = "merged-" + navID
		}
		usedIDs[navID] = true
		items = append(items, ManifestItem{ID: navID, Href: navName, MediaType: "application/xhtml+xml", Properties: "nav"})
		order = append(order, navName)
		payload[navName] = []byte(renderNav("", tocPoints(toc, items, spine, itemByPath)))
	}

	zw := zip.NewWriter(w)
	if err := writeMimetype(zw); err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "merge", "write mimetype", err)
	}
	if err := writeContainer(zw, mergedOPFEntry); err != nil {
		return errs.Wrap(errs.ErrValidation, "epub", "merge", "write container", err)
	}
	for _, name := range order {
		if err := writeEntry(zw, name, payload[name]); err != nil {
			return err
		}
	}
	doc := packageDoc{UniqueIDRef: uniqueIDRef, MetadataXML: metadataXML, Items: items, Spine: spine}
	if err := writeEntry(zw, mergedOPFEntry, []byte(doc.render())); err != nil {
		return err
	}
	return zw.Close()
}

// baseMetadata extracts the first part's metadata block verbatim together
// with the package's unique-identifier reference.
func baseMetadata(zr *zip.Reader) (string, string, error) {
	opfPath, err := FindOPFPath(zr)
	if err != nil {
		return "", "", err
	}
	opfData, err := ReadEntry(zr, opfPath)
	if err != nil {
		return "", "", errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", "read base package descriptor", err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(opfData))
	if err != nil {
		return "", "", errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", "parse base package descriptor", err)
	}
	metaNode := xmlquery.FindOne(doc, "//metadata")
	if metaNode == nil {
		return "", "", errs.Wrap(errs.ErrMetadataWrite, "epub", "merge", "base package descriptor has no metadata element", nil)
	}
	uniqueIDRef := "book-id"
	if pkg := xmlquery.FindOne(doc, "//package"); pkg != nil {
		if ref := pkg.SelectAttr("unique-identifier"); ref != "" {
			uniqueIDRef = ref
		}
	}
	return metaNode.OutputXML(true), uniqueIDRef, nil
}

// skipMergeEntry filters per-part plumbing that the merged archive rebuilds
// itself: the mimetype, container metadata, package descriptors, and NCX
// tables.
func skipMergeEntry(name string) bool {
	if strings.HasSuffix(name, "/") {
		return true
	}
	if name == MimetypeEntry || strings.HasPrefix(name, "META-INF/") {
		return true
	}
	return strings.HasSuffix(name, ".opf") || strings.HasSuffix(name, ".ncx")
}

func rebase(opfDir, href string) string {
	href = path.Clean(href)
	if opfDir == "." || opfDir == "" {
		return href
	}
	return path.Clean(path.Join(opfDir, href))
}

func dropProperty(props, drop string) string {
	if props == "" {
		return ""
	}
	fields := strings.Fields(props)
	kept := fields[:0]
	for _, f := range fields {
		if f != drop {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// tocPoints orders navigation entries by merged spine order, matching TOC
// keys against resource file names the way the sources report them
// (optionally carrying a fragment).
func tocPoints(toc map[string]string, items []ManifestItem, spine []string, itemByPath map[string]string) []navPoint {
	hrefByID := map[string]string{}
	for _, item := range items {
		hrefByID[item.ID] = item.Href
	}
	var points []navPoint
	for _, idref := range spine {
		href := hrefByID[idref]
		base := path.Base(href)
		for key, title := range toc {
			if strings.SplitN(key, "#", 2)[0] == base {
				points = append(points, navPoint{Title: title, Href: href})
				break
			}
		}
	}
	return points
}
