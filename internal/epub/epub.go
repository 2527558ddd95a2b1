// Package epub builds EPUB archives from HTML chapters and merges partial
// EPUB archives into one book.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"grawlix/internal/errs"
)

const (
	// MimetypeEntry must be the first archive entry and stored without
	// compression.
	MimetypeEntry = "mimetype"
	// Mimetype is the EPUB media type.
	Mimetype = "application/epub+zip"
	// ContainerEntry locates the package descriptor.
	ContainerEntry = "META-INF/container.xml"

	containerNamespace = "urn:oasis:names:tc:opendocument:xmlns:container"
)

// writeMimetype emits the mimetype entry. It must come before everything
// else and be stored, not deflated.
func writeMimetype(zw *zip.Writer) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: MimetypeEntry, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.WriteString(entry, Mimetype)
	return err
}

func writeContainer(zw *zip.Writer, opfPath string) error {
	entry, err := zw.Create(ContainerEntry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(entry, `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="%s">
  <rootfiles>
    <rootfile full-path="%s" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`, containerNamespace, xmlEscape(opfPath))
	return err
}

type containerXML struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// FindOPFPath locates the package descriptor inside an EPUB archive,
// preferring META-INF/container.xml and falling back to the first .opf
// entry.
func FindOPFPath(zr *zip.Reader) (string, error) {
	if data, err := ReadEntry(zr, ContainerEntry); err == nil {
		var container containerXML
		if err := xml.Unmarshal(data, &container); err == nil {
			for _, rootfile := range container.RootFiles {
				if rootfile.FullPath != "" {
					return rootfile.FullPath, nil
				}
			}
		}
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".opf") {
			return f.Name, nil
		}
	}
	return "", errs.Wrap(errs.ErrMetadataWrite, "epub", "locate opf", "archive has no package descriptor", nil)
}

// ReadEntry returns the content of one archive entry.
func ReadEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("entry %q not found", name)
}

// mediaType maps a file name to its manifest media type.
func mediaType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".xhtml", ".html", ".htm":
		return "application/xhtml+xml"
	case ".ncx":
		return "application/x-dtbncx+xml"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".css":
		return "text/css"
	case ".ttf", ".otf":
		return "font/otf"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
