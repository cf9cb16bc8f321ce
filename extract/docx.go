package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DocxExtractor pulls paragraph text out of an Office Open XML document.
type DocxExtractor struct {
	// MaxTextBytes caps the decompressed document body. Zero means
	// DefaultMaxTextBytes.
	MaxTextBytes int64
}

// Docx extracts with the default limit.
func Docx(filename string, data []byte) (string, error) {
	return DocxExtractor{}.Extract(filename, data)
}

// Extract implements Extractor.
func (d DocxExtractor) Extract(filename string, data []byte) (string, error) {
	limit := d.MaxTextBytes
	if limit <= 0 {
		limit = DefaultMaxTextBytes
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open %s: %w", filename, err)
	}

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		if f.UncompressedSize64 > uint64(limit) {
			return "", fmt.Errorf("%w: %s body is %d bytes, limit %d", ErrTooLarge, filename, f.UncompressedSize64, limit)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract: open %s: %w", docxBody, err)
		}
		defer rc.Close()
		return docxText(&capReader{r: rc, left: limit})
	}
	return "", fmt.Errorf("extract: %s has no %s", filename, docxBody)
}

// capReader fails with ErrTooLarge once more than left bytes are read, so a
// size header that understates the entry cannot inflate past the limit.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrTooLarge) {
			return "", fmt.Errorf("%w: %s", ErrTooLarge, docxBody)
		}
		if err != nil {
			return "", fmt.Errorf("extract: parse %s: %w", docxBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
