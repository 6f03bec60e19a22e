package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"
	pdf "github.com/ledongthuc/pdf"
)

// Rendering at 144 DPI doubles the 72 DPI PDF user space, enough for the
// fine print and the QR module grid to stay legible.
const renderDPI = 144

var (
	ErrDocumentPassword   = errors.New("document is password protected")
	ErrDocumentUnreadable = errors.New("document cannot be read")
)

// Document wraps the two read paths over one PDF buffer: MuPDF for page
// rasterization and ledongthuc/pdf for the text content stream.
type Document struct {
	fz     *fitz.Document
	reader *pdf.Reader
	pages  int
}

func OpenDocument(blob []byte) (*Document, error) {
	fz, err := fitz.NewFromMemory(blob)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) || strings.Contains(err.Error(), "password") {
			return nil, ErrDocumentPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		_ = fz.Close()
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}

	return &Document{fz: fz, reader: reader, pages: fz.NumPage()}, nil
}

func (d *Document) PageCount() int {
	return d.pages
}

// RenderPage rasterizes the 1-based page into a bitmap. A failure here is
// scoped to the page, not the document.
func (d *Document) RenderPage(pageNumber int) (image.Image, error) {
	img, err := d.fz.ImageDPI(pageNumber-1, renderDPI)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNumber, err)
	}
	return img, nil
}

// PageTokens returns the ordered, trimmed, non-empty text tokens of the
// 1-based page, in content-stream order.
func (d *Document) PageTokens(pageNumber int) ([]string, error) {
	p := d.reader.Page(pageNumber)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d: empty page object", pageNumber)
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return nil, fmt.Errorf("page %d: extract text: %w", pageNumber, err)
	}
	return strings.Fields(text), nil
}

func (d *Document) Close() {
	_ = d.fz.Close()
}
