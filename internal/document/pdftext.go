package document

import (
	"context"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// PDFTextLayer extracts the native text layer with ledongthuc/pdf.
type PDFTextLayer struct{}

// NewPDFTextLayer returns the library-backed text extractor.
func NewPDFTextLayer() *PDFTextLayer {
	return &PDFTextLayer{}
}

// ExtractText reads every page's plain text. Pages whose content streams
// cannot be decoded are skipped rather than failing the document.
func (p *PDFTextLayer) ExtractText(_ context.Context, pdfPath string) (string, int, error) {
	f, reader, err := pdflib.Open(pdfPath)
	if err != nil {
		return "", 0, eris.Wrapf(err, "document: open pdf %s", pdfPath)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\f")
		}
		buf.WriteString(text)
	}
	return buf.String(), numPages, nil
}
