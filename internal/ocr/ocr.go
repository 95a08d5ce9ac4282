// Package ocr recovers text from scanned filings that carry no usable
// native text layer.
package ocr

import "context"

// Trigger thresholds: a near-empty text layer over a substantial byte size
// means a scanned document, not a failed download.
const (
	MinTextLayerLen = 50
	MinDocumentSize = 10 * 1024
)

// ShouldFallback reports whether a document's text layer is poor enough,
// relative to its size, to be worth rasterizing.
func ShouldFallback(textLayerLen int, byteSize int64) bool {
	return textLayerLen < MinTextLayerLen && byteSize > MinDocumentSize
}

// Recognizer recovers text from the first page of a PDF on disk.
type Recognizer interface {
	RecognizeFirstPage(ctx context.Context, pdfPath string) (string, error)
}
