// Package document downloads report documents, validates their PDF
// container and extracts the native text layer.
package document

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/resilience"
)

// Typed retrieval failures. The orchestrator records these in the persisted
// payload rather than aborting the year.
var (
	ErrNotAPDF      = eris.New("document: response does not contain a plausible PDF")
	ErrTruncated    = eris.New("document: PDF end marker missing")
	ErrFetchTimeout = eris.New("document: download timed out")
)

// minPDFSize rejects spans too small to be a real filing.
const minPDFSize = 1000

var (
	pdfStartMarker = []byte("%PDF")
	pdfEndMarker   = []byte("%%EOF")
)

// TextExtractor recovers the native text layer of a PDF on disk.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfPath string) (text string, pageCount int, err error)
}

// Retriever downloads and validates documents. It never retries network
// failures itself; retry policy belongs to the orchestrator.
type Retriever struct {
	client  *fetch.Client
	tempDir string
	extract TextExtractor
}

// NewRetriever creates a Retriever writing scratch files under tempDir.
func NewRetriever(client *fetch.Client, tempDir string, extract TextExtractor) *Retriever {
	return &Retriever{client: client, tempDir: tempDir, extract: extract}
}

// Retrieve downloads ref, sniffs the PDF span out of whatever framing the
// server wrapped it in, parses the text layer and hands the document plus
// the on-disk PDF path to fn. The temp file exists only for fn's duration
// and is removed on every exit path, success or failure.
func (r *Retriever) Retrieve(ctx context.Context, ref model.DocumentRef, pacer *fetch.Pacer, fn func(doc *model.ExtractedDocument, pdfPath string) error) error {
	resp, err := r.client.Download(ctx, ref.URL, pacer)
	if err != nil {
		if isTimeout(err) {
			// Keep the typed sentinel but preserve retryability; a slow
			// upstream is transient, a bad container is not.
			return resilience.NewTransientError(eris.Wrapf(ErrFetchTimeout, "%s", ref.URL), 0)
		}
		return eris.Wrapf(err, "document: download %s", ref.URL)
	}

	span, meta, err := SniffPDF(resp.Body)
	if err != nil {
		zap.L().Debug("document: container validation failed",
			zap.String("url", ref.URL),
			zap.Int("bytes", len(resp.Body)),
			zap.String("content_type", resp.ContentType),
			zap.Any("markers", meta),
			zap.Error(err),
		)
		return err
	}
	meta["contentType"] = resp.ContentType

	tmp, err := os.CreateTemp(r.tempDir, "regnskap-*.pdf")
	if err != nil {
		return eris.Wrap(err, "document: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(span); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "document: write temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "document: close temp file %s", tmpPath)
	}

	text, pages, err := r.extract.ExtractText(ctx, tmpPath)
	if err != nil {
		// A valid container with an unreadable text layer still goes to
		// the OCR fallback, so continue with empty text.
		zap.L().Debug("document: text layer extraction failed",
			zap.String("url", ref.URL),
			zap.Error(err),
		)
		text, pages = "", 0
	}

	doc := &model.ExtractedDocument{
		Ref:               ref,
		TextLayer:         text,
		PageCount:         pages,
		ByteSize:          int64(len(span)),
		ContainerMetadata: meta,
	}
	return fn(doc, tmpPath)
}

// SniffPDF locates the PDF span inside body by content, not headers. Some
// upstream responses embed the document in a larger framing envelope, so
// the start and end markers are searched rather than trusted.
func SniffPDF(body []byte) ([]byte, map[string]any, error) {
	meta := map[string]any{"byteSize": len(body)}

	start := bytes.Index(body, pdfStartMarker)
	meta["pdfStart"] = start
	if start < 0 {
		return nil, meta, ErrNotAPDF
	}

	end := bytes.LastIndex(body, pdfEndMarker)
	meta["pdfEnd"] = end
	if end < start {
		return nil, meta, ErrTruncated
	}
	span := body[start : end+len(pdfEndMarker)]

	if len(span) < minPDFSize {
		return nil, meta, ErrNotAPDF
	}
	return span, meta, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
