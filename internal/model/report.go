package model

import (
	"strings"
	"time"
	"unicode"
)

// SourceTag identifies which discovery strategy produced a candidate.
type SourceTag string

const (
	SourceAPI             SourceTag = "api"
	SourceEmbeddedPayload SourceTag = "embedded-payload"
	SourceStaticDOM       SourceTag = "static-dom"
	SourceRenderedDOM     SourceTag = "rendered-dom"
	SourceBodyText        SourceTag = "body-text"
)

// sourcePriority orders tags from strongest to weakest. Lower is stronger.
var sourcePriority = map[SourceTag]int{
	SourceAPI:             0,
	SourceEmbeddedPayload: 1,
	SourceStaticDOM:       2,
	SourceRenderedDOM:     3,
	SourceBodyText:        4,
}

// Stronger reports whether a outranks b as a candidate source.
func (a SourceTag) Stronger(b SourceTag) bool {
	pa, oka := sourcePriority[a]
	pb, okb := sourcePriority[b]
	if !oka || !okb {
		return oka
	}
	return pa < pb
}

// MinReportYear is the oldest filing year the pipeline accepts. Older
// headings are almost always founding dates or page furniture.
const MinReportYear = 1990

// ValidYear reports whether y is a plausible filing year at time now.
func ValidYear(y int, now time.Time) bool {
	return y >= MinReportYear && y <= now.Year()+1
}

// NormalizeOrgID strips everything but digits from an organization
// identifier ("919 646 561", "NO919646561MVA" and plain forms all
// normalize to "919646561"). Returns "" when no digits remain.
func NormalizeOrgID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FinancialFigures holds the three target figures. A nil field means the
// figure was not recovered; all nil means extraction failed for the year.
type FinancialFigures struct {
	NetResult    *int64 `json:"netResult,omitempty"`
	SalesRevenue *int64 `json:"salesRevenue,omitempty"`
	TotalIncome  *int64 `json:"totalIncome,omitempty"`
}

// Empty reports whether no figure was recovered.
func (f FinancialFigures) Empty() bool {
	return f.NetResult == nil && f.SalesRevenue == nil && f.TotalIncome == nil
}

// ReportCandidate is a (year, documents) pair discovered by a strategy
// before any document has been downloaded.
type ReportCandidate struct {
	OrgID     string         `json:"orgId"`
	Year      int            `json:"year"`
	Documents []DocumentRef  `json:"documents,omitempty"`
	Source    SourceTag      `json:"sourceTag"`
	Raw       map[string]any `json:"raw,omitempty"` // strategy-specific verbatim record

	// Figures carried directly in the source payload (API strategy only).
	// When populated, document retrieval is skipped for this year.
	Figures *FinancialFigures `json:"figures,omitempty"`
}

// DocumentSummary is the persisted view of one retrieved document.
type DocumentSummary struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Type         string `json:"type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	PDFText      string `json:"pdfText,omitempty"`
	PDFPageCount int    `json:"pdfPageCount,omitempty"`
	FetchError   string `json:"fetchError,omitempty"`
}

// ReportPayload is the JSON document stored per (org, year).
type ReportPayload struct {
	SourceTag SourceTag         `json:"sourceTag"`
	Summary   map[string]any    `json:"summary,omitempty"`
	Documents []DocumentSummary `json:"documents,omitempty"`
	Raw       map[string]any    `json:"raw,omitempty"`
}

// PersistedReport is one row of the report store.
type PersistedReport struct {
	OrgID     string        `json:"org_id"`
	Year      int           `json:"year"`
	Payload   ReportPayload `json:"payload"`
	ScrapedAt time.Time     `json:"scraped_at"`
}

// RunStatus represents the state of a batch scrape run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary is the persisted outcome of one batch invocation.
type RunSummary struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Partial    int       `json:"partial"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
