package source

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/figures"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// bodyTextLabels mark "submitted annual report" phrasing, folded.
var bodyTextLabels = []string{
	"innsendt arsregnskap",
	"innsendte arsregnskap",
	"arsregnskap",
	"arsrapport",
}

// BodyTextStrategy is the last resort: it scans anchor and heading text
// for a submitted-annual-report label near a 4-digit year, accepting only
// links whose target is unambiguously a document.
type BodyTextStrategy struct {
	client *fetch.Client
	pages  *PageResolver
	now    func() time.Time
}

// NewBodyTextStrategy creates the body-text heuristic strategy.
func NewBodyTextStrategy(client *fetch.Client, pages *PageResolver) *BodyTextStrategy {
	return &BodyTextStrategy{client: client, pages: pages, now: time.Now}
}

func (s *BodyTextStrategy) Name() model.SourceTag {
	return model.SourceBodyText
}

func (s *BodyTextStrategy) Discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error) {
	resp, err := s.client.Get(ctx, s.pages.PageURL(orgID), pacer)
	if err != nil {
		if eris.Is(err, fetch.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "source: body text page for %s", orgID)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse html for %s", orgID)
	}

	base := s.pages.Base()
	var cands []model.ReportCandidate

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := model.NewDocumentRef(strings.TrimSpace(a.Text()), href, base)
		if err != nil || !ref.LooksLikeDocument() {
			return
		}

		// Label and year may sit in the anchor itself, its surrounding
		// block, or the nearest preceding heading.
		contextText := anchorContext(a)
		if !containsBodyLabel(contextText) {
			return
		}
		year := findYear(contextText, s.now())
		if year == 0 {
			return
		}

		cands = append(cands, model.ReportCandidate{
			OrgID:     orgID,
			Year:      year,
			Documents: []model.DocumentRef{ref},
			Source:    model.SourceBodyText,
			Raw:       map[string]any{"context": strings.Join(strings.Fields(contextText), " ")},
		})
	})

	return model.MergeCandidates(cands), nil
}

// anchorContext gathers the text the link is judged by: the anchor, its
// parent block and the closest preceding heading.
func anchorContext(a *goquery.Selection) string {
	var parts []string
	parts = append(parts, a.Text())
	parts = append(parts, a.Parent().Text())
	if h := a.Closest("section, article, div, li, td").Find(headingSelector).First(); h.Length() > 0 {
		parts = append(parts, h.Text())
	}
	if h := a.Parent().PrevAllFiltered(headingSelector).First(); h.Length() > 0 {
		parts = append(parts, h.Text())
	}
	return strings.Join(parts, "\n")
}

func containsBodyLabel(text string) bool {
	folded := figures.Fold(text)
	for _, label := range bodyTextLabels {
		if strings.Contains(folded, label) {
			return true
		}
	}
	return false
}
