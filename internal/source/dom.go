package source

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/figures"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// statementSectionLabels mark a financial-statements section, compared
// after diacritic folding.
var statementSectionLabels = []string{
	"innsendte arsregnskap",
	"arsregnskap",
	"regnskapstall",
}

const headingSelector = "h1, h2, h3, h4, h5, dt, caption"

// candidatesFromDOM reads year headings with adjacent document links out of
// a labeled financial-statements section. Shared by the static-DOM and
// rendered-DOM strategies.
func candidatesFromDOM(doc *goquery.Document, orgID string, base *url.URL, tag model.SourceTag, now time.Time) []model.ReportCandidate {
	var cands []model.ReportCandidate

	sections := labeledSections(doc)
	sections.Each(func(_ int, section *goquery.Selection) {
		// Table layouts: year and link share a row.
		section.Find("tr").Each(func(_ int, row *goquery.Selection) {
			year := findYear(row.Text(), now)
			if year == 0 {
				return
			}
			docs := collectDocLinks(row.Find("a"), base)
			if len(docs) > 0 {
				cands = append(cands, domCandidate(orgID, year, docs, tag, row.Text()))
			}
		})

		// Heading layouts: a year heading followed by link siblings.
		section.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
			year := findYear(h.Text(), now)
			if year == 0 {
				return
			}
			links := h.Find("a").AddSelection(h.NextUntil(headingSelector).Find("a"))
			docs := collectDocLinks(links, base)
			if len(docs) > 0 {
				cands = append(cands, domCandidate(orgID, year, docs, tag, h.Text()))
			}
		})
	})

	return cands
}

// labeledSections returns containers whose own heading names the
// financial-statements section.
func labeledSections(doc *goquery.Document) *goquery.Selection {
	return doc.Find("section, article, div, table").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		heading := sel.ChildrenFiltered(headingSelector).First()
		if heading.Length() == 0 {
			heading = sel.Find(headingSelector).First()
		}
		if heading.Length() == 0 {
			return false
		}
		folded := figures.Fold(heading.Text())
		for _, label := range statementSectionLabels {
			if strings.Contains(folded, label) {
				return true
			}
		}
		return false
	})
}

// collectDocLinks validates anchors into DocumentRefs, dropping
// placeholders and information pages.
func collectDocLinks(links *goquery.Selection, base *url.URL) []model.DocumentRef {
	var docs []model.DocumentRef
	seen := make(map[string]bool)
	links.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		ref, err := model.NewDocumentRef(strings.TrimSpace(a.Text()), href, base)
		if err != nil {
			zap.L().Debug("source: dom link rejected", zap.String("href", href), zap.Error(err))
			return
		}
		if hint, ok := a.Attr("type"); ok {
			ref.MediaTypeHint = hint
		}
		if !ref.LooksLikeDocument() {
			return
		}
		if seen[ref.URL] {
			return
		}
		seen[ref.URL] = true
		docs = append(docs, ref)
	})
	return docs
}

func domCandidate(orgID string, year int, docs []model.DocumentRef, tag model.SourceTag, context string) model.ReportCandidate {
	return model.ReportCandidate{
		OrgID:     orgID,
		Year:      year,
		Documents: docs,
		Source:    tag,
		Raw: map[string]any{
			"context": strings.Join(strings.Fields(context), " "),
		},
	}
}
