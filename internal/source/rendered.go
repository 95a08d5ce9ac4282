package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/browser"
	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// expandSectionsJS clicks collapsed disclosure widgets whose label mentions
// the statements section, so script-rendered content appears in the DOM.
const expandSectionsJS = `
(() => {
  const clickable = document.querySelectorAll('details:not([open]) summary, button[aria-expanded="false"], a[aria-expanded="false"]');
  let clicked = 0;
  for (const el of clickable) {
    const text = (el.textContent || '').toLowerCase();
    if (text.includes('regnskap') || text.includes('rsregnskap')) {
      el.click();
      clicked++;
    }
  }
  return clicked;
})()`

// RenderedDOMStrategy executes the detail page in a headless browser to
// capture content that only appears after script execution, and intercepts
// document URLs requested in flight.
type RenderedDOMStrategy struct {
	pool        *browser.Pool
	pages       *PageResolver
	renderWait  time.Duration
	pageTimeout time.Duration
	now         func() time.Time
}

// NewRenderedDOMStrategy creates the rendered-DOM strategy. Zero durations
// fall back to 2s render wait and a 30s page timeout.
func NewRenderedDOMStrategy(pool *browser.Pool, pages *PageResolver, renderWait, pageTimeout time.Duration) *RenderedDOMStrategy {
	if renderWait <= 0 {
		renderWait = 2 * time.Second
	}
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	return &RenderedDOMStrategy{
		pool:        pool,
		pages:       pages,
		renderWait:  renderWait,
		pageTimeout: pageTimeout,
		now:         time.Now,
	}
}

func (s *RenderedDOMStrategy) Name() model.SourceTag {
	return model.SourceRenderedDOM
}

func (s *RenderedDOMStrategy) Discover(ctx context.Context, orgID string, _ *fetch.Pacer) ([]model.ReportCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	var html string
	var mu sync.Mutex
	var interceptedURLs []string

	err := s.pool.WithTab(ctx, func(tabCtx context.Context) error {
		// Capture document URLs issued by scripted requests rather than
		// rendered as anchors.
		chromedp.ListenTarget(tabCtx, func(ev any) {
			req, ok := ev.(*network.EventRequestWillBeSent)
			if !ok {
				return
			}
			u := req.Request.URL
			if (model.DocumentRef{URL: u}).LooksLikeDocument() {
				mu.Lock()
				interceptedURLs = append(interceptedURLs, u)
				mu.Unlock()
			}
		})

		return chromedp.Run(tabCtx,
			network.Enable(),
			chromedp.Navigate(s.pages.PageURL(orgID)),
			chromedp.WaitReady("body"),
			chromedp.Evaluate(expandSectionsJS, nil),
			chromedp.Sleep(s.renderWait),
			chromedp.OuterHTML("html", &html),
		)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: render page for %s", orgID)
	}

	// The CDP listener goroutine may still be draining events after the
	// tab is released, so read the captured URLs under the lock.
	mu.Lock()
	captured := append([]string(nil), interceptedURLs...)
	mu.Unlock()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse rendered html for %s", orgID)
	}

	cands := candidatesFromDOM(doc, orgID, s.pages.Base(), model.SourceRenderedDOM, s.now())
	cands = append(cands, s.interceptedCandidates(orgID, captured)...)
	return model.MergeCandidates(cands), nil
}

// interceptedCandidates maps network-captured document URLs that carry a
// year in their path or query into candidates.
func (s *RenderedDOMStrategy) interceptedCandidates(orgID string, urls []string) []model.ReportCandidate {
	var cands []model.ReportCandidate
	for _, u := range urls {
		ref, err := model.NewDocumentRef("", u, nil)
		if err != nil || !ref.LooksLikeDocument() {
			continue
		}
		year := findYear(u, s.now())
		if year == 0 {
			zap.L().Debug("source: intercepted document without a year",
				zap.String("org_id", orgID), zap.String("url", u))
			continue
		}
		cands = append(cands, model.ReportCandidate{
			OrgID:     orgID,
			Year:      year,
			Documents: []model.DocumentRef{ref},
			Source:    model.SourceRenderedDOM,
			Raw:       map[string]any{"interceptedUrl": u},
		})
	}
	return cands
}
