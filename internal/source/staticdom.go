package source

import (
	"bytes"
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// StaticDOMStrategy parses the server-rendered entity detail page for a
// labeled financial-statements section.
type StaticDOMStrategy struct {
	client *fetch.Client
	pages  *PageResolver
	now    func() time.Time
}

// NewStaticDOMStrategy creates the static-DOM strategy.
func NewStaticDOMStrategy(client *fetch.Client, pages *PageResolver) *StaticDOMStrategy {
	return &StaticDOMStrategy{client: client, pages: pages, now: time.Now}
}

func (s *StaticDOMStrategy) Name() model.SourceTag {
	return model.SourceStaticDOM
}

func (s *StaticDOMStrategy) Discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error) {
	resp, err := s.client.Get(ctx, s.pages.PageURL(orgID), pacer)
	if err != nil {
		if eris.Is(err, fetch.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "source: static dom page for %s", orgID)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse html for %s", orgID)
	}

	cands := candidatesFromDOM(doc, orgID, s.pages.Base(), model.SourceStaticDOM, s.now())
	return model.MergeCandidates(cands), nil
}
