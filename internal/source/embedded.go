package source

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// EmbeddedStrategy parses JSON data islands embedded in the statically
// served page and recursively searches them for objects that look like a
// financial statement.
type EmbeddedStrategy struct {
	client *fetch.Client
	pages  *PageResolver
	now    func() time.Time
}

// NewEmbeddedStrategy creates the embedded-payload strategy.
func NewEmbeddedStrategy(client *fetch.Client, pages *PageResolver) *EmbeddedStrategy {
	return &EmbeddedStrategy{client: client, pages: pages, now: time.Now}
}

func (s *EmbeddedStrategy) Name() model.SourceTag {
	return model.SourceEmbeddedPayload
}

func (s *EmbeddedStrategy) Discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error) {
	resp, err := s.client.Get(ctx, s.pages.PageURL(orgID), pacer)
	if err != nil {
		if eris.Is(err, fetch.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "source: embedded payload page for %s", orgID)
	}

	var cands []model.ReportCandidate
	for _, island := range jsonIslands(resp.Body) {
		payload, err := repairAndDecode(island)
		if err != nil {
			zap.L().Debug("source: undecodable data island",
				zap.String("org_id", orgID), zap.Error(err))
			continue
		}
		walkPayload(payload, func(stmt map[string]any, year int, docs []model.DocumentRef) {
			if !model.ValidYear(year, s.now()) {
				return
			}
			cands = append(cands, model.ReportCandidate{
				OrgID:     orgID,
				Year:      year,
				Documents: docs,
				Source:    model.SourceEmbeddedPayload,
				Raw:       stmt,
			})
		}, s.pages.Base(), s.now())
	}

	return model.MergeCandidates(cands), nil
}

// assignmentRe matches script-inlined state assignments like
// "window.__STATE__ = {...};".
var assignmentRe = regexp.MustCompile(`(?s)(?:window|globalThis)\.__[A-Z_]+__\s*=\s*(\{.*?\})\s*;`)

// jsonIslands extracts candidate JSON blobs from the page: application/json
// script tags first, then script-inlined state assignments.
func jsonIslands(html []byte) []string {
	var islands []string

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err == nil {
		doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).Each(func(_ int, sc *goquery.Selection) {
			if text := strings.TrimSpace(sc.Text()); text != "" {
				islands = append(islands, text)
			}
		})
		doc.Find(`script:not([src])`).Each(func(_ int, sc *goquery.Selection) {
			for _, m := range assignmentRe.FindAllStringSubmatch(sc.Text(), -1) {
				islands = append(islands, m[1])
			}
		})
	}
	return islands
}

// repairAndDecode tolerates the sloppy JSON servers inline into pages
// (trailing commas, single quotes, truncation).
func repairAndDecode(island string) (any, error) {
	var payload any
	if err := json.Unmarshal([]byte(island), &payload); err == nil {
		return payload, nil
	}

	repaired, err := jsonrepair.JSONRepair(island)
	if err != nil {
		return nil, eris.Wrap(err, "source: repair data island")
	}
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return nil, eris.Wrap(err, "source: decode repaired data island")
	}
	return payload, nil
}

var embeddedDocKeys = []string{"documents", "dokumenter", "dokumentliste"}

// walkPayload recursively searches the decoded payload for objects that
// look like a financial statement: a documents array plus a resolvable
// year field. Matching objects are not descended into further.
func walkPayload(v any, emit func(stmt map[string]any, year int, docs []model.DocumentRef), base *url.URL, now time.Time) {
	switch node := v.(type) {
	case map[string]any:
		if year, docs, ok := statementShape(node, base, now); ok {
			emit(node, year, docs)
			return
		}
		for _, child := range node {
			walkPayload(child, emit, base, now)
		}
	case []any:
		for _, child := range node {
			walkPayload(child, emit, base, now)
		}
	}
}

// statementShape tests the financial-statement heuristic on one object.
func statementShape(node map[string]any, base *url.URL, now time.Time) (int, []model.DocumentRef, bool) {
	var rawDocs []any
	found := false
	for _, key := range embeddedDocKeys {
		if arr, ok := node[key].([]any); ok {
			rawDocs = arr
			found = true
			break
		}
	}
	if !found {
		return 0, nil, false
	}

	year := resolveYear(node, now)
	if year == 0 {
		return 0, nil, false
	}

	var docs []model.DocumentRef
	for _, rd := range rawDocs {
		m, ok := rd.(map[string]any)
		if !ok {
			continue
		}
		href := firstString(m, "url", "href", "lenke")
		if href == "" {
			continue
		}
		ref, err := model.NewDocumentRef(firstString(m, "title", "tittel", "navn"), href, base)
		if err != nil {
			continue
		}
		ref.MediaTypeHint = firstString(m, "type", "mimeType", "contentType")
		if size, ok := numericValue(m["size"]); ok {
			ref.SizeHint = size
		} else if size, ok := numericValue(m["storrelse"]); ok {
			ref.SizeHint = size
		}
		docs = append(docs, ref)
	}

	return year, docs, true
}

var embeddedYearKeys = []string{"year", "aar", "år", "regnskapsaar", "regnskapsår"}

// resolveYear reads the statement's year from any of the conventional keys
// or from a nested accounting period.
func resolveYear(node map[string]any, now time.Time) int {
	for _, key := range embeddedYearKeys {
		if y, ok := yearValue(node[key], now); ok {
			return y
		}
	}
	if period, ok := node["regnskapsperiode"].(map[string]any); ok {
		for _, key := range []string{"tilDato", "fraDato"} {
			if s, ok := period[key].(string); ok {
				if y := findYear(s, now); y != 0 {
					return y
				}
			}
		}
	}
	return 0
}

func yearValue(v any, now time.Time) (int, bool) {
	switch t := v.(type) {
	case float64:
		y := int(t)
		if model.ValidYear(y, now) {
			return y, true
		}
	case string:
		if y, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && model.ValidYear(y, now) {
			return y, true
		}
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func numericValue(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
