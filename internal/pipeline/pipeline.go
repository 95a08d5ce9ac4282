// Package pipeline orchestrates discovery, document retrieval, figure
// extraction and persistence for a batch of organizations.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orgwatch/regnskap-cli/internal/document"
	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/figures"
	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/ocr"
	"github.com/orgwatch/regnskap-cli/internal/resilience"
	"github.com/orgwatch/regnskap-cli/internal/source"
	"github.com/orgwatch/regnskap-cli/internal/store"
)

// maxStoredTextLen caps the extracted text persisted per document. Annual
// reports run long and the payload column is not an archive.
const maxStoredTextLen = 100_000

// Options wires the pipeline's collaborators.
type Options struct {
	// Strategies in priority order. The registry API strategy always runs;
	// of the page-based strategies, the first to yield candidates wins.
	Strategies []source.Strategy
	Retriever  *document.Retriever
	// Recognizer may be nil, which disables the scanned-document fallback.
	Recognizer ocr.Recognizer
	Extractor  *figures.Extractor
	Store      store.Store
	Workers    int
	// PacerDelay is the minimum spacing between requests to one host.
	// Each worker gets its own pacer.
	PacerDelay time.Duration
}

// Pipeline processes organizations concurrently and persists one report
// row per (org, year) discovered.
type Pipeline struct {
	opts Options
	now  func() time.Time
}

// New creates a pipeline. Workers defaults to 4.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Pipeline{opts: opts, now: time.Now}
}

// orgOutcome summarizes one organization's processing.
type orgOutcome struct {
	Years   int
	Figured int
}

// Run processes all orgIDs and records a run summary row. Individual
// organization failures do not abort the batch.
func (p *Pipeline) Run(ctx context.Context, orgIDs []string) (model.RunSummary, error) {
	run := model.RunSummary{
		ID:        uuid.NewString(),
		Status:    model.RunStatusRunning,
		StartedAt: p.now().UTC(),
	}
	if err := p.opts.Store.RecordRun(ctx, run); err != nil {
		zap.L().Warn("pipeline: record run start", zap.Error(err))
	}

	zap.L().Info("pipeline: batch start",
		zap.String("run_id", run.ID),
		zap.Int("orgs", len(orgIDs)),
		zap.Int("workers", p.opts.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	var succeeded, partial, failed atomic.Int64

	for _, orgID := range orgIDs {
		g.Go(func() error {
			log := zap.L().With(zap.String("org_id", orgID))

			outcome, err := p.processOrg(gctx, orgID)
			switch {
			case err != nil:
				failed.Add(1)
				log.Error("pipeline: organization failed", zap.Error(err))
			case outcome.Years == 0:
				failed.Add(1)
				log.Warn("pipeline: no reports discovered")
			case outcome.Figured == outcome.Years:
				succeeded.Add(1)
				log.Info("pipeline: organization complete", zap.Int("years", outcome.Years))
			default:
				partial.Add(1)
				log.Info("pipeline: organization partial",
					zap.Int("years", outcome.Years),
					zap.Int("with_figures", outcome.Figured),
				)
			}
			return nil // don't abort batch on individual failure
		})
	}

	waitErr := g.Wait()

	run.Processed = len(orgIDs)
	run.Succeeded = int(succeeded.Load())
	run.Partial = int(partial.Load())
	run.Failed = int(failed.Load())
	run.FinishedAt = p.now().UTC()
	if waitErr != nil {
		run.Status = model.RunStatusFailed
	} else {
		run.Status = model.RunStatusComplete
	}

	if err := p.opts.Store.RecordRun(ctx, run); err != nil {
		zap.L().Warn("pipeline: record run finish", zap.Error(err))
	}

	zap.L().Info("pipeline: batch complete",
		zap.String("run_id", run.ID),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("partial", run.Partial),
		zap.Int("failed", run.Failed),
	)
	return run, eris.Wrap(waitErr, "pipeline: batch")
}

// processOrg discovers report candidates for one organization and persists
// one row per year. Store failures abort the organization; everything else
// degrades to a row without figures.
func (p *Pipeline) processOrg(ctx context.Context, orgID string) (orgOutcome, error) {
	var out orgOutcome

	pacer := fetch.NewPacer(p.opts.PacerDelay)

	cands, err := p.discover(ctx, orgID, pacer)
	if err != nil {
		return out, err
	}
	out.Years = len(cands)

	for _, cand := range cands {
		payload, found := p.processCandidate(ctx, cand, pacer)
		if found {
			out.Figured++
		}

		report := model.PersistedReport{
			OrgID:     orgID,
			Year:      cand.Year,
			Payload:   payload,
			ScrapedAt: p.now().UTC(),
		}
		if err := p.opts.Store.UpsertReport(ctx, report); err != nil {
			return out, eris.Wrapf(err, "pipeline: persist %s/%d", orgID, cand.Year)
		}
	}

	return out, nil
}

// discover runs the registry API strategy plus the first page-based
// strategy that yields candidates, and merges the results by year.
func (p *Pipeline) discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error) {
	var all []model.ReportCandidate
	pageDone := false

	for _, strat := range p.opts.Strategies {
		isAPI := strat.Name() == model.SourceAPI
		if !isAPI && pageDone {
			continue
		}

		cands, err := strat.Discover(ctx, orgID, pacer)
		if err != nil {
			if isAPI {
				// The API is the backbone; its failure means the page
				// strategies carry the whole load, so log and move on.
				zap.L().Warn("pipeline: registry api discovery failed",
					zap.String("org_id", orgID), zap.Error(err))
				continue
			}
			zap.L().Debug("pipeline: strategy failed",
				zap.String("org_id", orgID),
				zap.String("strategy", string(strat.Name())),
				zap.Error(err))
			continue
		}
		if len(cands) == 0 {
			continue
		}

		all = append(all, cands...)
		if !isAPI {
			pageDone = true
		}
	}

	if len(all) == 0 && ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "pipeline: discovery")
	}
	return model.MergeCandidates(all), nil
}

// processCandidate builds the persisted payload for one (org, year). When
// the candidate already carries figures from the registry API, documents
// are recorded without retrieval; otherwise each document is tried in
// order until one yields figures. Transient download failures are retried
// with backoff before the document is recorded as failed.
func (p *Pipeline) processCandidate(ctx context.Context, cand model.ReportCandidate, pacer *fetch.Pacer) (model.ReportPayload, bool) {
	payload := model.ReportPayload{
		SourceTag: cand.Source,
		Raw:       cand.Raw,
	}

	figs := cand.Figures
	if figs != nil && !figs.Empty() {
		for _, ref := range cand.Documents {
			payload.Documents = append(payload.Documents, refSummary(ref))
		}
		payload.Raw = withFigures(payload.Raw, *figs)
		return payload, true
	}

	var found model.FinancialFigures
	done := false

	for _, ref := range cand.Documents {
		if done {
			payload.Documents = append(payload.Documents, refSummary(ref))
			continue
		}

		summary := refSummary(ref)
		err := resilience.Do(ctx, resilience.DefaultRetryConfig("document.retrieve"), func(ctx context.Context) error {
			return p.opts.Retriever.Retrieve(ctx, ref, pacer, func(doc *model.ExtractedDocument, pdfPath string) error {
				summary.Size = doc.ByteSize
				summary.PDFPageCount = doc.PageCount

				text := doc.TextLayer
				if ocr.ShouldFallback(len(text), doc.ByteSize) && p.opts.Recognizer != nil {
					recognized, ocrErr := p.opts.Recognizer.RecognizeFirstPage(ctx, pdfPath)
					if ocrErr != nil {
						zap.L().Debug("pipeline: ocr fallback failed",
							zap.String("url", ref.URL), zap.Error(ocrErr))
					} else {
						text = recognized
					}
				}

				summary.PDFText = truncate(text, maxStoredTextLen)
				found = p.opts.Extractor.ExtractAll(text)
				return nil
			})
		})
		if err != nil {
			summary.FetchError = err.Error()
			zap.L().Debug("pipeline: document retrieval failed",
				zap.String("url", ref.URL), zap.Error(err))
		}

		payload.Documents = append(payload.Documents, summary)
		if !found.Empty() {
			done = true
		}
		if ctx.Err() != nil {
			break
		}
	}

	payload.Raw = withFigures(payload.Raw, found)
	return payload, !found.Empty()
}

// refSummary is the persisted view of a document that was not (or not yet)
// retrieved.
func refSummary(ref model.DocumentRef) model.DocumentSummary {
	return model.DocumentSummary{
		Title: ref.Title,
		URL:   ref.URL,
		Type:  ref.MediaTypeHint,
		Size:  ref.SizeHint,
	}
}

// withFigures embeds recovered figures under raw["figures"] without
// mutating the strategy's map. Absent figures are omitted, never written
// as zero; when nothing was recovered raw passes through unchanged.
func withFigures(raw map[string]any, f model.FinancialFigures) map[string]any {
	m := map[string]any{}
	if f.NetResult != nil {
		m["netResult"] = *f.NetResult
	}
	if f.SalesRevenue != nil {
		m["salesRevenue"] = *f.SalesRevenue
	}
	if f.TotalIncome != nil {
		m["totalIncome"] = *f.TotalIncome
	}
	if len(m) == 0 {
		return raw
	}

	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out["figures"] = m
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
