package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/resilience"
	"github.com/orgwatch/regnskap-cli/pkg/brreg"
)

// Lookback bounds for the per-year API sweep. The registry often answers
// an unfiltered query with only the most recent filing, so older years
// must be requested explicitly.
const (
	defaultLookbackYears = 10
	maxLookbackYears     = 35
)

// APIStrategy queries the structured financial-statement API. Strongest
// source: reliable years, document links and often embedded figures.
type APIStrategy struct {
	client   brreg.Client
	lookback int
	now      func() time.Time
}

// NewAPIStrategy creates the API strategy. lookback is the fallback sweep
// depth in years when entity metadata is unavailable; values outside
// [1, maxLookbackYears] use the default.
func NewAPIStrategy(client brreg.Client, lookback int) *APIStrategy {
	if lookback <= 0 || lookback > maxLookbackYears {
		lookback = defaultLookbackYears
	}
	return &APIStrategy{client: client, lookback: lookback, now: time.Now}
}

func (s *APIStrategy) Name() model.SourceTag {
	return model.SourceAPI
}

// Discover sweeps the bounded year window and deduplicates filings by
// (year, journal key), since the registry echoes the newest filing back
// for year queries it has no data for.
func (s *APIStrategy) Discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error) {
	first, last := s.yearWindow(ctx, orgID, pacer)

	type filingKey struct {
		year    int
		journal string
	}
	seen := make(map[filingKey]bool)
	var cands []model.ReportCandidate

	collect := func(stmts []brreg.Statement) {
		for _, st := range stmts {
			year := st.Year()
			if !model.ValidYear(year, s.now()) {
				continue
			}
			k := filingKey{year: year, journal: st.JournalKey()}
			if seen[k] {
				continue
			}
			seen[k] = true
			cands = append(cands, s.toCandidate(orgID, year, st))
		}
	}

	stmts, err := s.statements(ctx, pacer, func(ctx context.Context) ([]brreg.Statement, error) {
		return s.client.Statements(ctx, orgID)
	})
	if err != nil {
		zap.L().Debug("source: api base query failed", zap.String("org_id", orgID), zap.Error(err))
	}
	collect(stmts)

	for year := last; year >= first; year-- {
		y := year
		stmts, err := s.statements(ctx, pacer, func(ctx context.Context) ([]brreg.Statement, error) {
			return s.client.StatementsForYear(ctx, orgID, y)
		})
		if err != nil {
			// One bad year is not worth abandoning the sweep.
			zap.L().Debug("source: api year query failed",
				zap.String("org_id", orgID), zap.Int("year", y), zap.Error(err))
			continue
		}
		collect(stmts)
	}

	return cands, nil
}

// statements paces and retries one API call.
func (s *APIStrategy) statements(ctx context.Context, pacer *fetch.Pacer, call func(ctx context.Context) ([]brreg.Statement, error)) ([]brreg.Statement, error) {
	if err := pacer.Wait(ctx, s.client.Host()); err != nil {
		return nil, err
	}
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig("brreg.statements"), call)
}

// yearWindow derives the sweep bounds from entity metadata, falling back
// to a fixed lookback when the lookup yields nothing.
func (s *APIStrategy) yearWindow(ctx context.Context, orgID string, pacer *fetch.Pacer) (first, last int) {
	last = s.now().Year()
	first = last - s.lookback + 1

	if err := pacer.Wait(ctx, s.client.Host()); err != nil {
		return first, last
	}
	entity, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig("brreg.entity"),
		func(ctx context.Context) (*brreg.Entity, error) {
			return s.client.Entity(ctx, orgID)
		})
	if err != nil || entity == nil {
		return first, last
	}

	if y := entity.LatestFilingYear(); y > 0 {
		last = y
	}
	if y := entity.RegistrationYear(); y > 0 {
		first = y
	}
	if first > last {
		first = last
	}
	if last-first+1 > maxLookbackYears {
		first = last - maxLookbackYears + 1
	}
	if first < model.MinReportYear {
		first = model.MinReportYear
	}
	return first, last
}

func (s *APIStrategy) toCandidate(orgID string, year int, st brreg.Statement) model.ReportCandidate {
	var docs []model.DocumentRef
	for _, d := range st.Documents {
		ref, err := model.NewDocumentRef(d.Title, d.URL, nil)
		if err != nil {
			zap.L().Debug("source: api document link rejected",
				zap.String("org_id", orgID), zap.String("href", d.URL), zap.Error(err))
			continue
		}
		ref.MediaTypeHint = d.Type
		ref.SizeHint = d.Size
		docs = append(docs, ref)
	}

	cand := model.ReportCandidate{
		OrgID:     orgID,
		Year:      year,
		Documents: docs,
		Source:    model.SourceAPI,
		Raw:       st.Raw,
	}

	if st.Result != nil {
		figs := model.FinancialFigures{
			NetResult:    st.Result.Net(),
			SalesRevenue: st.Result.Sales(),
			TotalIncome:  st.Result.Total(),
		}
		if !figs.Empty() {
			cand.Figures = &figs
		}
	}
	if cand.Raw == nil {
		cand.Raw = map[string]any{"journalnr": st.JournalNo, "id": fmt.Sprintf("%d", st.ID)}
	}
	return cand
}
