package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgwatch/regnskap-cli/internal/document"
	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/figures"
	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/source"
)

type fakeStrategy struct {
	name  model.SourceTag
	cands []model.ReportCandidate
	err   error
	calls int
}

func (f *fakeStrategy) Name() model.SourceTag { return f.name }

func (f *fakeStrategy) Discover(_ context.Context, _ string, _ *fetch.Pacer) ([]model.ReportCandidate, error) {
	f.calls++
	return f.cands, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	reports map[string]model.PersistedReport
	runs    []model.RunSummary
	failOn  string // org_id whose upserts fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: map[string]model.PersistedReport{}}
}

func (s *fakeStore) key(orgID string, year int) string {
	return fmt.Sprintf("%s/%d", orgID, year)
}

func (s *fakeStore) UpsertReport(_ context.Context, r model.PersistedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == r.OrgID {
		return eris.New("store down")
	}
	s.reports[s.key(r.OrgID, r.Year)] = r
	return nil
}

func (s *fakeStore) GetReport(_ context.Context, orgID string, year int) (*model.PersistedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[s.key(orgID, year)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) ListReports(_ context.Context, orgID string) ([]model.PersistedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PersistedReport
	for _, r := range s.reports {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordRun(_ context.Context, run model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) ListRuns(_ context.Context, _ int) ([]model.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RunSummary(nil), s.runs...), nil
}

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }

type fakeExtractor struct {
	text  string
	pages int
}

func (f *fakeExtractor) ExtractText(context.Context, string) (string, int, error) {
	return f.text, f.pages, nil
}

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) RecognizeFirstPage(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

// fakePDF builds a body large enough to pass both the container sniffer
// and the scanned-document size threshold.
func fakePDF(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	for b.Len() < 12*1024 {
		b.WriteString("0 obj stream endstream endobj\n")
	}
	b.WriteString("%%EOF")
	return b.Bytes()
}

func servePDF(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	if opts.Store == nil {
		opts.Store = st
	} else {
		st = opts.Store.(*fakeStore)
	}
	if opts.Extractor == nil {
		opts.Extractor = figures.New(figures.Config{})
	}
	opts.Workers = 1
	return New(opts), st
}

func int64p(v int64) *int64 { return &v }

// figuresOf digs the recovered figures out of the persisted payload.
func figuresOf(t *testing.T, p model.ReportPayload) map[string]any {
	t.Helper()
	figs, ok := p.Raw["figures"].(map[string]any)
	require.True(t, ok, "figures must live under payload.raw.figures")
	return figs
}

func TestRunAPIFiguresSkipRetrieval(t *testing.T) {
	t.Parallel()

	api := &fakeStrategy{
		name: model.SourceAPI,
		cands: []model.ReportCandidate{{
			OrgID:   "919646561",
			Year:    2023,
			Source:  model.SourceAPI,
			Raw:     map[string]any{"journalnr": "X1"},
			Figures: &model.FinancialFigures{NetResult: int64p(500000)},
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2023", URL: "https://example.org/dokument/1.pdf"},
			},
		}},
	}
	// A retriever that would fail loudly if ever used.
	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})

	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{api},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 0, run.Partial)
	assert.Equal(t, 0, run.Failed)

	got, err := st.GetReport(context.Background(), "919646561", 2023)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SourceAPI, got.Payload.SourceTag)
	figs := figuresOf(t, got.Payload)
	assert.Equal(t, int64(500000), figs["netResult"])
	assert.Equal(t, "X1", got.Payload.Raw["journalnr"], "strategy record survives alongside figures")
	require.Len(t, got.Payload.Documents, 1)
	assert.Empty(t, got.Payload.Documents[0].PDFText, "document must not be retrieved when figures are embedded")
}

func TestRunScannedDocumentOCRFallback(t *testing.T) {
	t.Parallel()

	srv := servePDF(t, fakePDF(t))

	dom := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{{
			OrgID:  "919646561",
			Year:   2022,
			Source: model.SourceStaticDOM,
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2022", URL: srv.URL + "/dokument/2022.pdf"},
			},
		}},
	}

	// Empty text layer plus a large body triggers the OCR fallback.
	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{text: "", pages: 3})
	recognizer := &fakeRecognizer{text: "Årsresultat 120 000\nSum inntekter 1 500 000"}

	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{dom},
		Retriever:  retriever,
		Recognizer: recognizer,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, recognizer.calls)

	got, err := st.GetReport(context.Background(), "919646561", 2022)
	require.NoError(t, err)
	require.NotNil(t, got)
	figs := figuresOf(t, got.Payload)
	assert.Equal(t, int64(120000), figs["netResult"])
	assert.Equal(t, int64(1500000), figs["totalIncome"])
	require.Len(t, got.Payload.Documents, 1)
	assert.Contains(t, got.Payload.Documents[0].PDFText, "Årsresultat")
	assert.Equal(t, 3, got.Payload.Documents[0].PDFPageCount)
}

func TestRunTextLayer(t *testing.T) {
	t.Parallel()

	srv := servePDF(t, fakePDF(t))

	dom := &fakeStrategy{
		name: model.SourceEmbeddedPayload,
		cands: []model.ReportCandidate{{
			OrgID:  "919646561",
			Year:   2021,
			Source: model.SourceEmbeddedPayload,
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2021", URL: srv.URL + "/dokument/2021.pdf"},
			},
		}},
	}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(),
		&fakeExtractor{text: "Resultatregnskap\nSalgsinntekter 2 400 000\nÅrsresultat 348 197", pages: 12})
	recognizer := &fakeRecognizer{text: "should not be called"}

	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{dom},
		Retriever:  retriever,
		Recognizer: recognizer,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 0, recognizer.calls, "a usable text layer must not trigger ocr")

	got, err := st.GetReport(context.Background(), "919646561", 2021)
	require.NoError(t, err)
	require.NotNil(t, got)
	figs := figuresOf(t, got.Payload)
	assert.Equal(t, int64(348197), figs["netResult"])
	assert.Equal(t, int64(2400000), figs["salesRevenue"])
}

func TestRunPageStrategyFallbackOrder(t *testing.T) {
	t.Parallel()

	api := &fakeStrategy{name: model.SourceAPI}
	embedded := &fakeStrategy{name: model.SourceEmbeddedPayload}
	static := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{{
			OrgID: "919646561", Year: 2023, Source: model.SourceStaticDOM,
		}},
	}
	rendered := &fakeStrategy{name: model.SourceRenderedDOM}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})
	p, _ := newTestPipeline(t, Options{
		Strategies: []source.Strategy{api, embedded, static, rendered},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Partial, "a year without documents yields no figures")

	assert.Equal(t, 1, api.calls)
	assert.Equal(t, 1, embedded.calls)
	assert.Equal(t, 1, static.calls)
	assert.Equal(t, 0, rendered.calls, "later strategies must not run once one yields candidates")
}

func TestRunFetchErrorPersisted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	dom := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{{
			OrgID:  "919646561",
			Year:   2020,
			Source: model.SourceStaticDOM,
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2020", URL: srv.URL + "/dokument/2020.pdf"},
			},
		}},
	}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})
	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{dom},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Partial)

	got, err := st.GetReport(context.Background(), "919646561", 2020)
	require.NoError(t, err)
	require.NotNil(t, got, "a year must be persisted even when every document fails")
	require.Len(t, got.Payload.Documents, 1)
	assert.NotEmpty(t, got.Payload.Documents[0].FetchError)
	assert.NotContains(t, got.Payload.Raw, "figures")
}

func TestRunRetriesTransientDownload(t *testing.T) {
	t.Parallel()

	pdf := fakePDF(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdf)
	}))
	t.Cleanup(srv.Close)

	dom := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{{
			OrgID:  "919646561",
			Year:   2022,
			Source: model.SourceStaticDOM,
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2022", URL: srv.URL + "/dokument/2022.pdf"},
			},
		}},
	}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(),
		&fakeExtractor{text: "Årsresultat 120 000", pages: 2})
	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{dom},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded, "one 503 must not lose the document")
	assert.EqualValues(t, 2, calls.Load(), "the download is retried after a transient status")

	got, err := st.GetReport(context.Background(), "919646561", 2022)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Payload.Documents, 1)
	assert.Empty(t, got.Payload.Documents[0].FetchError)
	assert.Equal(t, int64(120000), figuresOf(t, got.Payload)["netResult"])
}

func TestRunDoesNotRetryInvalidDocument(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("<html>annual report portal</html>"))
	}))
	t.Cleanup(srv.Close)

	dom := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{{
			OrgID:  "919646561",
			Year:   2021,
			Source: model.SourceStaticDOM,
			Documents: []model.DocumentRef{
				{Title: "Årsregnskap 2021", URL: srv.URL + "/dokument/2021.pdf"},
			},
		}},
	}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})
	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{dom},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Partial)
	assert.EqualValues(t, 1, calls.Load(), "a malformed container is permanent, not transient")

	got, err := st.GetReport(context.Background(), "919646561", 2021)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Payload.Documents, 1)
	assert.NotEmpty(t, got.Payload.Documents[0].FetchError)
}

func TestRunStoreFailureFailsOrg(t *testing.T) {
	t.Parallel()

	api := &fakeStrategy{
		name: model.SourceAPI,
		cands: []model.ReportCandidate{{
			OrgID: "111111111", Year: 2023, Source: model.SourceAPI,
			Figures: &model.FinancialFigures{NetResult: int64p(1000)},
		}},
	}

	st := newFakeStore()
	st.failOn = "111111111"
	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})

	p, _ := newTestPipeline(t, Options{
		Strategies: []source.Strategy{api},
		Retriever:  retriever,
		Store:      st,
	})

	run, err := p.Run(context.Background(), []string{"111111111"})
	require.NoError(t, err, "batch must survive individual org failures")
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 0, run.Succeeded)
}

func TestRunNoReportsDiscovered(t *testing.T) {
	t.Parallel()

	api := &fakeStrategy{name: model.SourceAPI}
	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(), &fakeExtractor{})
	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{api},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"999999999"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Failed)

	reports, err := st.ListReports(context.Background(), "999999999")
	require.NoError(t, err)
	assert.Empty(t, reports)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "run start and finish are both recorded")
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)
	assert.Equal(t, model.RunStatusComplete, runs[1].Status)
}

func TestRunMergesAPIAndPageCandidates(t *testing.T) {
	t.Parallel()

	srv := servePDF(t, fakePDF(t))

	api := &fakeStrategy{
		name: model.SourceAPI,
		cands: []model.ReportCandidate{{
			OrgID: "919646561", Year: 2023, Source: model.SourceAPI,
			Figures: &model.FinancialFigures{NetResult: int64p(348197)},
		}},
	}
	static := &fakeStrategy{
		name: model.SourceStaticDOM,
		cands: []model.ReportCandidate{
			{
				OrgID: "919646561", Year: 2023, Source: model.SourceStaticDOM,
				Documents: []model.DocumentRef{{Title: "Årsregnskap 2023", URL: srv.URL + "/dokument/2023.pdf"}},
			},
			{
				OrgID: "919646561", Year: 2022, Source: model.SourceStaticDOM,
				Documents: []model.DocumentRef{{Title: "Årsregnskap 2022", URL: srv.URL + "/dokument/2022.pdf"}},
			},
		},
	}

	retriever := document.NewRetriever(fetch.New(fetch.Options{}), t.TempDir(),
		&fakeExtractor{text: "Årsresultat 75 000", pages: 2})

	p, st := newTestPipeline(t, Options{
		Strategies: []source.Strategy{api, static},
		Retriever:  retriever,
	})

	run, err := p.Run(context.Background(), []string{"919646561"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)

	// 2023 keeps the API figures; the page strategy fills in 2022.
	y2023, err := st.GetReport(context.Background(), "919646561", 2023)
	require.NoError(t, err)
	require.NotNil(t, y2023)
	assert.Equal(t, model.SourceAPI, y2023.Payload.SourceTag)
	assert.Equal(t, int64(348197), figuresOf(t, y2023.Payload)["netResult"])

	y2022, err := st.GetReport(context.Background(), "919646561", 2022)
	require.NoError(t, err)
	require.NotNil(t, y2022)
	assert.Equal(t, model.SourceStaticDOM, y2022.Payload.SourceTag)
	assert.Equal(t, int64(75000), figuresOf(t, y2022.Payload)["netResult"])
}
