package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

func servePage(t *testing.T, html string) (*fetch.Client, *PageResolver) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)

	pages, err := NewPageResolver(srv.URL + "/enhet")
	require.NoError(t, err)
	return fetch.New(fetch.Options{}), pages
}

const sectionPage = `<html><body>
<section>
	<h2>Innsendte årsregnskap</h2>
	<h3>2023</h3>
	<ul><li><a href="/dok/2023.pdf">Årsregnskap 2023</a></li></ul>
	<h3>2022</h3>
	<ul><li><a href="/dok/2022.pdf">Årsregnskap 2022</a></li>
	    <li><a href="#">Vis mer</a></li></ul>
</section>
<section>
	<h2>Kunngjøringer</h2>
	<h3>2023</h3>
	<a href="/kunngjoring/99.pdf">Konkursåpning</a>
</section>
</body></html>`

func TestStaticDOM_ReadsLabeledSection(t *testing.T) {
	t.Parallel()

	client, pages := servePage(t, sectionPage)
	s := NewStaticDOMStrategy(client, pages)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	cands, err := s.Discover(context.Background(), "910000001", nil)
	require.NoError(t, err)

	require.Len(t, cands, 2)
	byYear := map[int]model.ReportCandidate{}
	for _, c := range cands {
		byYear[c.Year] = c
		assert.Equal(t, model.SourceStaticDOM, c.Source)
	}

	require.Len(t, byYear[2023].Documents, 1)
	assert.Contains(t, byYear[2023].Documents[0].URL, "/dok/2023.pdf")
	require.Len(t, byYear[2022].Documents, 1)
	assert.Contains(t, byYear[2022].Documents[0].URL, "/dok/2022.pdf")
}

const tablePage = `<html><body>
<table>
	<caption>Innsendte årsregnskap</caption>
	<tr><th>2023</th><td><a href="/dok/r2023.pdf">Last ned</a></td></tr>
	<tr><th>2022</th><td><a href="javascript:void(0)">Utilgjengelig</a></td></tr>
</table>
</body></html>`

func TestStaticDOM_TableLayout(t *testing.T) {
	t.Parallel()

	client, pages := servePage(t, tablePage)
	s := NewStaticDOMStrategy(client, pages)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	cands, err := s.Discover(context.Background(), "910000001", nil)
	require.NoError(t, err)

	require.Len(t, cands, 1)
	assert.Equal(t, 2023, cands[0].Year)
	assert.Contains(t, cands[0].Documents[0].URL, "/dok/r2023.pdf")
}

func TestStaticDOM_NoSectionIsAbsence(t *testing.T) {
	t.Parallel()

	client, pages := servePage(t, `<html><body><h1>Om selskapet</h1><a href="/dok/x.pdf">Vedtekter</a></body></html>`)
	s := NewStaticDOMStrategy(client, pages)

	cands, err := s.Discover(context.Background(), "910000001", nil)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestStaticDOM_404IsAbsence(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pages, err := NewPageResolver(srv.URL + "/enhet")
	require.NoError(t, err)

	s := NewStaticDOMStrategy(fetch.New(fetch.Options{}), pages)
	cands, err := s.Discover(context.Background(), "999999999", nil)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestStaticDOM_ResolvesRelativeHrefsAgainstOrigin(t *testing.T) {
	t.Parallel()

	client, pages := servePage(t, sectionPage)
	s := NewStaticDOMStrategy(client, pages)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	cands, err := s.Discover(context.Background(), "910000001", nil)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Regexp(t, `^http://127\.0\.0\.1:\d+/dok/`, cands[0].Documents[0].URL)
}
