package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCandidates_KeepsStrongerSource(t *testing.T) {
	t.Parallel()

	merged := MergeCandidates([]ReportCandidate{
		{Year: 2022, Source: SourceAPI},
		{Year: 2022, Source: SourceBodyText},
	})

	require.Len(t, merged, 1)
	assert.Equal(t, SourceAPI, merged[0].Source)
}

func TestMergeCandidates_UpgradesWeakerSource(t *testing.T) {
	t.Parallel()

	merged := MergeCandidates([]ReportCandidate{
		{Year: 2022, Source: SourceBodyText, Raw: map[string]any{"from": "body"}},
		{Year: 2022, Source: SourceAPI, Raw: map[string]any{"from": "api"}},
	})

	require.Len(t, merged, 1)
	assert.Equal(t, SourceAPI, merged[0].Source)
	assert.Equal(t, "api", merged[0].Raw["from"])
}

func TestMergeCandidates_UnionsDocuments(t *testing.T) {
	t.Parallel()

	merged := MergeCandidates([]ReportCandidate{
		{Year: 2022, Source: SourceAPI, Documents: []DocumentRef{
			{Title: "a", URL: "https://example.test/a.pdf"},
		}},
		{Year: 2022, Source: SourceBodyText, Documents: []DocumentRef{
			{Title: "a-again", URL: "https://example.test/a.pdf"},
			{Title: "b", URL: "https://example.test/b.pdf"},
		}},
	})

	require.Len(t, merged, 1)
	require.Len(t, merged[0].Documents, 2)
	assert.Equal(t, "https://example.test/a.pdf", merged[0].Documents[0].URL)
	assert.Equal(t, "https://example.test/b.pdf", merged[0].Documents[1].URL)
}

func TestMergeCandidates_SortsNewestFirst(t *testing.T) {
	t.Parallel()

	merged := MergeCandidates([]ReportCandidate{
		{Year: 2020, Source: SourceStaticDOM},
		{Year: 2023, Source: SourceStaticDOM},
		{Year: 2021, Source: SourceStaticDOM},
	})

	require.Len(t, merged, 3)
	assert.Equal(t, []int{2023, 2021, 2020}, []int{merged[0].Year, merged[1].Year, merged[2].Year})
}

func TestMergeCandidates_CarriesFiguresFromAnySource(t *testing.T) {
	t.Parallel()

	n := int64(500000)
	merged := MergeCandidates([]ReportCandidate{
		{Year: 2023, Source: SourceStaticDOM},
		{Year: 2023, Source: SourceAPI, Figures: &FinancialFigures{NetResult: &n}},
	})

	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].Figures)
	assert.Equal(t, int64(500000), *merged[0].Figures.NetResult)
}
