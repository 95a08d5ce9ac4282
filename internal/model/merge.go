package model

import "sort"

// MergeCandidates deduplicates candidates by year. The first candidate seen
// for a year claims the slot; later candidates for the same year only union
// their document lists into it, and may take over the source tag and raw
// payload only when they come from a stronger source than the current
// holder. Document URLs are deduplicated within a year.
func MergeCandidates(cands []ReportCandidate) []ReportCandidate {
	byYear := make(map[int]*ReportCandidate)
	seenURL := make(map[int]map[string]bool)

	for _, c := range cands {
		existing, ok := byYear[c.Year]
		if !ok {
			cc := c
			cc.Documents = nil
			byYear[c.Year] = &cc
			seenURL[c.Year] = make(map[string]bool)
			appendDocs(byYear[c.Year], seenURL[c.Year], c.Documents)
			continue
		}

		if c.Source.Stronger(existing.Source) {
			existing.Source = c.Source
			existing.Raw = c.Raw
			if existing.Figures == nil {
				existing.Figures = c.Figures
			}
		}
		if existing.Figures == nil && c.Figures != nil {
			existing.Figures = c.Figures
		}
		appendDocs(existing, seenURL[c.Year], c.Documents)
	}

	merged := make([]ReportCandidate, 0, len(byYear))
	for _, c := range byYear {
		merged = append(merged, *c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Year > merged[j].Year })
	return merged
}

func appendDocs(dst *ReportCandidate, seen map[string]bool, docs []DocumentRef) {
	for _, d := range docs {
		if seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		dst.Documents = append(dst.Documents, d)
	}
}
