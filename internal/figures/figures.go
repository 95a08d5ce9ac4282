// Package figures scans free text for named financial figures. Upstream
// documents range from clean registry text layers to OCR output of scanned
// filings, so matching is deliberately tolerant: labels are compared after
// diacritic folding and numerals may use any Norwegian grouping convention.
package figures

import (
	"regexp"
	"strings"
	"time"

	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/numparse"
)

// Figure names one of the three target financial quantities.
type Figure string

const (
	FigureNetResult    Figure = "netResult"
	FigureSalesRevenue Figure = "salesRevenue"
	FigureTotalIncome  Figure = "totalIncome"
)

// labels lists the folded, lowercased label variants per figure, strongest
// first. Variants reflect how Norwegian income statements actually title
// these lines.
var labels = map[Figure][]string{
	FigureNetResult:    {"arsresultat", "arets resultat", "resultat etter skatt"},
	FigureSalesRevenue: {"sum salgsinntekter", "salgsinntekter", "salgsinntekt"},
	FigureTotalIncome:  {"sum inntekter", "sum driftsinntekter", "driftsinntekter"},
}

// numRun matches one grouped numeral run, optionally parenthesized or
// signed, in a form numparse.Parse accepts.
const numRun = `\(?-?\d(?:[0-9.,\x{00A0}\x{202F} ]*\d)?\)?`

var numRunRe = regexp.MustCompile(numRun)

// Config tunes extraction thresholds. Zero values take defaults.
type Config struct {
	// MinNetResult is the minimum magnitude accepted for the net result.
	// Small numbers near a label are usually row indices or page numbers.
	MinNetResult int64
	// MinRevenue is the minimum magnitude for the two revenue figures.
	MinRevenue int64
	// ProximityFloor is the magnitude required by the final low-confidence
	// pass that accepts any numeral near a label.
	ProximityFloor int64
	// ProximityWindow is how many characters after a label occurrence the
	// low-confidence pass inspects.
	ProximityWindow int
	// LookaheadLines bounds the line scan below a label line.
	LookaheadLines int
}

func (c Config) withDefaults() Config {
	if c.MinNetResult <= 0 {
		c.MinNetResult = 100
	}
	if c.MinRevenue <= 0 {
		c.MinRevenue = 1000
	}
	if c.ProximityFloor <= 0 {
		c.ProximityFloor = 100000
	}
	if c.ProximityWindow <= 0 {
		c.ProximityWindow = 300
	}
	if c.LookaheadLines <= 0 {
		c.LookaheadLines = 4
	}
	return c
}

// Extractor finds figures in document text.
type Extractor struct {
	cfg Config

	// now is injected in tests to pin the year-looking filter.
	now func() time.Time
}

// New creates an Extractor with the given thresholds.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults(), now: time.Now}
}

// ExtractAll runs Extract for all three figures.
func (e *Extractor) ExtractAll(text string) model.FinancialFigures {
	return model.FinancialFigures{
		NetResult:    e.Extract(text, FigureNetResult),
		SalesRevenue: e.Extract(text, FigureSalesRevenue),
		TotalIncome:  e.Extract(text, FigureTotalIncome),
	}
}

// Extract returns the figure's value, or nil when no pass matches. A nil
// return is an expected outcome, not an error.
func (e *Extractor) Extract(text string, fig Figure) *int64 {
	folded := Fold(text)
	min := e.minFor(fig)

	if v, ok := e.labelAnchored(folded, fig, min); ok {
		return &v
	}
	if v, ok := e.lineScan(folded, fig, min); ok {
		return &v
	}
	if v, ok := e.proximity(folded, fig); ok {
		return &v
	}
	return nil
}

func (e *Extractor) minFor(fig Figure) int64 {
	if fig == FigureNetResult {
		return e.cfg.MinNetResult
	}
	return e.cfg.MinRevenue
}

// labelAnchored tries label-colon-numeral patterns against the whole text.
func (e *Extractor) labelAnchored(folded string, fig Figure, min int64) (int64, bool) {
	for _, label := range labels[fig] {
		re := anchoredRe(label)
		for _, m := range re.FindAllStringSubmatch(folded, -1) {
			if v, ok := e.accept(m[1], min); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// lineScan locates label lines and searches the label line itself, then up
// to LookaheadLines following lines, for the first passing numeral. Lines
// before the label are never consulted so the previous table section's
// total cannot leak in.
func (e *Extractor) lineScan(folded string, fig Figure, min int64) (int64, bool) {
	lines := strings.Split(folded, "\n")
	for i, line := range lines {
		if !containsLabel(line, fig) {
			continue
		}
		end := i + e.cfg.LookaheadLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
		for j := i; j <= end; j++ {
			if v, ok := e.firstPassingRun(lines[j], min); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// proximity is the final low-confidence pass: any numeral exceeding the
// proximity floor within a short window after a label occurrence.
func (e *Extractor) proximity(folded string, fig Figure) (int64, bool) {
	for _, label := range labels[fig] {
		idx := 0
		for {
			rel := strings.Index(folded[idx:], label)
			if rel < 0 {
				break
			}
			start := idx + rel + len(label)
			end := start + e.cfg.ProximityWindow
			if end > len(folded) {
				end = len(folded)
			}
			if v, ok := e.firstPassingRun(folded[start:end], e.cfg.ProximityFloor); ok {
				return v, true
			}
			idx = start
		}
	}
	return 0, false
}

func (e *Extractor) firstPassingRun(s string, min int64) (int64, bool) {
	for _, run := range numRunRe.FindAllString(s, -1) {
		if v, ok := e.accept(run, min); ok {
			return v, true
		}
	}
	return 0, false
}

// accept parses run and applies the magnitude threshold. Bare four-digit
// runs inside the plausible filing-year range are skipped: in tabular text
// they are almost always column-header years, not figures.
func (e *Extractor) accept(run string, min int64) (int64, bool) {
	v, ok := numparse.Parse(run)
	if !ok {
		return 0, false
	}
	if looksLikeYear(run, v, e.now()) {
		return 0, false
	}
	mag := v
	if mag < 0 {
		mag = -mag
	}
	if mag < min {
		return 0, false
	}
	return v, true
}

func looksLikeYear(run string, v int64, now time.Time) bool {
	run = strings.TrimSpace(run)
	if len(run) != 4 {
		return false
	}
	return model.ValidYear(int(v), now)
}

// anchoredRes holds one compiled pattern per label variant, built once at
// init so concurrent extractors share them safely.
var anchoredRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp)
	for _, variants := range labels {
		for _, label := range variants {
			res[label] = regexp.MustCompile(regexp.QuoteMeta(label) + `[a-z]*\s*:?\s*(` + numRun + `)`)
		}
	}
	return res
}()

func anchoredRe(label string) *regexp.Regexp {
	return anchoredRes[label]
}

func containsLabel(line string, fig Figure) bool {
	for _, label := range labels[fig] {
		if strings.Contains(line, label) {
			return true
		}
	}
	return false
}
