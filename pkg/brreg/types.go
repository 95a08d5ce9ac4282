package brreg

import (
	"strconv"
	"strings"
)

// Statement is one filed annual accounting statement. The registry's
// response shape varies across deployments, so only the fields the
// pipeline needs are typed; Raw keeps the verbatim record.
type Statement struct {
	ID        int64            `json:"id"`
	JournalNo string           `json:"journalnr"`
	Period    AccountingPeriod `json:"regnskapsperiode"`
	Result    *IncomeStatement `json:"resultatregnskapResultat"`
	Documents []Document       `json:"dokumenter"`

	Raw map[string]any `json:"-"`
}

// Year derives the accounting year from the period's closing date.
func (s Statement) Year() int {
	return s.Period.year()
}

// JournalKey is the stable per-filing identifier used for deduplication
// when the registry echoes the same filing back for multiple requested
// years. It prefers the journal number and falls back to the numeric id.
func (s Statement) JournalKey() string {
	if s.JournalNo != "" {
		return s.JournalNo
	}
	if s.ID != 0 {
		return strconv.FormatInt(s.ID, 10)
	}
	return ""
}

// AccountingPeriod is the filing's reporting interval.
type AccountingPeriod struct {
	FromDate string `json:"fraDato"`
	ToDate   string `json:"tilDato"`
}

func (p AccountingPeriod) year() int {
	for _, d := range []string{p.ToDate, p.FromDate} {
		if len(d) >= 4 {
			if y, err := strconv.Atoi(d[:4]); err == nil {
				return y
			}
		}
	}
	return 0
}

// IncomeStatement carries figures embedded directly in the API payload.
type IncomeStatement struct {
	NetResult    *int64           `json:"aarsresultat"`
	Operating    *OperatingResult `json:"driftsresultat"`
	TotalIncome  *int64           `json:"sumInntekter"`
	SalesRevenue *int64           `json:"salgsinntekter"`
}

// OperatingResult nests revenue figures in some response shapes.
type OperatingResult struct {
	Income *OperatingIncome `json:"driftsinntekter"`
}

// OperatingIncome holds the nested revenue lines.
type OperatingIncome struct {
	SumOperating *int64 `json:"sumDriftsinntekter"`
	Sales        *int64 `json:"salgsinntekter"`
}

// Sales resolves the sales revenue from whichever nesting the response used.
func (i *IncomeStatement) Sales() *int64 {
	if i == nil {
		return nil
	}
	if i.SalesRevenue != nil {
		return i.SalesRevenue
	}
	if i.Operating != nil && i.Operating.Income != nil {
		return i.Operating.Income.Sales
	}
	return nil
}

// Total resolves total income from whichever nesting the response used.
func (i *IncomeStatement) Total() *int64 {
	if i == nil {
		return nil
	}
	if i.TotalIncome != nil {
		return i.TotalIncome
	}
	if i.Operating != nil && i.Operating.Income != nil {
		return i.Operating.Income.SumOperating
	}
	return nil
}

// Net resolves the net result.
func (i *IncomeStatement) Net() *int64 {
	if i == nil {
		return nil
	}
	return i.NetResult
}

// Document is a report document link carried in the statement payload.
type Document struct {
	Title string `json:"tittel"`
	URL   string `json:"url"`
	Type  string `json:"type"`
	Size  int64  `json:"storrelse"`
}

// Entity is the registry's view of the organization, used to bound the
// year lookback.
type Entity struct {
	OrgID          string `json:"organisasjonsnummer"`
	Name           string `json:"navn"`
	RegisteredDate string `json:"registreringsdatoEnhetsregisteret"`
	LastFiledYear  string `json:"sisteInnsendteAarsregnskap"`
}

// RegistrationYear parses the year the entity was registered, or 0.
func (e *Entity) RegistrationYear() int {
	if e == nil || len(e.RegisteredDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(e.RegisteredDate[:4])
	if err != nil {
		return 0
	}
	return y
}

// LatestFilingYear parses the newest filed accounting year, or 0.
func (e *Entity) LatestFilingYear() int {
	if e == nil {
		return 0
	}
	s := strings.TrimSpace(e.LastFiledYear)
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}
