package court

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"casewatch/pkg/logx"
)

const defaultBaseURL = "https://allahabadhighcourt.in/apps/status_ccms/"

// Fetcher is the source-fetch contract consumed by the change detector.
type Fetcher interface {
	Fetch(ctx context.Context, cino string) (Fields, error)
}

// FetchError wraps any network or parse failure from the status source.
// Callers treat it as transient: the snapshot is left untouched and the next
// scheduled poll retries.
type FetchError struct {
	CINO string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("court fetch %s: %v", e.CINO, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL string
	Timeout time.Duration // per-fetch bound; default 20s
}

// StatusFetcher pulls the case-status page from the CCMS application and
// extracts the tracked fields.
type StatusFetcher struct {
	client *resty.Client
	log    logx.Logger
}

func NewStatusFetcher(cfg Config, log logx.Logger) *StatusFetcher {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(base, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "Mozilla/5.0")
	client.SetHeader("Referer", base)

	return &StatusFetcher{client: client, log: log}
}

func (f *StatusFetcher) Fetch(ctx context.Context, cino string) (Fields, error) {
	cino = strings.TrimSpace(cino)
	if cino == "" {
		return nil, &FetchError{CINO: cino, Err: fmt.Errorf("empty cino")}
	}

	start := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"cino": cino}).
		Post("/index.php/get_CaseDetails")
	if err != nil {
		return nil, &FetchError{CINO: cino, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{CINO: cino, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	fields, err := parseCaseDetails(cino, resp.String())
	if err != nil {
		return nil, &FetchError{CINO: cino, Err: err}
	}

	f.log.Debug("case status fetched",
		logx.String("cino", cino),
		logx.Duration("took", time.Since(start)))
	return fields, nil
}

// parseCaseDetails mirrors the CCMS status page layout: label cells followed by
// value cells, a blinking status header, and the petitioner/respondent table.
func parseCaseDetails(cino, html string) (Fields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	out := Fields{
		"cino":             cino,
		"generatedOn":      generatedOn(doc),
		"filingNo":         nextCell(doc, "Filing No."),
		"filingDate":       nextCell(doc, "Filing Date"),
		"cnr":              nextCell(doc, "CNR"),
		"registrationDate": registrationDate(doc),
		"status":           collapseSpaces(doc.Find("h3.text-center.text-danger.blinkingD").Text()),
		"firstHearingDate": nextCell(doc, "First Hearing Date"),
		"nextHearingDate":  nextCell(doc, "Next Hearing Date"),
		"coram":            nextCell(doc, "Coram"),
		"bench":            nextCell(doc, "Bench Type"),
		"state":            nextCell(doc, "State"),
		"category":         nextCell(doc, "Category"),
		"subCategory":      nextCell(doc, "Sub Category"),
	}
	out["petitioner"], out["respondent"] = parties(doc)

	// A page with no CNR and no status is the "no record" error page.
	if out["cnr"] == "" && out["status"] == "" && out["filingNo"] == "" {
		return nil, fmt.Errorf("no case record in response")
	}
	return out, nil
}

func nextCell(doc *goquery.Document, label string) string {
	sel := fmt.Sprintf("th:contains('%s')", label)
	return collapseSpaces(doc.Find(sel).First().Next().Text())
}

func generatedOn(doc *goquery.Document) string {
	t := doc.Find("span:contains('Generated on')").First().Text()
	t = strings.ReplaceAll(t, "Generated on :", "")
	t = strings.ReplaceAll(t, "Generated on", "")
	return collapseSpaces(t)
}

func registrationDate(doc *goquery.Document) string {
	t := doc.Find("td:contains('Date of Registration')").First().Text()
	t = strings.ReplaceAll(t, "Date of Registration :", "")
	t = strings.ReplaceAll(t, "Date of Registration", "")
	return collapseSpaces(strings.TrimPrefix(strings.TrimSpace(t), ":"))
}

func parties(doc *goquery.Document) (petitioner, respondent string) {
	cells := doc.Find("h3:contains('Petitioner/Respondent')").First().
		Next().Find("table tbody tr td")
	if cells.Length() == 0 {
		return "", ""
	}
	petitioner = collapseSpaces(cells.First().Text())
	respondent = collapseSpaces(cells.Last().Text())
	return petitioner, respondent
}
