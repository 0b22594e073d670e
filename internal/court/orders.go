package court

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
)

var judgmentLinkRe = regexp.MustCompile(
	`href='(https://elegalix\.allahabadhighcourt\.in/elegalix/WebDownloadJudgmentDocument\.do\?judgmentID=\d+)'`)

// OrderQuery identifies a case on the order-sheet page.
type OrderQuery struct {
	CaseType string // e.g. "BAIL"
	CaseNo   string
	CaseYear string
}

// FetchLatestOrderLink returns the newest judgment/order document link for the
// case, or "" when the page lists none.
func (f *StatusFetcher) FetchLatestOrderLink(ctx context.Context, q OrderQuery) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"ct": q.CaseType,
			"cn": q.CaseNo,
			"cy": q.CaseYear,
		}).
		Post("/index.php/get-order-sheets")
	if err != nil {
		return "", &FetchError{CINO: q.CaseNo, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &FetchError{CINO: q.CaseNo, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	m := judgmentLinkRe.FindStringSubmatch(resp.String())
	if len(m) < 2 {
		return "", nil
	}
	return m[1], nil
}
