// Package court fetches and parses Allahabad High Court case-status records.
//
// The parser is deliberately thin: everything downstream works off the flat
// Fields map, so swapping the markup scraping for another source only touches
// this package.
package court

import "strings"

// Fields is a flat map of named string values for one case record.
type Fields map[string]string

// TrackedFields is the fixed, ordered list of field names watched for changes.
// Order matters: diffs and status messages render in this order.
var TrackedFields = []string{
	"cino",
	"generatedOn",
	"filingNo",
	"filingDate",
	"cnr",
	"registrationDate",
	"status",
	"firstHearingDate",
	"nextHearingDate",
	"coram",
	"bench",
	"state",
	"petitioner",
	"respondent",
	"category",
	"subCategory",
}

// FieldNextHearingDate is the "primary" field for the legacy hearing-date watch mode.
const FieldNextHearingDate = "nextHearingDate"

var labels = map[string]string{
	"cino":             "CINO",
	"generatedOn":      "Generated On",
	"filingNo":         "Filing No.",
	"filingDate":       "Filing Date",
	"cnr":              "CNR",
	"registrationDate": "Date of Registration",
	"status":           "Status",
	"firstHearingDate": "First Hearing Date",
	"nextHearingDate":  "Next Hearing Date",
	"coram":            "Coram",
	"bench":            "Bench Type",
	"state":            "State",
	"petitioner":       "Petitioner",
	"respondent":       "Respondent",
	"category":         "Category",
	"subCategory":      "Sub Category",
}

// Label returns the display label for a field name, falling back to the raw name.
func Label(field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return field
}

// Get returns the trimmed value for a field ("" when absent).
func (f Fields) Get(name string) string {
	return strings.TrimSpace(f[name])
}

// collapseSpaces trims and folds runs of whitespace into single spaces.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
