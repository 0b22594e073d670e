package notify

import (
	"strings"

	"casewatch/internal/court"
	"casewatch/internal/watch"
)

const emptyPlaceholder = "—"

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyPlaceholder
	}
	return s
}

// FormatStatus renders the full current record, one labeled line per tracked
// field, with a placeholder for empties.
func FormatStatus(cino string, fields court.Fields) string {
	var b strings.Builder
	b.WriteString("Allahabad HC status for CINO ")
	b.WriteString(cino)
	for _, f := range court.TrackedFields {
		if f == "cino" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(court.Label(f))
		b.WriteString(": ")
		b.WriteString(orDash(fields.Get(f)))
	}
	return b.String()
}

// FormatChanges renders only the changed fields as "label: prev → curr" lines.
func FormatChanges(cino string, res watch.Result) string {
	var b strings.Builder
	b.WriteString("Allahabad HC update for CINO ")
	b.WriteString(cino)
	for _, f := range res.Changed {
		b.WriteString("\n")
		b.WriteString(court.Label(f))
		b.WriteString(": ")
		b.WriteString(orDash(res.Previous[f]))
		b.WriteString(" → ")
		b.WriteString(orDash(res.Current.Get(f)))
	}
	return b.String()
}

// FormatHearingDate is the legacy single-field alert.
func FormatHearingDate(cino string, res watch.Result) string {
	prev := orDash(res.Previous[court.FieldNextHearingDate])
	curr := orDash(res.Current.Get(court.FieldNextHearingDate))
	return "Allahabad HC: New hearing date for CINO " + cino + "\n" + prev + " → " + curr
}

// FormatOrderAlert announces a newly published order/judgment document.
func FormatOrderAlert(link string) string {
	return "Allahabad HC: New order/judgment detected\nLink: " + link
}
