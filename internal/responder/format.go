package responder

import (
	"fmt"
	"strings"

	"github.com/msw-projects/termine/internal/resolver"
	"github.com/msw-projects/termine/internal/storage"
)

const (
	// NoResultsMessage replaces the body when no identifier resolved.
	NoResultsMessage = "**Ich konnte leider keine Termine für deine Anfrage finden :(**"

	Footer = "Ich bin ein MSW Community Bot | Du findest meinen Code auf [https://github.com/msw-projects](https://github.com/msw-projects)\n" +
		"Rufe mich mit `!termine` und WKN, ISIN oder Symbol (z.B. `!termine 508810` oder `!termine AAPL`)"
)

var eventColumns = []string{"Terminart", "Info", "Datum"}

// FormatCompany renders one company header, its identifiers, and a
// markdown table of its events.
func FormatCompany(c storage.Company, events []storage.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Termine\n\n", c.Name)

	ticker := c.Ticker
	if ticker == "" {
		ticker = "-"
	}
	fmt.Fprintf(&b, "*WKN: %s | ISIN: %s | Symbol: %s*\n\n", c.LocalCode, c.NationalID, ticker)

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{e.Type, e.Info, e.Date})
	}
	b.WriteString(markdownTable(eventColumns, rows))
	return b.String()
}

// FormatReply joins one block per successful result; failures are left out.
// With no successes the fixed no-results message is used. The footer is
// always appended.
func FormatReply(results []resolver.Result) string {
	var blocks []string
	for _, r := range results {
		if r.OK() {
			blocks = append(blocks, FormatCompany(r.Company, r.Events))
		}
	}

	body := NoResultsMessage
	if len(blocks) > 0 {
		body = strings.Join(blocks, "\n\n")
	}
	return body + "\n\n" + Footer
}

func markdownTable(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")

	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = ":--"
	}
	b.WriteString(strings.Join(sep, " | "))
	b.WriteString("\n")

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
