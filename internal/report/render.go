package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Render formats the summary as aligned text tables with the notes
// block underneath.
func (s *Summary) Render() string {
	var b strings.Builder
	s.renderTable(&b, "Incidence (%)", s.Incidence)
	b.WriteString("\n")
	s.renderTable(&b, "IFR (%)", s.IFR)
	if len(s.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, n := range s.Notes {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
	}
	return b.String()
}

func (s *Summary) renderTable(b *strings.Builder, title string, rows []Row) {
	fmt.Fprintf(b, "%s\n", title)
	w := tabwriter.NewWriter(b, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\tmedian\t%.1f%%\t%.1f%%\n", 100*s.Q.Lo, 100*s.Q.Hi)
	for _, row := range rows {
		if row.Cell.Undefined {
			fmt.Fprintf(w, "%s\tundefined\t-\t-\n", row.Label)
			continue
		}
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\n", row.Label, row.Cell.Median, row.Cell.Lo, row.Cell.Hi)
	}
	w.Flush()
}
