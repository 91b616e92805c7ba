package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/corpus-reconciler/internal/app"
	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/ledger"
)

// maxErrorWidth truncates ledger error text in tables.
const maxErrorWidth = 60

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func metricsTable(w io.Writer, title string, rows [][2]any) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, r := range rows {
		t.AppendRow(table.Row{r[0], r[1]})
	}
	t.Render()
}

func renderEnumeration(w io.Writer, out app.EnumerateOutcome) {
	rep := out.Result.Report
	metricsTable(w, "Enumeration "+rep.Category, [][2]any{
		{"Pages attempted", rep.PagesAttempted},
		{"Pages processed", rep.TotalPagesProcessed},
		{"Pages failed", rep.TotalPagesFailed},
		{"Raw ids", rep.TotalRawDocIDs},
		{"Unique ids", rep.TotalUniqueDocIDs},
		{"Duplicates", rep.DuplicateCount},
		{"Expected", rep.ExpectedDocuments},
		{"Difference", rep.DifferenceFromExpected},
		{"Unusual pages", len(rep.UnusualPages)},
		{"Artifact", out.Artifact.URI},
	})
}

func renderReconcile(w io.Writer, out app.ReconcileOutcome) {
	m := out.Missing
	metricsTable(w, "Reconciliation "+m.Category, [][2]any{
		{"Discovered", m.APITotalDocIDs},
		{"Persisted", m.DBTotalDocIDs},
		{"Missing", len(m.AllMissingDocIDs)},
		{"Coverage %", fmt.Sprintf("%.2f", m.CoveragePercentage)},
		{"Legacy coverage %", fmt.Sprintf("%.2f", m.LegacyCoveragePercentage)},
		{"Artifact", out.Artifact.URI},
	})
}

func renderBackfill(w io.Writer, out app.BackfillOutcome) {
	s := out.Summary
	metricsTable(w, "Backfill "+s.Category, [][2]any{
		{"Successful", s.TotalSuccessful},
		{"Duplicates", len(s.Duplicates)},
		{"Failed", s.TotalFailed},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
		{"Artifact", out.Artifact.URI},
	})
	if len(s.Failed) == 0 {
		return
	}
	t := newTable(w, "Failed documents")
	t.AppendHeader(table.Row{"Doc ID", "Kind", "Error"})
	for _, f := range s.Failed {
		t.AppendRow(table.Row{f.DocID, f.Kind, truncate(f.Reason)})
	}
	t.Render()
}

func renderReplay(w io.Writer, res ledger.ReplayResult) {
	rows := [][2]any{
		{"Attempted", res.Attempted},
		{"Inserted", res.Inserted},
		{"Duplicates", res.Duplicates},
		{"Failed", res.Failed},
		{"Archived", strconv.FormatBool(res.Archived)},
	}
	if res.ArchiveName != "" {
		rows = append(rows, [2]any{"Archive", res.ArchiveName})
	}
	if res.Pruned {
		rows = append(rows, [2]any{"Pruned", "true"})
	}
	metricsTable(w, "Ledger replay", rows)
	if res.Failed == 0 {
		return
	}
	t := newTable(w, "Still failing")
	t.AppendHeader(table.Row{"Doc ID", "Category", "Kind", "Error"})
	for _, r := range res.Results {
		if r.Outcome != ledger.OutcomeFailed {
			continue
		}
		t.AppendRow(table.Row{r.Entry.DocID, r.Entry.Category, corpus.KindOf(r.Err), truncate(errString(r.Err))})
	}
	t.Render()
}

func renderLedger(w io.Writer, name string, entries []corpus.LedgerEntry) {
	t := newTable(w, fmt.Sprintf("Ledger %s (%d entries)", name, len(entries)))
	t.AppendHeader(table.Row{"#", "Doc ID", "Category", "Kind", "Payload", "Timestamp", "Error"})
	for i, e := range entries {
		t.AppendRow(table.Row{
			i + 1,
			e.DocID,
			e.Category,
			e.Kind,
			strconv.FormatBool(e.HasPayload()),
			e.Timestamp.UTC().Format(time.RFC3339),
			truncate(e.Error),
		})
	}
	t.Render()
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorWidth {
		return s
	}
	return string(r[:maxErrorWidth-1]) + "…"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
