// Package report renders analysis results for the terminal.
package report

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/rgmining/fraudeagle/internal/analysis"
	"github.com/rgmining/fraudeagle/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// DefaultCutoff is the anomalous score above which reviewers are highlighted.
const DefaultCutoff = 0.5

// ParseFormat validates s. An empty string picks the default for f.
func ParseFormat(s string, f *os.File) (Format, error) {
	switch Format(s) {
	case "":
		return DefaultFormat(f), nil
	case FormatTable, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want table or json)", s)
}

// DefaultFormat is table on a terminal and JSON otherwise.
func DefaultFormat(f *os.File) Format {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		return FormatTable
	}
	return FormatJSON
}

// Reporter writes results to w.
type Reporter struct {
	w       io.Writer
	format  Format
	cutoff  float64
	flagged *color.Color
}

// New returns a Reporter. Highlighting follows color.NoColor unless
// WithColor overrides it.
func New(w io.Writer, format Format, cutoff float64) *Reporter {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Reporter{
		w:       w,
		format:  format,
		cutoff:  cutoff,
		flagged: color.New(color.FgRed, color.Bold),
	}
}

// WithColor forces highlighting on or off.
func (r *Reporter) WithColor(on bool) *Reporter {
	if on {
		r.flagged.EnableColor()
	} else {
		r.flagged.DisableColor()
	}
	return r
}

func (r *Reporter) writeJSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table renders rows through tabwriter, then highlights the rows for which
// flag returns true. Highlighting is applied after alignment so escape
// codes do not skew column widths.
func (r *Reporter) table(header string, rows []string, flag func(i int) bool) error {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header) //nolint:errcheck // buffer
	for _, row := range rows {
		fmt.Fprintln(tw, row) //nolint:errcheck // buffer
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sc := bufio.NewScanner(&buf)
	for i := -1; sc.Scan(); i++ {
		line := sc.Text()
		if i >= 0 && flag != nil && flag(i) {
			line = r.flagged.Sprint(line)
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// RankReviewers returns a copy of scores ordered by descending score, then
// name, truncated to limit when limit > 0.
func RankReviewers(scores []analysis.ReviewerScore, limit int) []analysis.ReviewerScore {
	out := slices.Clone(scores)
	slices.SortStableFunc(out, func(a, b analysis.ReviewerScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Result writes a run with its top reviewers and all product summaries.
func (r *Reporter) Result(res *analysis.Result, limit int) error {
	top := RankReviewers(res.Reviewers, limit)
	if r.format == FormatJSON {
		out := *res
		out.Reviewers = top
		return r.writeJSON(out)
	}

	converged := "yes"
	if !res.Converged {
		converged = "NO"
	}
	if _, err := fmt.Fprintf(r.w, "run %s  epsilon=%g  iterations=%d  delta=%.3g  converged=%s  took=%s\n\n",
		res.ID, res.Epsilon, res.Iterations, res.Delta, converged, res.Duration.Round(1e6)); err != nil {
		return err
	}
	if err := r.Reviewers(top); err != nil {
		return err
	}
	if len(res.Products) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(r.w); err != nil {
		return err
	}
	return r.Products(res.Products)
}

// Reviewers writes a ranked reviewer table.
func (r *Reporter) Reviewers(scores []analysis.ReviewerScore) error {
	if r.format == FormatJSON {
		return r.writeJSON(scores)
	}
	if len(scores) == 0 {
		_, err := fmt.Fprintln(r.w, "No reviewers.")
		return err
	}
	rows := make([]string, len(scores))
	for i, s := range scores {
		rows[i] = fmt.Sprintf("%d\t%s\t%.4f\t%d", i+1, s.Name, s.Score, s.Reviews)
	}
	return r.table("RANK\tREVIEWER\tSCORE\tREVIEWS", rows, func(i int) bool {
		return scores[i].Score > r.cutoff
	})
}

// Products writes a product summary table.
func (r *Reporter) Products(sums []analysis.ProductSummary) error {
	if r.format == FormatJSON {
		return r.writeJSON(sums)
	}
	rows := make([]string, len(sums))
	for i, s := range sums {
		rows[i] = fmt.Sprintf("%s\t%.4f\t%d", s.Name, s.Summary, s.Reviews)
	}
	return r.table("PRODUCT\tSUMMARY\tREVIEWS", rows, nil)
}

// Runs writes a run listing.
func (r *Reporter) Runs(runs []store.Run) error {
	if r.format == FormatJSON {
		if runs == nil {
			runs = []store.Run{}
		}
		return r.writeJSON(runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(r.w, "No runs found.")
		return err
	}
	rows := make([]string, len(runs))
	for i, run := range runs {
		rows[i] = fmt.Sprintf("%s\t%s\t%s\t%d\t%.3g\t%t\t%d\t%d",
			run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), run.Dataset,
			run.Iterations, run.Delta, run.Converged, run.Reviewers, run.Products)
	}
	return r.table("ID\tSTARTED\tDATASET\tITERATIONS\tDELTA\tCONVERGED\tREVIEWERS\tPRODUCTS", rows, func(i int) bool {
		return !runs[i].Converged
	})
}
