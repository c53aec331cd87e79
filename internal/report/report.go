package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pable/lineup-matchups/internal/features"
	"github.com/pable/lineup-matchups/internal/gate"
	"github.com/pable/lineup-matchups/internal/matchup"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/storage"
)

var (
	cPass = color.New(color.FgGreen, color.Bold)
	cFail = color.New(color.FgRed, color.Bold)
	cWarn = color.New(color.FgYellow)
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

// PrintImputation prints imputed cell counts for every column that needed it.
func PrintImputation(w io.Writer, rows int, im features.Imputation) {
	fmt.Fprintf(w, "\nRows: %d  |  Imputed cells: %d of %d\n\n", rows, im.Total(), im.Cells)
	if im.Total() == 0 {
		return
	}
	table := newTable(w)
	table.Header("FEATURE", "IMPUTED", "FILL")
	for j, n := range im.Replaced {
		if n == 0 {
			continue
		}
		table.Append(fmt.Sprintf("f%d", j), strconv.Itoa(n), fmt.Sprintf("%.4g", im.Fill[j]))
	}
	table.Render()
}

// PrintArchetypes prints the population of each archetype.
func PrintArchetypes(w io.Writer, counts []storage.ArchetypeCount) {
	total := 0
	for _, c := range counts {
		total += c.Players
	}
	table := newTable(w)
	table.Header("ID", "NAME", "PLAYER_SEASONS", "SHARE")
	for _, c := range counts {
		table.Append(
			strconv.Itoa(c.ArchetypeID),
			c.Name,
			strconv.Itoa(c.Players),
			pct(c.Players, total),
		)
	}
	table.Render()
}

// PrintSuperclusters prints, per side and supercluster, how many lineup keys
// were placed by the trained model and how many by the hash fallback.
func PrintSuperclusters(w io.Writer, assignments []model.SuperclusterAssignment) {
	type cell struct{ trained, fallback, possessions int }
	type key struct {
		side model.Side
		id   int
	}
	cells := make(map[key]*cell)
	for _, a := range assignments {
		k := key{a.Side, a.SuperclusterID}
		c, ok := cells[k]
		if !ok {
			c = &cell{}
			cells[k] = c
		}
		if a.LowConfidence() {
			c.fallback++
		} else {
			c.trained++
		}
		c.possessions += a.Possessions
	}
	keys := make([]key, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].side != keys[j].side {
			return keys[i].side < keys[j].side
		}
		return keys[i].id < keys[j].id
	})

	table := newTable(w)
	table.Header("SIDE", "SC", "KEYS", "TRAINED", "FALLBACK", "POSSESSIONS")
	for _, k := range keys {
		c := cells[k]
		fallback := strconv.Itoa(c.fallback)
		if c.fallback > 0 {
			fallback = cWarn.Sprint(fallback)
		}
		table.Append(
			k.side.String(),
			strconv.Itoa(k.id),
			strconv.Itoa(c.trained+c.fallback),
			strconv.Itoa(c.trained),
			fallback,
			strconv.Itoa(c.possessions),
		)
	}
	table.Render()
}

// PrintBuild prints the outcome of a matchup build: rows kept, exclusions by
// reason and fallback usage.
func PrintBuild(w io.Writer, res *matchup.Result) {
	fmt.Fprintf(w, "\nPossessions: %d  |  Training rows: %d  |  Dropped: %d (%.1f%%)  |  Fallback lineups: %d  |  Matchups: %d\n\n",
		res.Total, len(res.Rows), res.Dropped(), 100*res.DropRate(), res.Fallbacks, len(res.Matchups))
	if res.Dropped() == 0 {
		return
	}
	table := newTable(w)
	table.Header("REASON", "POSSESSIONS", "SHARE")
	for _, r := range res.Reasons() {
		table.Append(r, strconv.Itoa(res.Exclusions[r]), pct(res.Exclusions[r], res.Total))
	}
	table.Render()
	if len(res.Incomplete) == 0 {
		return
	}
	fmt.Fprintf(w, "\nFirst excluded possessions:\n")
	for _, e := range res.Incomplete {
		fmt.Fprintf(w, "  %v\n", e)
	}
}

// PrintGateReport prints a gate's checks. Unless all is set only failing
// checks are listed individually; passing ones are counted by name.
func PrintGateReport(w io.Writer, r *gate.Report, all bool) {
	status := cPass.Sprint("PASS")
	if !r.Passed() {
		status = cFail.Sprint("FAIL")
	}
	fmt.Fprintf(w, "\n=== %s gate: %s (%d checks, %d failed) ===\n", r.Gate, status, len(r.Checks), len(r.Failed()))

	table := newTable(w)
	table.Header("CHECK", "SUBJECT", "MEASURED", "OP", "THRESHOLD", "RESULT")
	passed := make(map[string]int)
	var names []string
	for _, c := range r.Checks {
		if c.Passed && !all {
			if passed[c.Name] == 0 {
				names = append(names, c.Name)
			}
			passed[c.Name]++
			continue
		}
		result := cPass.Sprint("PASS")
		if !c.Passed {
			result = cFail.Sprint("FAIL")
		}
		table.Append(c.Name, c.Subject, num(c.Measured), string(c.Op), num(c.Threshold), result)
	}
	for _, n := range names {
		table.Append(n, fmt.Sprintf("(%d subjects)", passed[n]), "", "", "", cPass.Sprint("PASS"))
	}
	table.Render()
}

// PrintRuns prints the model run history.
func PrintRuns(w io.Writer, runs []model.ModelRun) {
	table := newTable(w)
	table.Header("RUN", "CREATED", "VARIANT", "STATUS", "ROWS", "CHAINS", "WARMUP", "SAMPLES", "SEED", "DIV")
	for _, r := range runs {
		table.Append(
			shortID(r.RunID),
			r.CreatedAt,
			string(r.Variant),
			statusText(r.Status),
			strconv.Itoa(r.Rows),
			strconv.Itoa(r.Chains),
			strconv.Itoa(r.Warmup),
			strconv.Itoa(r.Samples),
			strconv.FormatInt(r.Seed, 10),
			strconv.Itoa(r.Divergences),
		)
	}
	table.Render()
}

// PrintRunHeader prints a one-line summary of a run.
func PrintRunHeader(w io.Writer, r model.ModelRun) {
	fmt.Fprintf(w, "\nRun: %s  |  %s  |  Variant: %s  |  Status: %s  |  Rows: %d  |  Chains: %d x %d (+%d warmup)  |  Divergences: %d\n",
		r.RunID, r.CreatedAt, r.Variant, statusText(r.Status), r.Rows, r.Chains, r.Samples, r.Warmup, r.Divergences)
	if r.Note != "" {
		fmt.Fprintf(w, "Note: %s\n", r.Note)
	}
	fmt.Fprintln(w)
}

// PrintCoefficients prints one row per matchup with the intercept, sigma and
// the largest offensive and defensive slopes.
func PrintCoefficients(w io.Writer, coefs []model.Coefficients, space matchup.Space) {
	table := newTable(w)
	table.Header("MATCHUP", "VARIANT", "BETA_0", "TOP_OFF", "TOP_DEF", "SIGMA")
	for _, c := range coefs {
		table.Append(
			space.Label(c.Matchup),
			string(c.Variant),
			fmt.Sprintf("%.3f", c.Beta0),
			topSlope(c.BetaOff),
			topSlope(c.BetaDef),
			fmt.Sprintf("%.3f", c.Sigma),
		)
	}
	table.Render()
}

// PrintDiagnostics prints the limit worst-converged parameters, ordered by
// R-hat descending. NaN sorts first. limit <= 0 prints all.
func PrintDiagnostics(w io.Writer, summary []model.ParamSummary, limit int) {
	sorted := append([]model.ParamSummary(nil), summary...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].RHat, sorted[j].RHat
		if math.IsNaN(a) != math.IsNaN(b) {
			return math.IsNaN(a)
		}
		return a > b
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	table := newTable(w)
	table.Header("PARAM", "MEAN", "SD", "RHAT", "ESS")
	for _, s := range sorted {
		table.Append(s.Name, fmt.Sprintf("%.4f", s.Mean), fmt.Sprintf("%.4f", s.SD), num(s.RHat), fmt.Sprintf("%.0f", s.ESS))
	}
	table.Render()
}

// PrintOverview prints row counts per table.
func PrintOverview(w io.Writer, counts []storage.TableCount) {
	table := newTable(w)
	table.Header("TABLE", "ROWS")
	for _, c := range counts {
		table.Append(c.Table, strconv.Itoa(c.Rows))
	}
	table.Render()
}

// PrintQuery prints the result of an ad-hoc query.
func PrintQuery(w io.Writer, cols []string, rows [][]string) {
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	table := newTable(w)
	table.Header(header...)
	for _, row := range rows {
		rowAny := make([]any, len(row))
		for i, v := range row {
			rowAny[i] = v
		}
		table.Append(rowAny...)
	}
	table.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func topSlope(beta [model.NumArchetypes]float64) string {
	best := 0
	for a := range beta {
		if math.Abs(beta[a]) > math.Abs(beta[best]) {
			best = a
		}
	}
	return fmt.Sprintf("a%d %+.3f", best, beta[best])
}

func statusText(s model.RunStatus) string {
	switch s {
	case model.RunAccepted:
		return cPass.Sprint(string(s))
	case model.RunRejected:
		return cFail.Sprint(string(s))
	case model.RunCancelled:
		return cWarn.Sprint(string(s))
	}
	return string(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func pct(n, total int) string {
	if total == 0 {
		return "—"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}
