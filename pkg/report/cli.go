package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

type cliStyles struct {
	title    *color.Color
	subtitle *color.Color
	info     *color.Color
	success  *color.Color
	danger   *color.Color
	warning  *color.Color
	muted    *color.Color
}

func (g *Generator) styles() cliStyles {
	s := cliStyles{
		title:    color.New(color.FgHiCyan, color.Bold),
		subtitle: color.New(color.FgCyan, color.Bold),
		info:     color.New(color.FgBlue),
		success:  color.New(color.FgGreen, color.Bold),
		danger:   color.New(color.FgHiRed, color.Bold),
		warning:  color.New(color.FgYellow),
		muted:    color.New(color.FgHiBlack),
	}
	if !g.colorEnabled() {
		for _, c := range []*color.Color{s.title, s.subtitle, s.info, s.success, s.danger, s.warning, s.muted} {
			c.DisableColor()
		}
	}
	return s
}

func (g *Generator) colorEnabled() bool {
	return g.FilePath == "" && g.term.UseColor() && !color.NoColor
}

// generateCLIReport renders the human readable summary
func (g *Generator) generateCLIReport() error {
	var buf bytes.Buffer
	g.renderCLI(&buf)
	return g.write("CLI", buf.Bytes())
}

func (g *Generator) renderCLI(w io.Writer) {
	doc := g.Document
	st := g.styles()

	fmt.Fprintln(w)
	st.title.Fprintln(w, "╔═══════════════════════════════════════════╗")
	st.title.Fprintln(w, "║         PINWALK DEPENDENCY REPORT         ║")
	st.title.Fprintln(w, "╚═══════════════════════════════════════════╝")

	fmt.Fprintln(w)
	st.subtitle.Fprintln(w, "► SCAN INFORMATION")
	fmt.Fprintln(w, rule)
	g.field(w, st, "Repository:", doc.Repository)
	g.field(w, st, "Scan Time:", doc.ScanTime.Format(time.RFC1123))
	g.field(w, st, "Duration:", doc.Duration.Round(time.Millisecond).String())
	g.field(w, st, "Workflow Files:", strconv.Itoa(len(doc.Files)))
	g.field(w, st, "Scan ID:", doc.ScanID)
	if doc.Cancelled {
		st.danger.Fprintln(w, "⚠ Scan was cancelled, the graph below is partial")
	}

	if g.ShowTree && len(doc.Root) > 0 {
		fmt.Fprintln(w)
		st.subtitle.Fprintln(w, "► DEPENDENCY TREE")
		fmt.Fprintln(w, rule)
		g.renderTree(w, st)
	}

	fmt.Fprintln(w)
	st.subtitle.Fprintln(w, "► SUMMARY")
	fmt.Fprintln(w, rule)
	g.renderSummaryTable(w)

	unpinned := doc.Unpinned()
	fmt.Fprintln(w)
	if len(unpinned) > 0 {
		st.subtitle.Fprintln(w, "► UNPINNED DEPENDENCIES")
		fmt.Fprintln(w, rule)
		for i, e := range unpinned {
			st.danger.Fprintf(w, "%3d. %s", i+1, e.Node.Key)
			fmt.Fprintf(w, " [%s]\n", e.Node.ActionType)
			if e.Node.PinReason != "" {
				st.info.Fprintf(w, "     %-10s ", "Reason:")
				fmt.Fprintln(w, e.Node.PinReason)
			}
			if e.Source != nil {
				st.info.Fprintf(w, "     %-10s ", "Via:")
				via := fmt.Sprintf("%s:%d (%s)", e.Source.File, e.Source.Line, e.Source.Location)
				if e.Parent != "" {
					via += " -> " + e.Parent
				}
				fmt.Fprintln(w, via)
			}
			if g.Verbose && e.Node.ResolvedCommitOrDigest != "" {
				st.info.Fprintf(w, "     %-10s ", "Pin to:")
				fmt.Fprintln(w, e.Node.ResolvedCommitOrDigest)
			}
		}
	} else {
		st.success.Fprintln(w, "✅ ALL DEPENDENCIES ARE PINNED")
	}

	var imageWarnings []Entry
	for _, e := range doc.Entries() {
		if len(e.Node.ImageWarnings) > 0 {
			imageWarnings = append(imageWarnings, e)
		}
	}
	if len(imageWarnings) > 0 {
		fmt.Fprintln(w)
		st.subtitle.Fprintln(w, "► DOCKER IMAGE WARNINGS")
		fmt.Fprintln(w, rule)
		for _, e := range imageWarnings {
			fmt.Fprintln(w, e.Node.Key)
			for _, msg := range e.Node.ImageWarnings {
				st.warning.Fprintf(w, "  ⚠ %s\n", msg)
			}
		}
	}

	if len(doc.Warnings) > 0 {
		fmt.Fprintln(w)
		st.subtitle.Fprintln(w, "► WARNINGS")
		fmt.Fprintln(w, rule)
		for _, msg := range doc.Warnings {
			st.warning.Fprintf(w, "  ⚠ %s\n", msg)
		}
	}

	if len(doc.PolicyViolations) > 0 {
		fmt.Fprintln(w)
		st.subtitle.Fprintln(w, "► POLICY VIOLATIONS")
		fmt.Fprintln(w, rule)
		for _, v := range doc.PolicyViolations {
			st.danger.Fprintf(w, "  [%s] %s", v.Severity, v.Name)
			fmt.Fprintf(w, " (%s, %s)\n", v.ID, v.Policy)
			if v.Key != "" {
				fmt.Fprintf(w, "    %s\n", v.Key)
			}
			if g.Verbose && v.Remediation != "" {
				st.info.Fprintf(w, "    %-12s ", "Remediation:")
				fmt.Fprintln(w, v.Remediation)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

func (g *Generator) field(w io.Writer, st cliStyles, name, value string) {
	st.info.Fprintf(w, "%-20s ", name)
	fmt.Fprintln(w, value)
}

func (g *Generator) renderSummaryTable(w io.Writer) {
	s := g.Document.Summary

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Count"})
	table.SetBorder(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	rows := []struct {
		name   string
		count  int
		colors tablewriter.Colors
	}{
		{"Dependencies", s.Dependencies, tablewriter.Colors{tablewriter.Bold}},
		{"Repositories fetched", s.Repositories, tablewriter.Colors{}},
		{"Pinned", s.Pinned, tablewriter.Colors{tablewriter.FgGreenColor}},
		{"Unpinned", s.Unpinned, tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiRedColor}},
		{"Trusted", s.Trusted, tablewriter.Colors{tablewriter.FgBlueColor}},
		{"Unresolved", s.Unresolved, tablewriter.Colors{tablewriter.FgYellowColor}},
		{"Image warnings", s.ImageWarnings, tablewriter.Colors{tablewriter.FgYellowColor}},
		{"Warnings", s.Warnings, tablewriter.Colors{tablewriter.FgYellowColor}},
		{"Policy violations", s.PolicyViolations, tablewriter.Colors{tablewriter.FgHiRedColor}},
	}

	if g.colorEnabled() {
		table.SetHeaderColor(tablewriter.Colors{tablewriter.Bold}, tablewriter.Colors{tablewriter.Bold})
	}
	for _, r := range rows {
		row := []string{r.name, strconv.Itoa(r.count)}
		if g.colorEnabled() && len(r.colors) > 0 {
			table.Rich(row, []tablewriter.Colors{r.colors, r.colors})
		} else {
			table.Append(row)
		}
	}
	table.Render()
}

func (g *Generator) renderTree(w io.Writer, st cliStyles) {
	doc := g.Document
	for _, file := range doc.Files {
		var roots []*NodeView
		for _, r := range doc.Root {
			if r.Source != nil && r.Source.File == file {
				roots = append(roots, r)
			}
		}
		st.title.Fprintln(w, file)
		if len(roots) == 0 {
			st.muted.Fprintln(w, "└── (no external dependencies)")
			continue
		}
		for i, r := range roots {
			g.renderNode(w, st, r, "", i == len(roots)-1)
		}
	}
}

func (g *Generator) renderNode(w io.Writer, st cliStyles, v *NodeView, prefix string, last bool) {
	connector, childPrefix := "├── ", prefix+"│   "
	if last {
		connector, childPrefix = "└── ", prefix+"    "
	}

	fmt.Fprint(w, prefix+connector+v.Key+" ")
	st.muted.Fprintf(w, "[%s]", v.ActionType)
	switch {
	case v.Cycle:
		st.warning.Fprint(w, " ↺ cycle")
	case v.DepthExceeded:
		st.warning.Fprint(w, " ⤓ depth limit")
	case v.FetchError != "":
		st.danger.Fprintf(w, " ✗ fetch failed (%s)", v.FetchReason)
	}
	switch {
	case v.Trusted:
		st.info.Fprint(w, " trusted")
	case v.Pinned:
		st.success.Fprint(w, " ✓ pinned")
	default:
		st.danger.Fprint(w, " ✗ unpinned")
	}
	if v.ResolvedCommitOrDigest != "" && g.Verbose {
		st.muted.Fprintf(w, " %s", shortID(v.ResolvedCommitOrDigest))
	}

	if v.Shared && len(g.Document.Expanded(v).Children) > 0 {
		st.muted.Fprintln(w, " (see above)")
		return
	}
	fmt.Fprintln(w)

	for i, c := range v.Children {
		g.renderNode(w, st, c, childPrefix, i == len(v.Children)-1)
	}
}
