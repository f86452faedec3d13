package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

const shortCommit = 7

// writeSummary prints one row per written tag. Remote runs also show the
// commit, build and snapshot of each tag.
func writeSummary(w io.Writer, m *results.Manifest, dir string) {
	remote := m.Slug != ""

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	header := table.Row{"Tag"}
	if remote {
		header = append(header, "Commit", "Build", "Snapshot")
	}

	header = append(header, "Issues", "Metrics", "Stamp")
	tw.AppendHeader(header)

	total := 0

	for _, tag := range m.Tags {
		row := table.Row{tag.Tag}
		if remote {
			row = append(row, abbrev(tag.Commit), tag.BuildNumber, tag.SnapshotID)
		}

		row = append(row, humanize.Comma(int64(tag.Issues)), tag.Metrics, tag.Stamp)
		tw.AppendRow(row)

		total += tag.Issues
	}

	footer := table.Row{"Total"}
	if remote {
		footer = append(footer, "", "", "")
	}

	footer = append(footer, humanize.Comma(int64(total)), "", "")
	tw.AppendFooter(footer)

	issuesCol := 2
	if remote {
		issuesCol = 5
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: issuesCol, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})

	tw.Render()

	elapsed := m.FinishedAt.Sub(m.StartedAt).Round(time.Second)

	fmt.Fprintf(w, "%s %d tags written to %s in %s (run %s)\n",
		color.GreenString("✓"), len(m.Tags), dir, elapsed, m.RunID)
}

func abbrev(commit string) string {
	if len(commit) > shortCommit {
		return commit[:shortCommit]
	}

	return commit
}
