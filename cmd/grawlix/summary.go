package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"grawlix/internal/output"
)

// renderSummary renders the end-of-run table, one row per requested book.
// Failed books report the classified error in place of size and path.
func renderSummary(results []output.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Book", "Status", "Size", "Time", "Output"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})

	for _, result := range results {
		if result.Err != nil {
			tw.AppendRow(table.Row{result.Title, "failed: " + result.Err.Error(), "", "", ""})
			continue
		}
		tw.AppendRow(table.Row{
			result.Title,
			"done",
			humanize.Bytes(uint64(result.Size)),
			formatDuration(result.Duration),
			result.Path,
		})
	}
	return tw.Render()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
