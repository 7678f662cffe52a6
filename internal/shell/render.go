package shell

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"dochub/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// RenderTasks writes the collection as a table, marking the selected task.
func RenderTasks(w io.Writer, tasks []domain.Task, selected string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"", "ID", "Name", "Status", "Bulk", "Fresh", "Created", "Completed"})
	for _, t := range tasks {
		mark := ""
		if t.ID == selected {
			mark = "*"
		}
		completed := ""
		if t.CompletedAt != nil {
			completed = formatMillis(*t.CompletedAt)
		}
		tw.AppendRow(table.Row{mark, t.ID, t.Name, t.Status, len(t.BulkFiles), t.FreshFile.Name, formatMillis(t.CreatedAt), completed})
	}
	tw.Render()
}

// RenderFiles writes the pending selection, bulk entries numbered from 1.
func RenderFiles(w io.Writer, bulk []domain.FileRef, fresh *domain.FileRef) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Role", "Name", "Size"})
	for i, f := range bulk {
		tw.AppendRow(table.Row{i + 1, "bulk", f.Name, FormatSize(f.Size)})
	}
	if fresh != nil {
		tw.AppendRow(table.Row{"", "fresh", fresh.Name, FormatSize(fresh.Size)})
	}
	tw.Render()
}

// RenderEvents writes journal entries as a table.
func RenderEvents(w io.Writer, evts []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Task", "Payload"})
	for _, e := range evts {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.TaskID, e.Payload})
	}
	tw.Render()
}

// FormatSize renders a byte count in binary units, e.g. "97 KiB".
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(timeLayout)
}
