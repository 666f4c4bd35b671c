package screens

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/pos-printer/internal/printer"
)

// JobsView shows print jobs and retries failed ones
type JobsView struct {
	app     *tview.Application
	queue   *printer.PrintQueue
	logf    func(format string, args ...interface{})
	table   *tview.Table
	details *tview.TextView
	layout  *tview.Flex
	jobs    []*printer.PrintJob
}

// NewJobsView creates a new jobs view screen
func NewJobsView(app *tview.Application, queue *printer.PrintQueue, logf func(string, ...interface{})) *JobsView {
	j := &JobsView{
		app:   app,
		queue: queue,
		logf:  logf,
	}

	j.setupUI()
	return j
}

func (j *JobsView) setupUI() {
	// Jobs table
	j.table = tview.NewTable()
	j.table.SetBorder(true)
	j.table.SetTitle("Print Jobs")
	j.table.SetSelectable(true, false)
	j.table.SetFixed(1, 0)
	j.table.SetSelectionChangedFunc(func(row, column int) {
		j.selectJob(row)
	})

	// Details view
	j.details = tview.NewTextView()
	j.details.SetBorder(true)
	j.details.SetTitle("Job Details")
	j.details.SetDynamicColors(true)

	// Layout: Table | Details
	j.layout = tview.NewFlex().
		AddItem(j.table, 0, 2, true).
		AddItem(j.details, 0, 1, false)

	// Key bindings
	j.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			return event // Let parent handle
		case tcell.KeyRune:
			switch event.Rune() {
			case 'r':
				j.Refresh()
				return nil
			case 't':
				j.retrySelected()
				return nil
			case 'c':
				j.clearCompleted()
				return nil
			}
		}
		return event
	})

	j.Refresh()
}

// Refresh reloads the job table
func (j *JobsView) Refresh() {
	j.table.Clear()

	// Headers
	for col, title := range []string{"ID", "Kind", "Order", "Status", "Bytes", "Age"} {
		j.table.SetCell(0, col, tview.NewTableCell(title).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	j.jobs = j.queue.GetAllJobs()

	for i, job := range j.jobs {
		row := i + 1
		j.table.SetCell(row, 0, tview.NewTableCell(shortID(job.ID)))
		j.table.SetCell(row, 1, tview.NewTableCell(strings.ToUpper(job.Kind)))
		j.table.SetCell(row, 2, tview.NewTableCell(job.OrderID))
		j.table.SetCell(row, 3, tview.NewTableCell(StatusIcon(job.Status)+" "+job.Status))
		j.table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d", job.Size)).SetAlign(tview.AlignRight))
		j.table.SetCell(row, 5, tview.NewTableCell(time.Since(job.CreatedAt).Truncate(time.Second).String()))
	}

	if len(j.jobs) == 0 {
		j.details.SetText("[yellow]No jobs in queue[white]")
		return
	}
	row, _ := j.table.GetSelection()
	if row < 1 {
		row = 1
		j.table.Select(row, 0)
	}
	j.selectJob(row)
}

func (j *JobsView) selectedJob() *printer.PrintJob {
	row, _ := j.table.GetSelection()
	if row < 1 || row-1 >= len(j.jobs) {
		return nil
	}
	return j.jobs[row-1]
}

func (j *JobsView) selectJob(row int) {
	if row < 1 || row-1 >= len(j.jobs) {
		return
	}
	job := j.jobs[row-1]

	var details strings.Builder
	details.WriteString(fmt.Sprintf("[yellow]Job ID:[white] %s\n", job.ID))
	details.WriteString(fmt.Sprintf("[yellow]Kind:[white] %s\n", job.Kind))
	if job.OrderID != "" {
		details.WriteString(fmt.Sprintf("[yellow]Order:[white] %s\n", job.OrderID))
	}
	if job.DeviceID != "" {
		details.WriteString(fmt.Sprintf("[yellow]Printer:[white] %s\n", job.DeviceID))
	}
	details.WriteString(fmt.Sprintf("[yellow]Status:[white] %s %s\n", StatusIcon(job.Status), job.Status))
	details.WriteString(fmt.Sprintf("[yellow]Size:[white] %d bytes\n", job.Size))
	details.WriteString(fmt.Sprintf("[yellow]Attempts:[white] %d\n", job.Attempts))
	details.WriteString(fmt.Sprintf("[yellow]Created:[white] %s\n", job.CreatedAt.Format("2006-01-02 15:04:05")))

	if job.Error != "" {
		details.WriteString(fmt.Sprintf("\n[red]Error:[white] %s\n", job.Error))
	}

	details.WriteString("\n[yellow]t[white] retry failed  [yellow]c[white] clear completed  [yellow]r[white] refresh")

	j.details.SetText(details.String())
}

func (j *JobsView) retrySelected() {
	job := j.selectedJob()
	if job == nil {
		return
	}

	newID, err := j.queue.Retry(job.ID)
	if err != nil {
		j.details.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}
	j.logf("Retrying job %s as %s", shortID(job.ID), shortID(newID))
	j.Refresh()
}

func (j *JobsView) clearCompleted() {
	removed := j.queue.ClearCompleted()
	j.logf("Cleared %d completed job(s)", removed)
	j.Refresh()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// StatusIcon returns the icon shown next to a job status
func StatusIcon(status string) string {
	switch status {
	case printer.JobQueued:
		return "⏳"
	case printer.JobPrinting:
		return "🟡"
	case printer.JobCompleted:
		return "✅"
	case printer.JobFailed:
		return "❌"
	default:
		return "⚪"
	}
}

// GetRoot returns the root primitive for this screen
func (j *JobsView) GetRoot() tview.Primitive {
	return j.layout
}
