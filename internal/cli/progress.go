package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/executor"
	"github.com/harun/balatrollm/pkg/task"
)

var (
	startedColor = color.New(color.FgCyan)
	wonColor     = color.New(color.FgGreen, color.Bold)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	skipColor    = color.New(color.FgYellow)
)

// progress prints one line per task start and finish. It implements
// executor.Observer and is safe for concurrent use.
type progress struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) TaskStarted(index, total int, t task.Task) {
	p.printf("[%d/%d] %s | %s\n", index+1, total, startedColor.Sprint("STARTED"), t)
}

func (p *progress) TaskFinished(index, total int, r executor.Result) {
	line := fmt.Sprintf("[%d/%d] %s | %s | %s", index+1, total,
		outcomeColor(r.Report).Sprint("COMPLETED"), outcomeLabel(r.Report), r.Task)
	if r.Report.Reason != "" {
		line += " | " + r.Report.Reason
	}
	if r.Duration > 0 {
		line += " | " + formatDuration(r.Duration)
	}
	if r.ResetError != "" {
		line += " | " + r.ResetError
	}
	p.printf("%s\n", line)
}

// Write lets other output share the progress lock.
func (p *progress) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func outcomeLabel(r bot.Report) string {
	if r.Won() {
		return "won"
	}
	return string(r.Outcome)
}

func outcomeColor(r bot.Report) *color.Color {
	switch {
	case r.Won():
		return wonColor
	case r.Outcome == bot.OutcomeCompleted:
		return okColor
	case r.Outcome.Failed():
		return failColor
	default:
		return skipColor
	}
}

func printSummary(w io.Writer, s executor.Summary) {
	fmt.Fprintf(w, "\nTasks: %d | completed: %d (won %d) | aborted: %d | unreachable: %d | cancelled: %d | skipped: %d\n",
		s.Total, s.Completed, s.Won, s.Aborted, s.Unreachable, s.Cancelled, s.Skipped)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
