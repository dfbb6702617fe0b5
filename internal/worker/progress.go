package worker

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Progress tracks completion counts for a batch of tasks and can render them
// as a single carriage-return updated terminal line.
type Progress struct {
	startTime time.Time
	output    io.Writer
	total     int
	completed int
	failed    int
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a tracker for total tasks. When enabled is false the
// tracker still counts but prints nothing.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:     total,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// Update records the completion of a task.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	p.mu.Unlock()

	if p.enabled {
		p.print()
	}
}

// Callback returns a ProgressFunc for Config.OnProgress.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Percent returns completion as 0..100.
func (p *Progress) Percent() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.total == 0 {
		return 100
	}
	return p.completed * 100 / p.total
}

func (p *Progress) print() {
	p.mu.RLock()
	completed, total, failed := p.completed, p.total, p.failed
	startTime := p.startTime
	p.mu.RUnlock()

	elapsed := time.Since(startTime)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(completed) / elapsed.Seconds()
	}

	line := fmt.Sprintf("\r%d/%d tiles", completed, total)
	if failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	line += fmt.Sprintf(" %.1f/s", rate)
	if rate > 0 && completed < total {
		eta := time.Duration(float64(total-completed)/rate) * time.Second
		line += " eta " + formatDuration(eta)
	}
	line += "        "

	fmt.Fprint(p.output, line)
}

// Done prints the final state and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.print()
		fmt.Fprintln(p.output)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
