package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks how many runs of a batch have been sealed
type ProgressTracker struct {
	mu        sync.Mutex
	total     int
	current   int
	startTime time.Time
	message   string
}

// NewProgressTracker creates a tracker for total items
func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
	}
}

// Increment records one finished item
func (p *ProgressTracker) Increment(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.message = message
}

// GetProgress returns the current progress state
func (p *ProgressTracker) GetProgress() (current, total int, percentage float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return p.current, p.total, percentage, p.message
}

// GetETA estimates the remaining time from the average item duration
func (p *ProgressTracker) GetETA() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == 0 || p.total == 0 {
		return "calculating..."
	}
	if p.current >= p.total {
		return "done"
	}

	perItem := time.Since(p.startTime) / time.Duration(p.current)
	return formatElapsed(perItem * time.Duration(p.total-p.current))
}

// GetElapsedTimeString returns a formatted elapsed time string
func (p *ProgressTracker) GetElapsedTimeString() string {
	return formatElapsed(time.Since(p.startTime))
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
