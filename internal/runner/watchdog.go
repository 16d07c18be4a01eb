package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const sampleInterval = 250 * time.Millisecond

// watchdog samples the child's resident set size, remembers the peak and
// kills the child once it passes the limit.
type watchdog struct {
	peak   atomic.Uint64
	over   atomic.Bool
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// startWatchdog begins sampling pid. A zero limitKB only records the peak.
func startWatchdog(ctx context.Context, pid int, limitKB uint64, kill func()) *watchdog {
	ctx, cancel := context.WithCancel(ctx)
	w := &watchdog{cancel: cancel}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return w
	}

	w.done.Add(1)
	go func() {
		defer w.done.Done()
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			if !w.sample(ctx, proc, limitKB, kill) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return w
}

func (w *watchdog) sample(ctx context.Context, proc *process.Process, limitKB uint64, kill func()) bool {
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return false
	}
	rss := info.RSS / 1024
	for {
		cur := w.peak.Load()
		if rss <= cur || w.peak.CompareAndSwap(cur, rss) {
			break
		}
	}
	if limitKB > 0 && rss > limitKB && !w.over.Swap(true) {
		kill()
		return false
	}
	return true
}

func (w *watchdog) stop() {
	w.cancel()
	w.done.Wait()
}

func (w *watchdog) peakKB() uint64 { return w.peak.Load() }

func (w *watchdog) exceeded() bool { return w.over.Load() }
