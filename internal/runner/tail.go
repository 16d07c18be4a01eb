package runner

import (
	"strings"
	"sync"
)

// tailBuffer keeps the last max bytes written to it. Backtest reports are
// printed last, so the tail is the part worth keeping.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped int64
	// aligned is true when the retained bytes start at a line boundary
	aligned bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.aligned = t.buf[over-1] == '\n'
		copy(t.buf, t.buf[over:])
		t.buf = t.buf[:t.max]
		t.dropped += int64(over)
	}
	return len(p), nil
}

// String returns the retained bytes. After truncation the partial first line
// is dropped.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := string(t.buf)
	if t.dropped > 0 && !t.aligned {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
	}
	return strings.ToValidUTF8(s, "�")
}

func (t *tailBuffer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped > 0
}
