package launcher

import "sync"

// lineRing keeps the most recent output lines of a session for the
// final result artifact. Old lines are overwritten once capacity is
// reached.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	max   int
	start int
	count int
}

func newLineRing(max int) *lineRing {
	return &lineRing{lines: make([]string, max), max: max}
}

func (r *lineRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < r.max {
		r.lines[(r.start+r.count)%r.max] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % r.max
}

// Lines returns the retained lines in arrival order.
func (r *lineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%r.max]
	}
	return out
}
