package launcher

import (
	"strings"
	"sync"
)

// resourcePatterns are output substrings that indicate host resource
// exhaustion rather than an ordinary agent failure.
var resourcePatterns = []string{
	"no space left on device",
	"enospc",
	"cannot allocate memory",
	"out of memory",
	"disk quota exceeded",
}

// resourceTripThreshold is how many times one pattern must fire before
// the session is killed. A single hit can be the agent quoting an old
// log; a repeat means the host is actually degrading.
const resourceTripThreshold = 2

// watchdog matches session output against resourcePatterns. It is
// shared between the stdout and stderr drain goroutines.
type watchdog struct {
	mu     sync.Mutex
	counts map[string]int
}

func newWatchdog() *watchdog {
	return &watchdog{counts: make(map[string]int)}
}

// Observe checks one output line. It returns the pattern and true when
// a pattern has fired resourceTripThreshold times.
func (w *watchdog) Observe(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, pat := range resourcePatterns {
		if !strings.Contains(lower, pat) {
			continue
		}
		w.mu.Lock()
		w.counts[pat]++
		tripped := w.counts[pat] >= resourceTripThreshold
		w.mu.Unlock()
		if tripped {
			return pat, true
		}
	}
	return "", false
}
