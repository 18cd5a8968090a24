package gm

import (
	"sort"

	"github.com/ShayCichocki/maestro/internal/state"
)

// ComputeMergeOrder sorts successful sessions so the least conflicting
// merge first. A session's score is the sum, over its changed files, of
// how many other sessions changed the same file; low scores merge
// early, keeping conflicts localised to the tail of the queue. Ties are
// broken by started_at, then session ID.
func ComputeMergeOrder(sessions []*state.AgentSession) []*state.AgentSession {
	// How many sessions changed each file.
	changedBy := make(map[string]int)
	for _, s := range sessions {
		for _, f := range s.FilesChanged {
			changedBy[f]++
		}
	}

	scores := make(map[string]int, len(sessions))
	for _, s := range sessions {
		score := 0
		for _, f := range s.FilesChanged {
			score += changedBy[f] - 1
		}
		scores[s.SessionID] = score
	}

	ordered := make([]*state.AgentSession, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if scores[a.SessionID] != scores[b.SessionID] {
			return scores[a.SessionID] < scores[b.SessionID]
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.SessionID < b.SessionID
	})
	return ordered
}
