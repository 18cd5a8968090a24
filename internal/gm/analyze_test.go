package gm

import (
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/internal/state"
)

func session(id string, startedAt time.Time, files ...string) *state.AgentSession {
	return &state.AgentSession{
		SessionID:    id,
		Status:       state.SessionCompleted,
		FilesChanged: files,
		StartedAt:    startedAt,
	}
}

func orderIDs(sessions []*state.AgentSession) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}

func TestComputeMergeOrder_LeastOverlappingFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// a overlaps nobody; b and c share two files, so both score 2;
	// c also touches a third file shared with d.
	a := session("a", base, "docs/readme.md")
	b := session("b", base.Add(time.Second), "src/x.go", "src/y.go")
	c := session("c", base.Add(2*time.Second), "src/x.go", "src/y.go", "src/z.go")
	d := session("d", base.Add(3*time.Second), "src/z.go")

	got := orderIDs(ComputeMergeOrder([]*state.AgentSession{c, b, d, a}))
	want := []string{"a", "d", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestComputeMergeOrder_TieBrokenByStartedAt(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Symmetric overlap: both score 1.
	early := session("zzz", base, "src/x.go")
	late := session("aaa", base.Add(time.Minute), "src/x.go", "src/y.go")

	got := orderIDs(ComputeMergeOrder([]*state.AgentSession{late, early}))
	if got[0] != "zzz" {
		t.Errorf("order = %v, earlier started_at should win the tie", got)
	}
}

func TestComputeMergeOrder_TieBrokenBySessionID(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s1 := session("b-session", base, "src/x.go")
	s2 := session("a-session", base, "src/x.go")

	got := orderIDs(ComputeMergeOrder([]*state.AgentSession{s1, s2}))
	if got[0] != "a-session" {
		t.Errorf("order = %v, lexicographic session ID should break ties", got)
	}
}

func TestComputeMergeOrder_Empty(t *testing.T) {
	if got := ComputeMergeOrder(nil); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestComputeMergeOrder_NoFilesChanged(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := session("a", base.Add(time.Second))
	b := session("b", base)

	got := orderIDs(ComputeMergeOrder([]*state.AgentSession{a, b}))
	if got[0] != "b" || got[1] != "a" {
		t.Errorf("order = %v, want [b a]", got)
	}
}
