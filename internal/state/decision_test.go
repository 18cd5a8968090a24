package state

import (
	"testing"
	"time"
)

func makeDecision(id, projectID string, createdAt time.Time) *Decision {
	return &Decision{
		DecisionID:     id,
		ProjectID:      projectID,
		Kind:           DecisionMergeConflict,
		Description:    "merge conflict in src/x.go",
		ProposedAction: "resolve with repair agent",
		Status:         DecisionPending,
		CreatedAt:      createdAt,
	}
}

func seedProject(t *testing.T, db *DB, id string) {
	t.Helper()
	if err := db.CreateGMProject(makeProject(id, time.Now())); err != nil {
		t.Fatalf("CreateGMProject failed: %v", err)
	}
}

func TestCreateAndGetDecision(t *testing.T) {
	db := setupTestDB(t)
	seedProject(t, db, "p1")

	d := makeDecision("d1", "p1", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := db.CreateDecision(d); err != nil {
		t.Fatalf("CreateDecision failed: %v", err)
	}

	got, err := db.GetDecision("d1")
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got == nil {
		t.Fatal("decision not found")
	}
	if got.Kind != DecisionMergeConflict {
		t.Errorf("Kind = %q, want merge_conflict", got.Kind)
	}
	if got.Status != DecisionPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.ResolvedAt != nil {
		t.Errorf("ResolvedAt = %v, want nil", got.ResolvedAt)
	}
}

func TestResolveDecision_Atomic(t *testing.T) {
	db := setupTestDB(t)
	seedProject(t, db, "p1")

	d := makeDecision("d1", "p1", time.Now())
	if err := db.CreateDecision(d); err != nil {
		t.Fatalf("CreateDecision failed: %v", err)
	}

	resolved := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	ok, err := db.ResolveDecision("d1", DecisionApproved, resolved)
	if err != nil {
		t.Fatalf("ResolveDecision failed: %v", err)
	}
	if !ok {
		t.Fatal("first resolve should win")
	}

	// Second resolve is a no-op, even with a different status.
	ok, err = db.ResolveDecision("d1", DecisionRejected, resolved.Add(time.Minute))
	if err != nil {
		t.Fatalf("ResolveDecision failed: %v", err)
	}
	if ok {
		t.Error("second resolve should not win")
	}

	got, _ := db.GetDecision("d1")
	if got.Status != DecisionApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolved) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, resolved)
	}
}

func TestResolveDecision_Missing(t *testing.T) {
	db := setupTestDB(t)

	ok, err := db.ResolveDecision("missing", DecisionApproved, time.Now())
	if err != nil {
		t.Fatalf("ResolveDecision failed: %v", err)
	}
	if ok {
		t.Error("resolving a missing decision should not report success")
	}
}

func TestListPendingDecisions(t *testing.T) {
	db := setupTestDB(t)
	seedProject(t, db, "p1")
	seedProject(t, db, "p2")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d1 := makeDecision("d1", "p1", base.Add(time.Minute))
	d2 := makeDecision("d2", "p1", base)
	d3 := makeDecision("d3", "p2", base)
	for _, d := range []*Decision{d1, d2, d3} {
		if err := db.CreateDecision(d); err != nil {
			t.Fatalf("CreateDecision failed: %v", err)
		}
	}
	if _, err := db.ResolveDecision("d3", DecisionRejected, time.Now()); err != nil {
		t.Fatalf("ResolveDecision failed: %v", err)
	}

	// Per-project listing, oldest first.
	pending, err := db.ListPendingDecisions("p1")
	if err != nil {
		t.Fatalf("ListPendingDecisions failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].DecisionID != "d2" || pending[1].DecisionID != "d1" {
		t.Errorf("unexpected order: %q, %q", pending[0].DecisionID, pending[1].DecisionID)
	}

	// Global listing excludes the resolved decision.
	all, err := db.ListPendingDecisions("")
	if err != nil {
		t.Fatalf("ListPendingDecisions failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d pending globally, want 2", len(all))
	}
}
