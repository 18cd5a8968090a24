package state

import (
	"testing"
	"time"
)

func makeProject(id string, startedAt time.Time) *GMProject {
	return &GMProject{
		ProjectID:    id,
		Name:         "demo",
		RepoPath:     "/repo",
		BuildCommand: "make build",
		TestCommand:  "make test",
		Phase:        PhaseLaunching,
		AgentCount:   3,
		StartedAt:    startedAt,
	}
}

func TestCreateAndGetGMProject(t *testing.T) {
	db := setupTestDB(t)

	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := makeProject("p1", started)
	if err := db.CreateGMProject(p); err != nil {
		t.Fatalf("CreateGMProject failed: %v", err)
	}

	got, err := db.GetGMProject("p1")
	if err != nil {
		t.Fatalf("GetGMProject failed: %v", err)
	}
	if got == nil {
		t.Fatal("project not found")
	}
	if got.Phase != PhaseLaunching {
		t.Errorf("Phase = %q, want launching", got.Phase)
	}
	if got.AgentCount != 3 {
		t.Errorf("AgentCount = %d, want 3", got.AgentCount)
	}
	if got.BuildCommand != "make build" {
		t.Errorf("BuildCommand = %q", got.BuildCommand)
	}
}

func TestGetGMProject_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetGMProject("missing")
	if err != nil {
		t.Fatalf("GetGMProject failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil project, got %+v", got)
	}
}

func TestUpdateGMProjectPhase(t *testing.T) {
	db := setupTestDB(t)

	p := makeProject("p1", time.Now())
	if err := db.CreateGMProject(p); err != nil {
		t.Fatalf("CreateGMProject failed: %v", err)
	}

	if err := db.UpdateGMProjectPhase("p1", PhaseMerging, "", nil); err != nil {
		t.Fatalf("UpdateGMProjectPhase failed: %v", err)
	}
	got, _ := db.GetGMProject("p1")
	if got.Phase != PhaseMerging {
		t.Errorf("Phase = %q, want merging", got.Phase)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil for non-terminal phase")
	}

	done := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)
	if err := db.UpdateGMProjectPhase("p1", PhaseFailed, "build failed after 3 attempts", &done); err != nil {
		t.Fatalf("UpdateGMProjectPhase failed: %v", err)
	}
	got, _ = db.GetGMProject("p1")
	if got.Phase != PhaseFailed {
		t.Errorf("Phase = %q, want failed", got.Phase)
	}
	if got.ErrorMessage != "build failed after 3 attempts" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}

func TestUpdateGMProjectProgress_Partial(t *testing.T) {
	db := setupTestDB(t)

	p := makeProject("p1", time.Now())
	if err := db.CreateGMProject(p); err != nil {
		t.Fatalf("CreateGMProject failed: %v", err)
	}

	merged := 2
	current := "s2"
	err := db.UpdateGMProjectProgress("p1", GMProgress{
		MergedCount:  &merged,
		MergeOrder:   []string{"s1", "s2", "s3"},
		CurrentMerge: &current,
	})
	if err != nil {
		t.Fatalf("UpdateGMProjectProgress failed: %v", err)
	}

	got, _ := db.GetGMProject("p1")
	if got.MergedCount != 2 {
		t.Errorf("MergedCount = %d, want 2", got.MergedCount)
	}
	if len(got.MergeOrder) != 3 || got.MergeOrder[1] != "s2" {
		t.Errorf("MergeOrder = %v", got.MergeOrder)
	}
	if got.CurrentMerge != "s2" {
		t.Errorf("CurrentMerge = %q, want s2", got.CurrentMerge)
	}
	// Untouched fields survive a partial update.
	if got.AgentCount != 3 {
		t.Errorf("AgentCount = %d, want 3", got.AgentCount)
	}

	// Empty update is a no-op, not an error.
	if err := db.UpdateGMProjectProgress("p1", GMProgress{}); err != nil {
		t.Fatalf("empty progress update failed: %v", err)
	}
}

func TestListGMProjects_NewestFirst(t *testing.T) {
	db := setupTestDB(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		p := makeProject(id, base.Add(time.Duration(i)*time.Hour))
		if err := db.CreateGMProject(p); err != nil {
			t.Fatalf("CreateGMProject failed: %v", err)
		}
	}

	projects, err := db.ListGMProjects(2, 0)
	if err != nil {
		t.Fatalf("ListGMProjects failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].ProjectID != "p3" || projects[1].ProjectID != "p2" {
		t.Errorf("unexpected order: %q, %q", projects[0].ProjectID, projects[1].ProjectID)
	}

	projects, err = db.ListGMProjects(2, 2)
	if err != nil {
		t.Fatalf("ListGMProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ProjectID != "p1" {
		t.Errorf("offset page = %v", projects)
	}
}

func TestListUnfinishedGMProjects(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now()
	running := makeProject("p1", now)
	running.Phase = PhaseWaiting
	done := makeProject("p2", now)
	done.Phase = PhaseCompleted
	failed := makeProject("p3", now)
	failed.Phase = PhaseFailed

	for _, p := range []*GMProject{running, done, failed} {
		if err := db.CreateGMProject(p); err != nil {
			t.Fatalf("CreateGMProject failed: %v", err)
		}
	}

	unfinished, err := db.ListUnfinishedGMProjects()
	if err != nil {
		t.Fatalf("ListUnfinishedGMProjects failed: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].ProjectID != "p1" {
		t.Errorf("unfinished = %v", unfinished)
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, tc := range []struct {
		phase Phase
		want  bool
	}{
		{PhaseLaunching, false},
		{PhaseWaiting, false},
		{PhaseAnalyzing, false},
		{PhaseMerging, false},
		{PhaseBuilding, false},
		{PhaseTesting, false},
		{PhaseCompleted, true},
		{PhaseFailed, true},
	} {
		if got := tc.phase.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.phase, got, tc.want)
		}
	}
}
