package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateProject(t *testing.T, s *Store, workspaceID string) Project {
	t.Helper()
	p := Project{ID: uuid.New().String(), WorkspaceID: workspaceID, Name: "Test"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func validTask(workspaceID, projectID string) Task {
	return Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Title:       "call vendor",
		Status:      StatusTodo,
		Priority:    PriorityMedium,
		CreatorID:   "u1",
	}
}

func TestDefaultProjectLazilyCreatesGeneral(t *testing.T) {
	s := newTestStore(t)

	p, err := s.DefaultProject("ws1")
	if err != nil {
		t.Fatalf("DefaultProject: %v", err)
	}
	if p.Name != "General" || p.WorkspaceID != "ws1" {
		t.Errorf("project = %+v", p)
	}

	// A second call resolves the same project instead of creating another.
	again, err := s.DefaultProject("ws1")
	if err != nil {
		t.Fatalf("DefaultProject (second): %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("second call created a new project: %q vs %q", again.ID, p.ID)
	}
}

func TestDefaultProjectPerWorkspace(t *testing.T) {
	s := newTestStore(t)
	p1, _ := s.DefaultProject("ws1")
	p2, err := s.DefaultProject("ws2")
	if err != nil {
		t.Fatalf("DefaultProject: %v", err)
	}
	if p1.ID == p2.ID {
		t.Error("workspaces share a default project")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "ws1")

	bad := validTask("ws1", p.ID)
	bad.Status = "someday"
	if err := s.CreateTask(bad); err == nil {
		t.Error("invalid status accepted")
	}

	bad = validTask("ws1", p.ID)
	bad.Priority = "whenever"
	if err := s.CreateTask(bad); err == nil {
		t.Error("invalid priority accepted")
	}

	bad = validTask("", p.ID)
	if err := s.CreateTask(bad); err == nil {
		t.Error("missing workspace accepted")
	}

	good := validTask("ws1", p.ID)
	if err := s.CreateTask(good); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
	got, err := s.GetTask(good.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "call vendor" || got.Status != StatusTodo || got.DueDate != nil {
		t.Errorf("round-tripped task = %+v", got)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListBacklogFiltersStatusAndDueDate(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "ws1")

	unscheduled := validTask("ws1", p.ID)
	if err := s.CreateTask(unscheduled); err != nil {
		t.Fatal(err)
	}

	due := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	scheduled := validTask("ws1", p.ID)
	scheduled.DueDate = &due
	if err := s.CreateTask(scheduled); err != nil {
		t.Fatal(err)
	}

	done := validTask("ws1", p.ID)
	done.Status = StatusDone
	if err := s.CreateTask(done); err != nil {
		t.Fatal(err)
	}

	other := mustCreateProject(t, s, "ws2")
	foreign := validTask("ws2", other.ID)
	if err := s.CreateTask(foreign); err != nil {
		t.Fatal(err)
	}

	backlog, err := s.ListBacklog("ws1", 10)
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != unscheduled.ID {
		t.Errorf("backlog = %+v, want only the unscheduled todo task", backlog)
	}
}

func TestLoadByDayCountsFromDate(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "ws1")

	addScheduled := func(day time.Time) {
		task := validTask("ws1", p.ID)
		task.DueDate = &day
		if err := s.CreateTask(task); err != nil {
			t.Fatal(err)
		}
	}
	d3 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	d4 := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	past := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	addScheduled(d3)
	addScheduled(d3)
	addScheduled(d4)
	addScheduled(past)

	load, err := s.LoadByDay("ws1", d3)
	if err != nil {
		t.Fatalf("LoadByDay: %v", err)
	}
	if load["2025-06-03"] != 2 || load["2025-06-04"] != 1 {
		t.Errorf("load = %v", load)
	}
	if _, ok := load["2025-05-01"]; ok {
		t.Error("dates before the from date included")
	}
}

func TestUpdateTaskDueDateScopedToWorkspace(t *testing.T) {
	s := newTestStore(t)
	p := mustCreateProject(t, s, "ws1")
	task := validTask("ws1", p.ID)
	if err := s.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	due := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	if err := s.UpdateTaskDueDate("ws2", task.ID, due); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-workspace update: err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateTaskDueDate("ws1", task.ID, due); err != nil {
		t.Fatalf("UpdateTaskDueDate: %v", err)
	}

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DueDate == nil || got.DueDate.Format(DateOnly) != "2025-06-03" {
		t.Errorf("due date = %v", got.DueDate)
	}
}

func TestChatLogWindow(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := ChatMessage{
			ID:          uuid.New().String(),
			WorkspaceID: "ws1",
			SessionID:   "s1",
			Role:        role,
			Content:     string(rune('a' + i)),
			CreatedAt:   time.Date(2025, 6, 1, 10, i, 0, 0, time.UTC),
		}
		if err := s.AppendChatMessage(msg); err != nil {
			t.Fatalf("AppendChatMessage: %v", err)
		}
	}

	msgs, err := s.RecentChatMessages("ws1", "s1", 3)
	if err != nil {
		t.Fatalf("RecentChatMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// The window holds the newest messages in ascending order.
	if msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("window = %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}

	other, err := s.RecentChatMessages("ws2", "s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("foreign workspace read %d messages", len(other))
	}
}

func TestDocumentEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc := Document{
		ID:          uuid.New().String(),
		WorkspaceID: "ws1",
		Name:        "policy.txt",
		FilePath:    "ws1/policy.txt",
		OwnerID:     "u1",
	}
	if err := s.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := s.UpdateDocumentContent(doc.ID, "Refund policy: 30 days"); err != nil {
		t.Fatalf("UpdateDocumentContent: %v", err)
	}
	vec := []float32{0.1, -0.5, 2.25}
	if err := s.UpdateDocumentEmbedding(doc.ID, "embed-v1", vec); err != nil {
		t.Fatalf("UpdateDocumentEmbedding: %v", err)
	}

	got, err := s.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ContentText != "Refund policy: 30 days" {
		t.Errorf("ContentText = %q", got.ContentText)
	}
	if got.EmbeddingModel != "embed-v1" {
		t.Errorf("EmbeddingModel = %q", got.EmbeddingModel)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 2.25 {
		t.Errorf("Embedding = %v", got.Embedding)
	}

	stale, err := s.CountStaleEmbeddings("ws1", "embed-v2")
	if err != nil {
		t.Fatal(err)
	}
	if stale != 1 {
		t.Errorf("stale count = %d, want 1", stale)
	}
}
