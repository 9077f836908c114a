package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
)

func seedBoard(store *fakeStore) {
	store.seed(domain.TasksCollection, domain.Document{"id": "t1", "title": "Design login", "description": "Figma", "category": "task", "status": "todo", "prio": "urgent", "date": "2024-05-01", "assignedTo": []any{"c1", "c2"}})
	store.seed(domain.TasksCollection, domain.Document{"id": "t2", "title": "Set up CI", "category": "technical", "status": "progress", "prio": "urgent", "date": "2024-04-01", "assignedTo": []any{"c2"}})
	store.seed(domain.TasksCollection, domain.Document{"id": "t3", "title": "Ship", "category": "task", "status": "done", "prio": "urgent", "date": "2024-01-01"})
	store.seed(domain.SubtasksCollection, domain.Document{"id": "s1", "taskId": "t1", "name": "b"})
	store.seed(domain.SubtasksCollection, domain.Document{"id": "s2", "taskId": "t1", "name": "a"})
	store.seed(domain.SubtasksCollection, domain.Document{"id": "s3", "taskId": "t2", "name": "c"})
}

func TestColumnsAndSearch(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	b := newBoard(store, nil)

	cols, err := b.Columns(context.Background(), "")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 4 || cols[0].Status != domain.StatusTodo || cols[3].Status != domain.StatusDone {
		t.Fatalf("unexpected columns: %+v", cols)
	}
	if len(cols[0].Tasks) != 1 || len(cols[1].Tasks) != 1 || len(cols[2].Tasks) != 0 || len(cols[3].Tasks) != 1 {
		t.Fatalf("unexpected column sizes: %+v", cols)
	}
	login := cols[0].Tasks[0]
	if len(login.Subtasks) != 2 || login.Subtasks[0].Name != "a" {
		t.Fatalf("subtasks not attached in name order: %+v", login.Subtasks)
	}

	cols, err = b.Columns(context.Background(), "FIGMA")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	total := 0
	for _, c := range cols {
		total += len(c.Tasks)
	}
	if total != 1 || cols[0].Tasks[0].ID != "t1" {
		t.Fatalf("unexpected search result: %+v", cols)
	}
}

func TestMoveAndStep(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	b := newBoard(store, nil)
	ctx := context.Background()

	task, err := b.Move(ctx, "t1", domain.StatusReview)
	if err != nil || task.Status != domain.StatusReview {
		t.Fatalf("move: %v %+v", err, task)
	}
	if doc, _ := store.doc(domain.TasksCollection, "t1"); doc.String("status") != "review" {
		t.Fatalf("status not stored: %v", doc)
	}

	task, err = b.Step(ctx, "t1", true)
	if err != nil || task.Status != domain.StatusDone {
		t.Fatalf("step forward: %v %+v", err, task)
	}
	updates := store.count(domain.TasksCollection, "update")
	task, err = b.Step(ctx, "t1", true)
	if err != nil || task.Status != domain.StatusDone {
		t.Fatalf("step at the end: %v %+v", err, task)
	}
	if store.count(domain.TasksCollection, "update") != updates {
		t.Fatalf("staying in place should not write")
	}

	if _, err := b.Move(ctx, "t1", "later"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := b.Move(ctx, "nope", domain.StatusDone); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCascadesSubtasks(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	b := newBoard(store, nil)

	if err := b.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.doc(domain.TasksCollection, "t1"); ok {
		t.Fatalf("task still stored")
	}
	docs, _ := store.List(context.Background(), domain.SubtasksCollection)
	if len(docs) != 1 || docs[0].ID() != "s3" {
		t.Fatalf("only the other task's subtask should remain: %v", docs)
	}
}

func TestUnassignContact(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	b := newBoard(store, nil)

	n, err := b.UnassignContact(context.Background(), "c2")
	if err != nil || n != 2 {
		t.Fatalf("unassign: %d %v", n, err)
	}
	doc, _ := store.doc(domain.TasksCollection, "t1")
	if got := doc.Strings("assignedTo"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("unexpected assignees: %v", got)
	}
}

func TestSummary(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	b := newBoard(store, nil)

	s, err := b.Summary(context.Background(), time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 3 || s.ByStatus[domain.StatusTodo] != 1 || s.ByStatus[domain.StatusReview] != 0 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Urgent != 2 {
		t.Fatalf("done tasks are not urgent, got %d", s.Urgent)
	}
	if s.NextUrgent == nil || !s.NextUrgent.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next urgent date: %v", s.NextUrgent)
	}
	if s.Greeting != "Good morning" {
		t.Fatalf("unexpected greeting: %s", s.Greeting)
	}
}

func TestGreeting(t *testing.T) {
	day := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	tests := map[int]string{0: "Good morning", 11: "Good morning", 12: "Good afternoon", 17: "Good afternoon", 18: "Good evening", 23: "Good evening"}
	for h, want := range tests {
		if got := Greeting(day(h)); got != want {
			t.Fatalf("hour %d: got %q want %q", h, got, want)
		}
	}
}

func TestWatchServesReadsFromMirrors(t *testing.T) {
	store := newFakeStore()
	seedBoard(store)
	feed := changefeed.NewMemory()
	b := NewTaskBoard(NewRepository(store, feed, nil), TaskBoardOptions{})
	if err := b.Watch(context.Background(), feed, mirror.Options[*domain.Task]{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer b.Close()

	if _, err := b.Move(context.Background(), "t2", domain.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cols, err := b.Columns(context.Background(), "")
		if err != nil {
			t.Fatalf("columns: %v", err)
		}
		if len(cols[3].Tasks) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mirror did not pick up the move")
}

func TestBuildColumnsAttachesSubtasks(t *testing.T) {
	tasks := []*domain.Task{
		{ID: "t1", Title: "a", Status: domain.StatusReview},
		{ID: "t2", Title: "b", Status: domain.StatusReview},
	}
	subtasks := []*domain.SubTask{{ID: "s1", TaskID: "t2", Name: "x"}}

	cols := BuildColumns(tasks, subtasks)
	if len(cols[2].Tasks) != 2 {
		t.Fatalf("expected two review tasks, got %+v", cols[2])
	}
	if len(cols[2].Tasks[1].Subtasks) != 1 || tasks[1].Subtasks != nil {
		t.Fatalf("subtasks must be attached to copies only")
	}
}
