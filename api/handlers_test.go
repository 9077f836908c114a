package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/elma1989/join/board"
	"github.com/elma1989/join/domain"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, request{method: http.MethodGet, path: "/healthz"})
	expectStatus(t, rec, http.StatusOK)
}

func TestContactLifecycle(t *testing.T) {
	env := newTestEnv(t)
	auth := env.bearer(t, "user-1")

	rec := env.do(t, request{method: http.MethodPost, path: "/api/contacts", auth: auth,
		body: contactRequest{FirstName: "anna", LastName: "B", Email: "anna@", Tel: "12345"}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	invalid := decode[errorResponse](t, rec)
	for _, field := range []string{"firstname", "lastname", "email", "tel"} {
		if len(invalid.Fields[field]) == 0 {
			t.Fatalf("expected an error for %s, got %v", field, invalid.Fields)
		}
	}

	rec = env.do(t, request{method: http.MethodPost, path: "/api/contacts", auth: auth,
		body: contactRequest{FirstName: "Anna", LastName: "Berg", Email: "anna@example.com", Tel: "0171 123456789"}})
	expectStatus(t, rec, http.StatusCreated)
	anna := decode[domain.Contact](t, rec)
	if anna.ID == "" || anna.Group != "A" || anna.Color == "" {
		t.Fatalf("unexpected contact: %+v", anna)
	}

	rec = env.do(t, request{method: http.MethodPost, path: "/api/contacts", auth: auth,
		body: contactRequest{FirstName: "Bert", LastName: "Klein", Email: "bert@example.com", Tel: "030 1234"}})
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, request{method: http.MethodGet, path: "/api/contacts", auth: auth})
	expectStatus(t, rec, http.StatusOK)
	groups := decode[[]board.Group](t, rec)
	if len(groups) != 2 || groups[0].Letter != "A" || groups[1].Letter != "B" {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	rec = env.do(t, request{method: http.MethodPut, path: "/api/contacts/" + anna.ID, auth: auth,
		body: contactRequest{FirstName: "Zoe", LastName: "Berg", Email: "zoe@example.com", Tel: "0171 123456789"}})
	expectStatus(t, rec, http.StatusOK)
	if updated := decode[domain.Contact](t, rec); updated.Group != "Z" || updated.Color != anna.Color {
		t.Fatalf("update must regroup and keep the color: %+v", updated)
	}

	// Assign the contact to a task, then delete it.
	env.store.put(domain.TasksCollection, "t1", domain.Document{"title": "Plan", "category": "task", "status": "todo", "assignedTo": []string{anna.ID}})
	rec = env.do(t, request{method: http.MethodDelete, path: "/api/contacts/" + anna.ID, auth: auth})
	expectStatus(t, rec, http.StatusNoContent)
	doc, err := env.store.Get(t.Context(), domain.TasksCollection, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if assigned := doc.Strings("assignedTo"); len(assigned) != 0 {
		t.Fatalf("contact still assigned: %v", assigned)
	}

	rec = env.do(t, request{method: http.MethodPut, path: "/api/contacts/" + anna.ID, auth: auth,
		body: contactRequest{FirstName: "Zoe", LastName: "Berg", Email: "zoe@example.com", Tel: "0171 123456789"}})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	auth := env.bearer(t, "user-1")

	rec := env.do(t, request{method: http.MethodPost, path: "/api/tasks", auth: auth, body: taskRequest{
		Title:    "Design login",
		DueDate:  "03/20/2025",
		Category: domain.CategoryTask,
		Priority: domain.PriorityUrgent,
		Subtasks: []subtaskRequest{
			{Name: "Wireframe", EditState: domain.EditStateNew},
			{Name: "Review", EditState: domain.EditStateNew},
		},
	}})
	expectStatus(t, rec, http.StatusCreated)
	saved := decode[saveResponse](t, rec)
	if saved.Result == nil || saved.Result.Inserted != 2 || !saved.Result.TaskWritten {
		t.Fatalf("unexpected result: %+v", saved.Result)
	}
	id := saved.Task.ID
	if env.store.count(domain.SubtasksCollection) != 2 {
		t.Fatalf("expected two stored subtasks")
	}
	doc, _ := env.store.Get(t.Context(), domain.TasksCollection, id)
	if !doc.Bool("subtasks", false) {
		t.Fatalf("stored task must flag its subtasks: %v", doc)
	}

	rec = env.do(t, request{method: http.MethodGet, path: "/api/tasks/" + id, auth: auth})
	expectStatus(t, rec, http.StatusOK)
	task := decode[domain.Task](t, rec)
	if len(task.Subtasks) != 2 {
		t.Fatalf("expected subtasks on the task, got %+v", task.Subtasks)
	}

	// Remove both subtasks. The unchanged past due date stays valid.
	env.srv.now = func() time.Time { return testNow.AddDate(0, 1, 0) }
	rec = env.do(t, request{method: http.MethodPut, path: "/api/tasks/" + id, auth: auth, body: taskRequest{
		Title:    "Design login",
		DueDate:  "03/20/2025",
		Category: domain.CategoryTask,
		Subtasks: []subtaskRequest{
			{ID: task.Subtasks[0].ID, Name: task.Subtasks[0].Name, EditState: domain.EditStateDeleted},
			{ID: task.Subtasks[1].ID, Name: task.Subtasks[1].Name, EditState: domain.EditStateDeleted},
		},
	}})
	expectStatus(t, rec, http.StatusOK)
	if saved := decode[saveResponse](t, rec); saved.Result.Deleted != 2 || saved.Task.HasSubtasks {
		t.Fatalf("unexpected update: %+v %+v", saved.Result, saved.Task)
	}

	rec = env.do(t, request{method: http.MethodPatch, path: "/api/tasks/" + id + "/status", auth: auth, body: statusRequest{Status: "review"}})
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, request{method: http.MethodPatch, path: "/api/tasks/" + id + "/status", auth: auth, body: statusRequest{Step: "next"}})
	expectStatus(t, rec, http.StatusOK)
	if moved := decode[domain.Task](t, rec); moved.Status != domain.StatusDone {
		t.Fatalf("expected done, got %s", moved.Status)
	}
	rec = env.do(t, request{method: http.MethodPatch, path: "/api/tasks/" + id + "/status", auth: auth, body: statusRequest{Status: "archived"}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, request{method: http.MethodGet, path: "/api/tasks?q=LOGIN", auth: auth})
	expectStatus(t, rec, http.StatusOK)
	cols := decode[[]board.Column](t, rec)
	if len(cols) != 4 || len(cols[3].Tasks) != 1 {
		t.Fatalf("unexpected columns: %+v", cols)
	}

	rec = env.do(t, request{method: http.MethodDelete, path: "/api/tasks/" + id, auth: auth})
	expectStatus(t, rec, http.StatusNoContent)
	rec = env.do(t, request{method: http.MethodGet, path: "/api/tasks/" + id, auth: auth})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSaveTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	auth := env.bearer(t, "user-1")

	rec := env.do(t, request{method: http.MethodPost, path: "/api/tasks", auth: auth, body: taskRequest{
		DueDate:  "01/01/2025",
		Category: "chores",
		Subtasks: []subtaskRequest{{Name: " ", EditState: domain.EditStateNew}},
	}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	resp := decode[errorResponse](t, rec)
	for _, field := range []string{"title", "date", "category", "subtaskList[0].name"} {
		if len(resp.Fields[field]) == 0 {
			t.Fatalf("expected an error for %s, got %v", field, resp.Fields)
		}
	}
	if env.store.count(domain.TasksCollection) != 0 {
		t.Fatalf("invalid tasks must not be stored")
	}

	rec = env.do(t, request{method: http.MethodPost, path: "/api/tasks", auth: auth, body: taskRequest{
		Title: "x", DueDate: "03/20/2025", Category: domain.CategoryTask, Policy: "sometimes",
	}})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestUpdateWithoutSubtaskListKeepsSubtasks(t *testing.T) {
	env := newTestEnv(t)
	auth := env.bearer(t, "user-1")
	env.store.put(domain.TasksCollection, "t1", domain.Document{"title": "Plan", "category": "task", "status": "todo", "date": "2025-03-20", "subtasks": true})
	env.store.put(domain.SubtasksCollection, "s1", domain.Document{"taskId": "t1", "name": "Draft", "finished": false})

	rec := env.do(t, request{method: http.MethodPut, path: "/api/tasks/t1", auth: auth, body: taskRequest{
		Title: "Plan launch", DueDate: "03/20/2025", Category: domain.CategoryTask,
	}})
	expectStatus(t, rec, http.StatusOK)
	saved := decode[saveResponse](t, rec)
	if !saved.Task.HasSubtasks || len(saved.Task.Subtasks) != 1 {
		t.Fatalf("stored subtasks must survive a title edit: %+v", saved.Task)
	}
	doc, _ := env.store.Get(t.Context(), domain.TasksCollection, "t1")
	if !doc.Bool("subtasks", false) || doc.String("title") != "Plan launch" {
		t.Fatalf("unexpected stored task: %v", doc)
	}
	if env.store.count(domain.SubtasksCollection) != 1 {
		t.Fatalf("subtask must stay stored")
	}
}

func TestSaveRejectsSubtasksOfOtherTasks(t *testing.T) {
	env := newTestEnv(t)
	auth := env.bearer(t, "user-1")
	env.store.put(domain.TasksCollection, "t1", domain.Document{"title": "Plan", "category": "task", "status": "todo", "date": "2025-03-20"})
	env.store.put(domain.TasksCollection, "t2", domain.Document{"title": "Ship", "category": "task", "status": "todo", "date": "2025-03-20", "subtasks": true})
	env.store.put(domain.SubtasksCollection, "other", domain.Document{"taskId": "t2", "name": "Pack", "finished": false})

	rec := env.do(t, request{method: http.MethodPut, path: "/api/tasks/t1", auth: auth, body: taskRequest{
		Title: "Plan", DueDate: "03/20/2025", Category: domain.CategoryTask,
		Subtasks: []subtaskRequest{{ID: "other", Name: "Pack", EditState: domain.EditStateDeleted}},
	}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if resp := decode[errorResponse](t, rec); len(resp.Fields["subtaskList"]) != 1 {
		t.Fatalf("expected a subtask list error, got %v", resp.Fields)
	}

	rec = env.do(t, request{method: http.MethodPost, path: "/api/tasks", auth: auth, body: taskRequest{
		Title: "Steal", DueDate: "03/20/2025", Category: domain.CategoryTask,
		Subtasks: []subtaskRequest{{ID: "other", Name: "Pack", EditState: domain.EditStateChanged}},
	}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	doc, err := env.store.Get(t.Context(), domain.SubtasksCollection, "other")
	if err != nil || doc.String("taskId") != "t2" {
		t.Fatalf("subtask of t2 must stay untouched: %v %v", doc, err)
	}
}

func TestSummaryCountsTasks(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(domain.TasksCollection, "t1", domain.Document{"title": "a", "category": "task", "status": "todo", "prio": "urgent", "date": "2025-03-12"})
	env.store.put(domain.TasksCollection, "t2", domain.Document{"title": "b", "category": "task", "status": "done", "prio": "urgent", "date": "2025-03-11"})

	rec := env.do(t, request{method: http.MethodGet, path: "/api/summary", auth: env.bearer(t, "user-1")})
	expectStatus(t, rec, http.StatusOK)
	sum := decode[board.Summary](t, rec)
	if sum.Total != 2 || sum.Urgent != 1 || sum.Greeting != "Good morning" {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.NextUrgent == nil || sum.NextUrgent.Day() != 12 {
		t.Fatalf("unexpected next urgent date: %v", sum.NextUrgent)
	}
}
