package board

import (
	"errors"
	"reflect"
	"testing"

	"github.com/elma1989/join/domain"
)

func TestSubtaskEditHelpers(t *testing.T) {
	task := &domain.Task{ID: "t1", Subtasks: []*domain.SubTask{
		{ID: "s1", TaskID: "t1", Name: "Stored"},
	}}

	added := AddSubtask(task, " Fresh ")
	if added.EditState != domain.EditStateNew || added.Name != "Fresh" || added.TaskID != "t1" {
		t.Fatalf("unexpected new subtask: %+v", added)
	}

	if err := RenameSubtask(task, 1, "Fresher"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if task.Subtasks[1].EditState != domain.EditStateNew {
		t.Fatalf("renaming a new subtask must keep it new")
	}

	if err := ToggleSubtask(task, 0); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !task.Subtasks[0].Finished || task.Subtasks[0].EditState != domain.EditStateChanged {
		t.Fatalf("unexpected toggled subtask: %+v", task.Subtasks[0])
	}

	if err := EditSubtask(task, 1); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if task.Subtasks[0].EditMode || !task.Subtasks[1].EditMode {
		t.Fatalf("only one subtask should be in edit mode")
	}

	if err := RemoveSubtask(task, 1); err != nil {
		t.Fatalf("remove new: %v", err)
	}
	if len(task.Subtasks) != 1 {
		t.Fatalf("new subtask should be dropped, have %d", len(task.Subtasks))
	}
	if err := RemoveSubtask(task, 0); err != nil {
		t.Fatalf("remove stored: %v", err)
	}
	if task.Subtasks[0].EditState != domain.EditStateDeleted {
		t.Fatalf("stored subtask should be marked deleted")
	}
	if names := SubtaskNames(task); len(names) != 0 {
		t.Fatalf("deleted subtasks have no name: %v", names)
	}

	if err := ToggleSubtask(task, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubtaskNames(t *testing.T) {
	task := &domain.Task{}
	AddSubtask(task, "a")
	AddSubtask(task, "b")
	if got := SubtaskNames(task); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected names: %v", got)
	}
}
