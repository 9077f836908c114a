package board

import (
	"fmt"
	"strings"

	"github.com/elma1989/join/domain"
)

// AddSubtask appends a subtask that is inserted on the next save.
func AddSubtask(task *domain.Task, name string) *domain.SubTask {
	st := &domain.SubTask{
		TaskID:    task.ID,
		Name:      strings.TrimSpace(name),
		EditState: domain.EditStateNew,
	}
	task.Subtasks = append(task.Subtasks, st)
	return st
}

// RenameSubtask changes the name of subtask i and leaves edit mode.
func RenameSubtask(task *domain.Task, i int, name string) error {
	st, err := subtaskAt(task, i)
	if err != nil {
		return err
	}
	st.Name = strings.TrimSpace(name)
	st.EditMode = false
	markChanged(st)
	return nil
}

// ToggleSubtask flips the finished flag of subtask i.
func ToggleSubtask(task *domain.Task, i int) error {
	st, err := subtaskAt(task, i)
	if err != nil {
		return err
	}
	st.Finished = !st.Finished
	markChanged(st)
	return nil
}

// EditSubtask switches subtask i into edit mode, closing every other one.
func EditSubtask(task *domain.Task, i int) error {
	if _, err := subtaskAt(task, i); err != nil {
		return err
	}
	for j, st := range task.Subtasks {
		st.EditMode = j == i
	}
	return nil
}

// RemoveSubtask drops a subtask that was never stored and marks a stored one
// for deletion.
func RemoveSubtask(task *domain.Task, i int) error {
	st, err := subtaskAt(task, i)
	if err != nil {
		return err
	}
	if st.EditState == domain.EditStateNew || st.ID == "" {
		task.Subtasks = append(task.Subtasks[:i], task.Subtasks[i+1:]...)
		return nil
	}
	st.EditState = domain.EditStateDeleted
	st.EditMode = false
	return nil
}

// SubtaskNames lists the names of subtasks not marked for deletion.
func SubtaskNames(task *domain.Task) []string {
	var names []string
	for _, st := range task.Subtasks {
		if st.EditState != domain.EditStateDeleted {
			names = append(names, st.Name)
		}
	}
	return names
}

func remaining(subtasks []*domain.SubTask) int {
	n := 0
	for _, st := range subtasks {
		if st.EditState != domain.EditStateDeleted {
			n++
		}
	}
	return n
}

func markChanged(st *domain.SubTask) {
	if st.EditState == domain.EditStateNone {
		st.EditState = domain.EditStateChanged
	}
}

func subtaskAt(task *domain.Task, i int) (*domain.SubTask, error) {
	if i < 0 || i >= len(task.Subtasks) {
		return nil, fmt.Errorf("%w: subtask %d", domain.ErrNotFound, i)
	}
	return task.Subtasks[i], nil
}
