package domain

import (
	"fmt"
	"time"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityUrgent Priority = "urgent"
)

// Category of a task.
type Category string

const (
	CategoryTask      Category = "task"
	CategoryTechnical Category = "technical"
)

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo     Status = "todo"
	StatusProgress Status = "progress"
	StatusReview   Status = "review"
	StatusDone     Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusProgress, StatusReview, StatusDone}

// DateLayout is the stored format of a due date.
const DateLayout = "2006-01-02"

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) index() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the column to the right, or s itself for the last column.
func (s Status) Next() Status {
	i := s.index()
	if i < 0 || i == len(Statuses)-1 {
		return s
	}
	return Statuses[i+1]
}

// Prev returns the column to the left, or s itself for the first column.
func (s Status) Prev() Status {
	i := s.index()
	if i <= 0 {
		return s
	}
	return Statuses[i-1]
}

// Task is a board card.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title" validate:"strictrequired"`
	Description string     `json:"description"`
	DueDate     time.Time  `json:"dueDate"`
	Priority    Priority   `json:"priority" validate:"omitempty,oneof=low medium urgent"`
	Category    Category   `json:"category" validate:"strictrequired,oneof=task technical"`
	Status      Status     `json:"status" validate:"omitempty,oneof=todo progress review done"`
	AssignedTo  []string   `json:"assignedTo"`
	HasSubtasks bool       `json:"subtasks"`
	Subtasks    []*SubTask `json:"subtaskList,omitempty" validate:"dive"`
}

func (t *Task) Collection() Collection { return TasksCollection }

func (t *Task) DocumentID() string { return t.ID }

// ToDocument projects the task onto its stored fields. Subtasks live in their
// own collection and only the flag is stored here.
func (t *Task) ToDocument() Document {
	date := ""
	if !t.DueDate.IsZero() {
		date = t.DueDate.Format(DateLayout)
	}
	assigned := t.AssignedTo
	if assigned == nil {
		assigned = []string{}
	}
	status := t.Status
	if status == "" {
		status = StatusTodo
	}
	return Document{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"date":        date,
		"prio":        string(t.Priority),
		"category":    string(t.Category),
		"status":      string(status),
		"assignedTo":  append([]string(nil), assigned...),
		"subtasks":    t.HasSubtasks,
	}
}

// TaskFromDocument maps a stored document onto a Task. A missing subtasks
// flag defaults to true so the caller loads the subtask list.
func TaskFromDocument(doc Document) (*Task, error) {
	t := &Task{
		ID:          doc.ID(),
		Title:       doc.String("title"),
		Description: doc.String("description"),
		Priority:    Priority(doc.String("prio")),
		Category:    Category(doc.String("category")),
		Status:      StatusTodo,
		AssignedTo:  doc.Strings("assignedTo"),
		HasSubtasks: doc.Bool("subtasks", true),
	}
	if raw := doc.String("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		t.Status = st
	}
	if raw := doc.String("date"); raw != "" {
		d, err := time.Parse(DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: parse date: %w", t.ID, err)
		}
		t.DueDate = d
	}
	return t, nil
}

// IsAssigned reports whether contactID is assigned to the task.
func (t *Task) IsAssigned(contactID string) bool {
	for _, id := range t.AssignedTo {
		if id == contactID {
			return true
		}
	}
	return false
}

// Unassign removes contactID and reports whether it was present.
func (t *Task) Unassign(contactID string) bool {
	out := t.AssignedTo[:0]
	removed := false
	for _, id := range t.AssignedTo {
		if id == contactID {
			removed = true
			continue
		}
		out = append(out, id)
	}
	t.AssignedTo = out
	return removed
}

// Progress returns the number of finished subtasks and the number of
// subtasks that are not pending deletion.
func (t *Task) Progress() (finished, total int) {
	for _, st := range t.Subtasks {
		if st.EditState == EditStateDeleted {
			continue
		}
		total++
		if st.Finished {
			finished++
		}
	}
	return finished, total
}
