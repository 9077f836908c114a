package domain

// EditState marks the write a subtask needs on the next task save.
type EditState string

const (
	EditStateNone    EditState = ""
	EditStateNew     EditState = "new"
	EditStateChanged EditState = "changed"
	EditStateDeleted EditState = "deleted"
)

// SubTask is a checklist item of a task.
type SubTask struct {
	ID       string `json:"id"`
	TaskID   string `json:"taskId"`
	Name     string `json:"name" validate:"strictrequired"`
	Finished bool   `json:"finished"`

	EditMode  bool      `json:"editMode,omitempty"`
	EditState EditState `json:"editState,omitempty"`
}

func (s *SubTask) Collection() Collection { return SubtasksCollection }

func (s *SubTask) DocumentID() string { return s.ID }

func (s *SubTask) ToDocument() Document {
	return Document{
		"id":       s.ID,
		"taskId":   s.TaskID,
		"name":     s.Name,
		"finished": s.Finished,
	}
}

// SubTaskFromDocument maps a stored subtask. An absent finished flag reads
// as false.
func SubTaskFromDocument(doc Document) (*SubTask, error) {
	return &SubTask{
		ID:       doc.ID(),
		TaskID:   doc.String("taskId"),
		Name:     doc.String("name"),
		Finished: doc.Bool("finished", false),
	}, nil
}
