package board

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
	"github.com/elma1989/join/telemetry"
)

// TaskBoardOptions configures a TaskBoard.
type TaskBoardOptions struct {
	Policy Policy
	Parker Parker
	Logger *log.Logger
}

// TaskBoard reads and writes tasks and their subtasks. Once Watch ran, reads
// are served from live mirrors instead of the store.
type TaskBoard struct {
	repo    *Repository
	policy  Policy
	parker  Parker
	logger  *log.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	tasks    *mirror.Mirror[*domain.Task]
	subtasks *mirror.Mirror[*domain.SubTask]
}

func NewTaskBoard(repo *Repository, opts TaskBoardOptions) *TaskBoard {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyBestEffort
	}
	return &TaskBoard{
		repo:    repo,
		policy:  opts.Policy,
		parker:  opts.Parker,
		logger:  opts.Logger,
		metrics: telemetry.NewMetrics(),
		tracer:  telemetry.Tracer(),
	}
}

// Watch mirrors the task and subtask collections.
func (b *TaskBoard) Watch(ctx context.Context, feed changefeed.Feed, opts mirror.Options[*domain.Task]) error {
	tasks, err := mirror.Subscribe(ctx, b.repo, feed, domain.TasksCollection, domain.TaskFromDocument, opts)
	if err != nil {
		return fmt.Errorf("watch tasks: %w", err)
	}
	subtasks, err := mirror.Subscribe(ctx, b.repo, feed, domain.SubtasksCollection, domain.SubTaskFromDocument, mirror.Options[*domain.SubTask]{
		Logger:         opts.Logger,
		Limiter:        opts.Limiter,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
	})
	if err != nil {
		tasks.Unsubscribe()
		return fmt.Errorf("watch subtasks: %w", err)
	}
	b.tasks, b.subtasks = tasks, subtasks
	return nil
}

// Close stops the mirrors started by Watch.
func (b *TaskBoard) Close() {
	if b.tasks != nil {
		b.tasks.Unsubscribe()
	}
	if b.subtasks != nil {
		b.subtasks.Unsubscribe()
	}
}

// Tasks returns every task with its subtasks attached. The tasks are copies
// the caller may modify.
func (b *TaskBoard) Tasks(ctx context.Context) ([]*domain.Task, error) {
	var (
		tasks    []*domain.Task
		subtasks []*domain.SubTask
	)
	if b.tasks != nil && b.tasks.Ready() && b.subtasks.Ready() {
		tasks, subtasks = b.tasks.Items(), b.subtasks.Items()
	} else {
		var err error
		if tasks, err = listAs(ctx, b.repo, domain.TasksCollection, domain.TaskFromDocument); err != nil {
			return nil, err
		}
		if subtasks, err = listAs(ctx, b.repo, domain.SubtasksCollection, domain.SubTaskFromDocument); err != nil {
			return nil, err
		}
	}
	return attach(tasks, subtasks), nil
}

// Task loads one task and its subtasks from the store.
func (b *TaskBoard) Task(ctx context.Context, id string) (*domain.Task, error) {
	doc, err := b.repo.Get(ctx, domain.TasksCollection, id)
	if err != nil {
		return nil, err
	}
	task, err := domain.TaskFromDocument(doc)
	if err != nil {
		return nil, err
	}
	subtasks, err := listAs(ctx, b.repo, domain.SubtasksCollection, domain.SubTaskFromDocument)
	if err != nil {
		return nil, err
	}
	return attach([]*domain.Task{task}, subtasks)[0], nil
}

// Column is the tasks of one status.
type Column struct {
	Status domain.Status  `json:"status"`
	Tasks  []*domain.Task `json:"tasks"`
}

// Columns groups tasks by status in board order. A non-empty query keeps
// tasks whose title or description contains it, ignoring case.
func (b *TaskBoard) Columns(ctx context.Context, query string) ([]Column, error) {
	tasks, err := b.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	return arrange(Search(tasks, query)), nil
}

// BuildColumns lays out a task and subtask snapshot as board columns.
func BuildColumns(tasks []*domain.Task, subtasks []*domain.SubTask) []Column {
	return arrange(attach(tasks, subtasks))
}

func arrange(tasks []*domain.Task) []Column {
	cols := make([]Column, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols[i] = Column{Status: s, Tasks: []*domain.Task{}}
	}
	for _, t := range tasks {
		for i := range cols {
			if cols[i].Status == t.Status {
				cols[i].Tasks = append(cols[i].Tasks, t)
				break
			}
		}
	}
	return cols
}

// Search filters tasks by title and description.
func Search(tasks []*domain.Task, query string) []*domain.Task {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return tasks
	}
	out := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	return out
}

// Move puts a task into another column.
func (b *TaskBoard) Move(ctx context.Context, id string, status domain.Status) (*domain.Task, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	doc, err := b.repo.Get(ctx, domain.TasksCollection, id)
	if err != nil {
		return nil, err
	}
	task, err := domain.TaskFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if task.Status == status {
		return task, nil
	}
	task.Status = status
	if err := b.repo.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Step moves a task one column forward or back, staying put at the ends.
func (b *TaskBoard) Step(ctx context.Context, id string, forward bool) (*domain.Task, error) {
	doc, err := b.repo.Get(ctx, domain.TasksCollection, id)
	if err != nil {
		return nil, err
	}
	task, err := domain.TaskFromDocument(doc)
	if err != nil {
		return nil, err
	}
	next := task.Status.Prev()
	if forward {
		next = task.Status.Next()
	}
	return b.Move(ctx, id, next)
}

// Delete removes a task and all of its subtasks.
func (b *TaskBoard) Delete(ctx context.Context, id string) error {
	docs, err := b.repo.List(ctx, domain.SubtasksCollection)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.String("taskId") != id {
			continue
		}
		if err := b.repo.Delete(ctx, domain.SubtasksCollection, doc.ID()); err != nil {
			return fmt.Errorf("delete subtask %s: %w", doc.ID(), err)
		}
	}
	return b.repo.Delete(ctx, domain.TasksCollection, id)
}

// UnassignContact removes a contact from every task it is assigned to and
// returns the number of updated tasks.
func (b *TaskBoard) UnassignContact(ctx context.Context, contactID string) (int, error) {
	tasks, err := listAs(ctx, b.repo, domain.TasksCollection, domain.TaskFromDocument)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if !t.Unassign(contactID) {
			continue
		}
		if err := b.repo.Update(ctx, t); err != nil {
			return n, fmt.Errorf("unassign from task %s: %w", t.ID, err)
		}
		n++
	}
	return n, nil
}

// Summary is the dashboard overview.
type Summary struct {
	Greeting   string                `json:"greeting"`
	Total      int                   `json:"total"`
	ByStatus   map[domain.Status]int `json:"byStatus"`
	Urgent     int                   `json:"urgent"`
	NextUrgent *time.Time            `json:"nextUrgent,omitempty"`
}

// Summary counts tasks per status and finds the earliest urgent deadline.
func (b *TaskBoard) Summary(ctx context.Context, now time.Time) (*Summary, error) {
	tasks, err := b.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(tasks, now), nil
}

// Summarize computes a Summary. Done tasks do not count as urgent.
func Summarize(tasks []*domain.Task, now time.Time) *Summary {
	s := &Summary{Greeting: Greeting(now), Total: len(tasks), ByStatus: map[domain.Status]int{}}
	for _, st := range domain.Statuses {
		s.ByStatus[st] = 0
	}
	for _, t := range tasks {
		s.ByStatus[t.Status]++
		if t.Priority != domain.PriorityUrgent || t.Status == domain.StatusDone {
			continue
		}
		s.Urgent++
		if t.DueDate.IsZero() {
			continue
		}
		if s.NextUrgent == nil || t.DueDate.Before(*s.NextUrgent) {
			d := t.DueDate
			s.NextUrgent = &d
		}
	}
	return s
}

// Greeting returns the salutation for the time of day.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

func listAs[T any](ctx context.Context, repo *Repository, coll domain.Collection, mapper func(domain.Document) (T, error)) ([]T, error) {
	docs, err := repo.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := mapper(doc)
		if err != nil {
			repo.logger.WithError(err).WithFields(log.Fields{"collection": coll, "id": doc.ID()}).Warn("skipping unreadable document")
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// attach copies tasks and hangs their subtasks on them, ordered by name.
func attach(tasks []*domain.Task, subtasks []*domain.SubTask) []*domain.Task {
	byTask := map[string][]*domain.SubTask{}
	for _, st := range subtasks {
		c := *st
		byTask[st.TaskID] = append(byTask[st.TaskID], &c)
	}
	out := make([]*domain.Task, len(tasks))
	for i, t := range tasks {
		c := *t
		c.AssignedTo = append([]string(nil), t.AssignedTo...)
		c.Subtasks = byTask[t.ID]
		sort.SliceStable(c.Subtasks, func(a, b int) bool { return c.Subtasks[a].Name < c.Subtasks[b].Name })
		out[i] = &c
	}
	return out
}
