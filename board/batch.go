package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/storage"
)

// Policy decides what a failed subtask write does to the rest of a save.
type Policy string

const (
	// PolicyBestEffort writes subtasks concurrently, parks failed writes for
	// a replay and still writes the task.
	PolicyBestEffort Policy = "best-effort"
	// PolicyAllOrNothing writes subtasks one by one and undoes the applied
	// ones when a write fails. The task is not written in that case.
	PolicyAllOrNothing Policy = "all-or-nothing"
)

// ParsePolicy validates a policy name. The empty name selects best-effort.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyBestEffort:
		return PolicyBestEffort, nil
	case PolicyAllOrNothing:
		return PolicyAllOrNothing, nil
	}
	return "", fmt.Errorf("unknown save policy %q", s)
}

// Parker holds failed writes for a later replay.
type Parker interface {
	Park(ctx context.Context, w storage.PendingWrite) error
}

// WriteFailure is a subtask write that did not land.
type WriteFailure struct {
	Subtask *domain.SubTask
	Op      domain.Op
	Err     error
}

// BatchError lists the failed subtask writes of one save.
type BatchError struct {
	Policy   Policy
	Failures []WriteFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s %q: %v", f.Op, f.Subtask.Name, f.Err)
	}
	return fmt.Sprintf("%d subtask write(s) failed (%s): %s", len(e.Failures), e.Policy, strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// BatchResult reports what a save did.
type BatchResult struct {
	TaskID      string `json:"taskId"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	TaskWritten bool   `json:"taskWritten"`
	Parked      int    `json:"parked"`
}

type subtaskWrite struct {
	st   *domain.SubTask
	op   domain.Op
	prev domain.Document
}

func (w subtaskWrite) pending(err error) storage.PendingWrite {
	p := storage.PendingWrite{Collection: domain.SubtasksCollection, Op: w.op, ID: w.st.ID, LastErr: err.Error()}
	if w.op != domain.OpDelete {
		p.Document = w.st.ToDocument()
	}
	return p
}

// SaveTask writes a task together with the pending edits of its subtasks.
//
// A new task is inserted first so new subtasks carry its id. Every subtask
// with an edit state gets exactly one insert, update or delete. Afterwards
// the task's subtask flag reflects whether any subtask remains, edit states
// are cleared and deleted subtasks are dropped from task.Subtasks.
//
// Under PolicyBestEffort a failed subtask write is parked and reported in a
// *BatchError next to a non-nil result. Under PolicyAllOrNothing the applied
// writes are undone, the task is left as it was and the result is nil. That
// also holds when the task write itself fails. Under PolicyBestEffort a failed
// task write leaves task tagged so that saving it again only repeats the
// writes that did not land.
func (b *TaskBoard) SaveTask(ctx context.Context, task *domain.Task, policy Policy) (*BatchResult, error) {
	if policy == "" {
		policy = b.policy
	}
	ctx, span := b.tracer.Start(ctx, "board.SaveTask")
	defer span.End()

	hadSubtasks := task.HasSubtasks
	task.HasSubtasks = remaining(task.Subtasks) >= 1
	res := &BatchResult{}
	isNew := task.ID == ""
	if isNew {
		id, err := b.repo.Insert(ctx, task)
		if err != nil {
			task.HasSubtasks = hadSubtasks
			return nil, fmt.Errorf("insert task: %w", err)
		}
		task.ID = id
		res.TaskWritten = true
	}

	var writes []subtaskWrite
	for _, st := range task.Subtasks {
		switch st.EditState {
		case domain.EditStateNew:
			st.TaskID = task.ID
			writes = append(writes, subtaskWrite{st: st, op: domain.OpInsert})
		case domain.EditStateChanged:
			if st.ID == "" {
				st.TaskID = task.ID
				writes = append(writes, subtaskWrite{st: st, op: domain.OpInsert})
				continue
			}
			writes = append(writes, subtaskWrite{st: st, op: domain.OpUpdate})
		case domain.EditStateDeleted:
			if st.ID != "" {
				writes = append(writes, subtaskWrite{st: st, op: domain.OpDelete})
			}
		}
	}

	var (
		failures []WriteFailure
		landed   []subtaskWrite
	)
	switch policy {
	case PolicyAllOrNothing:
		applied, err := b.applyAll(ctx, writes, res)
		if err != nil {
			if isNew {
				b.undoTaskInsert(ctx, task)
			}
			task.HasSubtasks = hadSubtasks
			b.metrics.BatchFailures.WithLabelValues(string(policy)).Inc()
			return nil, err
		}
		landed = applied
	default:
		policy = PolicyBestEffort
		landed, failures = b.applyConcurrently(ctx, writes, res)
	}

	if !isNew {
		if err := b.repo.Update(ctx, task); err != nil {
			task.HasSubtasks = hadSubtasks
			b.metrics.BatchFailures.WithLabelValues(string(policy)).Inc()
			if policy == PolicyAllOrNothing {
				b.undo(ctx, landed)
			} else {
				settle(task, landed)
			}
			return nil, fmt.Errorf("update task: %w", err)
		}
		res.TaskWritten = true
	}
	res.TaskID = task.ID
	clearEdits(task)

	if len(failures) > 0 {
		b.metrics.BatchFailures.WithLabelValues(string(policy)).Add(float64(len(failures)))
		return res, &BatchError{Policy: policy, Failures: failures}
	}
	return res, nil
}

func (b *TaskBoard) undoTaskInsert(ctx context.Context, task *domain.Task) {
	if err := b.repo.Delete(ctx, domain.TasksCollection, task.ID); err != nil {
		b.logger.WithError(err).WithField("task", task.ID).Error("undo task insert failed")
	}
	task.ID = ""
}

// settle retags subtask writes that landed while the task write failed, so
// saving the same task again does not repeat them: inserted subtasks become
// updates and deleted ones leave the list.
func settle(task *domain.Task, landed []subtaskWrite) {
	gone := make(map[*domain.SubTask]bool)
	for _, w := range landed {
		switch w.op {
		case domain.OpInsert:
			w.st.EditState = domain.EditStateChanged
		case domain.OpDelete:
			gone[w.st] = true
		}
	}
	kept := task.Subtasks[:0]
	for _, st := range task.Subtasks {
		if !gone[st] {
			kept = append(kept, st)
		}
	}
	for i := len(kept); i < len(task.Subtasks); i++ {
		task.Subtasks[i] = nil
	}
	task.Subtasks = kept
}

func (b *TaskBoard) apply(ctx context.Context, w subtaskWrite) error {
	switch w.op {
	case domain.OpInsert:
		id, err := b.repo.Insert(ctx, w.st)
		if err != nil {
			return err
		}
		w.st.ID = id
		return nil
	case domain.OpUpdate:
		return b.repo.Update(ctx, w.st)
	case domain.OpDelete:
		return b.repo.Delete(ctx, domain.SubtasksCollection, w.st.ID)
	}
	return fmt.Errorf("unknown op %q", w.op)
}

func count(res *BatchResult, op domain.Op) {
	switch op {
	case domain.OpInsert:
		res.Inserted++
	case domain.OpUpdate:
		res.Updated++
	case domain.OpDelete:
		res.Deleted++
	}
}

func (b *TaskBoard) applyConcurrently(ctx context.Context, writes []subtaskWrite, res *BatchResult) ([]subtaskWrite, []WriteFailure) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		landed   []subtaskWrite
		failures []WriteFailure
	)
	for _, w := range writes {
		wg.Add(1)
		go func(w subtaskWrite) {
			defer wg.Done()
			err := b.apply(ctx, w)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, WriteFailure{Subtask: w.st, Op: w.op, Err: err})
				return
			}
			landed = append(landed, w)
			count(res, w.op)
		}(w)
	}
	wg.Wait()

	for _, f := range failures {
		w := subtaskWrite{st: f.Subtask, op: f.Op}
		if b.parker == nil {
			continue
		}
		if err := b.parker.Park(ctx, w.pending(f.Err)); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{"subtask": f.Subtask.ID, "op": f.Op}).Error("park subtask write failed")
			continue
		}
		res.Parked++
	}
	return landed, failures
}

// applyAll returns the writes it applied so a later failure can undo them.
func (b *TaskBoard) applyAll(ctx context.Context, writes []subtaskWrite, res *BatchResult) ([]subtaskWrite, error) {
	applied := make([]subtaskWrite, 0, len(writes))
	for _, w := range writes {
		if w.op != domain.OpInsert {
			prev, err := b.repo.Get(ctx, domain.SubtasksCollection, w.st.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				b.undo(ctx, applied)
				return nil, &BatchError{Policy: PolicyAllOrNothing, Failures: []WriteFailure{{Subtask: w.st, Op: w.op, Err: err}}}
			}
			w.prev = prev
		}
		if err := b.apply(ctx, w); err != nil {
			b.undo(ctx, applied)
			return nil, &BatchError{Policy: PolicyAllOrNothing, Failures: []WriteFailure{{Subtask: w.st, Op: w.op, Err: err}}}
		}
		applied = append(applied, w)
	}
	for _, w := range applied {
		count(res, w.op)
	}
	return applied, nil
}

// undo reverts applied writes newest first.
func (b *TaskBoard) undo(ctx context.Context, applied []subtaskWrite) {
	for i := len(applied) - 1; i >= 0; i-- {
		w := applied[i]
		var err error
		switch w.op {
		case domain.OpInsert:
			err = b.repo.Delete(ctx, domain.SubtasksCollection, w.st.ID)
			w.st.ID = ""
		case domain.OpUpdate, domain.OpDelete:
			if w.prev != nil {
				err = b.repo.PutDocument(ctx, domain.SubtasksCollection, w.prev.ID(), w.prev)
			}
		}
		if err != nil {
			b.logger.WithError(err).WithFields(log.Fields{"subtask": w.st.ID, "op": w.op}).Error("undo subtask write failed")
		}
	}
}

func clearEdits(task *domain.Task) {
	kept := task.Subtasks[:0]
	for _, st := range task.Subtasks {
		if st.EditState == domain.EditStateDeleted {
			continue
		}
		st.EditState = domain.EditStateNone
		st.EditMode = false
		kept = append(kept, st)
	}
	for i := len(kept); i < len(task.Subtasks); i++ {
		task.Subtasks[i] = nil
	}
	task.Subtasks = kept
}

// ApplyPending replays a parked write.
func (b *TaskBoard) ApplyPending(ctx context.Context, w storage.PendingWrite) error {
	switch w.Op {
	case domain.OpInsert:
		_, err := b.repo.InsertDocument(ctx, w.Collection, w.Document)
		return err
	case domain.OpUpdate:
		return b.repo.UpdateDocument(ctx, w.Collection, w.ID, w.Document)
	case domain.OpDelete:
		err := b.repo.Delete(ctx, w.Collection, w.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown op %q", w.Op)
}
