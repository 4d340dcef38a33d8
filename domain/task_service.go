package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxBatch caps the number of tasks accepted by one AssignTasks call.
	DefaultMaxBatch   = 100
	assignParallelism = 8
)

// taskIDNamespace seeds deterministic task ids derived from idempotency keys.
var taskIDNamespace = uuid.MustParse("6f1c2e8a-4b7d-5a39-9e0f-3c1d2b4a5e60")

// AssignOutcome reports the write result for one submitted task.
type AssignOutcome struct {
	Index     int    `json:"index"`
	TaskID    string `json:"taskId"`
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`

	err error
}

// Err is the write error for a failed outcome.
func (o AssignOutcome) Err() error { return o.err }

// AssignResult lists one outcome per submitted task, in submission order.
type AssignResult struct {
	Results []AssignOutcome `json:"results"`
}

// Succeeded counts durable tasks, duplicates included.
func (r AssignResult) Succeeded() int {
	n := 0
	for _, o := range r.Results {
		if o.OK {
			n++
		}
	}
	return n
}

// TaskIDs returns the ids of durable tasks in submission order.
func (r AssignResult) TaskIDs() []string {
	ids := make([]string, 0, len(r.Results))
	for _, o := range r.Results {
		if o.OK {
			ids = append(ids, o.TaskID)
		}
	}
	return ids
}

// TaskService assigns, lists and completes tasks inside a bucket. It trusts
// the project and employee identifiers it is given.
type TaskService struct {
	st       Store
	activity ActivityRecorder
	log      *log.Logger
	maxBatch int
}

func NewTaskService(st Store, activity ActivityRecorder, logger *log.Logger, maxBatch int) TaskService {
	if activity == nil {
		activity = nopRecorder{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return TaskService{st: st, activity: activity, log: logger, maxBatch: maxBatch}
}

// AssignTasks writes every task into the bucket as pending. Validation covers
// the whole batch before anything is written. Writes are independent: the
// result says which tasks are durable, and the caller retries the rest.
func (s TaskService) AssignTasks(ctx context.Context, b Bucket, tasks []TaskInput) (AssignResult, error) {
	if err := b.Validate(); err != nil {
		return AssignResult{}, err
	}
	if len(tasks) == 0 {
		return AssignResult{}, invalid("tasks", "must contain at least one task")
	}
	if len(tasks) > s.maxBatch {
		return AssignResult{}, invalid("tasks", fmt.Sprintf("must contain at most %d tasks", s.maxBatch))
	}
	tasks = append([]TaskInput(nil), tasks...)
	for i := range tasks {
		tasks[i].Description = strings.TrimSpace(tasks[i].Description)
		if err := tasks[i].validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return AssignResult{}, invalid(fmt.Sprintf("tasks[%d].%s", i, ve.Field), ve.Reason)
			}
			return AssignResult{}, err
		}
	}

	coll := b.Collection()
	results := make([]AssignOutcome, len(tasks))
	assignedAt := make([]int64, len(tasks))
	for i := range tasks {
		assignedAt[i] = nextTimestamp()
	}

	sem := make(chan struct{}, assignParallelism)
	var wg sync.WaitGroup
	for i, in := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, in TaskInput) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.assignOne(ctx, coll, b, i, in, assignedAt[i])
		}(i, in)
	}
	wg.Wait()

	res := AssignResult{Results: results}
	fields := log.Fields{"bucket": b.String(), "submitted": len(tasks), "succeeded": res.Succeeded()}
	if res.Succeeded() < len(tasks) {
		s.log.WithFields(fields).Warn("task assignment partially failed")
	} else {
		s.log.WithFields(fields).Info("tasks assigned")
	}
	return res, nil
}

func (s TaskService) assignOne(ctx context.Context, coll Path, b Bucket, i int, in TaskInput, ts int64) AssignOutcome {
	t := Task{
		Bucket:      b,
		Description: in.Description,
		Category:    in.Category,
		Type:        in.Type,
		Status:      StatusPending,
		AssignedAt:  ts,
	}
	var err error
	if in.IdempotencyKey != "" {
		t.ID = idempotentTaskID(b, in.IdempotencyKey)
		err = s.st.Create(ctx, coll.Doc(t.ID), taskFields(t))
		if errors.Is(err, ErrAlreadyExists) {
			return AssignOutcome{Index: i, TaskID: t.ID, OK: true, Duplicate: true}
		}
	} else {
		t.ID = uuid.NewString()
		err = s.st.Put(ctx, coll.Doc(t.ID), taskFields(t))
	}
	if err != nil {
		s.log.WithFields(log.Fields{"bucket": b.String(), "index": i, "task": t.ID}).WithError(err).Error("task write failed")
		return AssignOutcome{Index: i, TaskID: t.ID, Code: ErrorCode(err), Message: err.Error(), err: err}
	}
	s.activity.Record(ctx, Activity{
		Kind:       ActivityTaskAssigned,
		ProjectID:  b.ProjectID,
		Employees:  []string{b.Employee},
		Bucket:     &b,
		TaskID:     t.ID,
		OccurredAt: ts,
	})
	return AssignOutcome{Index: i, TaskID: t.ID, OK: true}
}

func idempotentTaskID(b Bucket, key string) string {
	return uuid.NewSHA1(taskIDNamespace, []byte(b.Collection().Key()+"#"+key)).String()
}

// ListTasks returns the bucket's tasks in assignment order. A bucket nobody
// wrote to yields an empty list.
func (s TaskService) ListTasks(ctx context.Context, b Bucket) ([]Task, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	docs, err := s.st.List(ctx, b.Collection())
	if err != nil {
		return nil, fmt.Errorf("list tasks in %s: %w", b, err)
	}
	out := make([]Task, 0, len(docs))
	for _, d := range docs {
		out = append(out, taskFromDocument(b, d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt != out[j].AssignedAt {
			return out[i].AssignedAt < out[j].AssignedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetTask returns one task or ErrNotFound.
func (s TaskService) GetTask(ctx context.Context, b Bucket, taskID string) (Task, error) {
	if err := b.Validate(); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(taskID) == "" {
		return Task{}, invalid("taskId", "must not be empty")
	}
	doc, found, err := s.st.Get(ctx, b.Collection().Doc(taskID))
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if !found {
		return Task{}, fmt.Errorf("task %s in %s: %w", taskID, b, ErrNotFound)
	}
	return taskFromDocument(b, doc), nil
}

// CompleteTask moves a pending task to completed. The transition is a single
// conditional write, so of two concurrent calls exactly one wins and the
// other gets ErrConflict.
func (s TaskService) CompleteTask(ctx context.Context, b Bucket, taskID string) (Task, error) {
	if err := b.Validate(); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(taskID) == "" {
		return Task{}, invalid("taskId", "must not be empty")
	}
	now := nextTimestamp()
	doc, err := s.st.UpdateIf(ctx, b.Collection().Doc(taskID),
		Condition{Field: fieldStatus, Equals: int(StatusPending)},
		Fields{fieldStatus: int(StatusCompleted), fieldCompletedAt: now},
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return Task{}, fmt.Errorf("task %s in %s: %w", taskID, b, ErrNotFound)
	case errors.Is(err, ErrPreconditionFailed):
		s.log.WithFields(log.Fields{"bucket": b.String(), "task": taskID}).Warn("task already completed")
		return Task{}, fmt.Errorf("task %s is already completed: %w", taskID, ErrConflict)
	case err != nil:
		return Task{}, fmt.Errorf("complete task %s: %w", taskID, err)
	}
	t := taskFromDocument(b, doc)
	s.log.WithFields(log.Fields{"bucket": b.String(), "task": taskID}).Info("task completed")
	s.activity.Record(ctx, Activity{
		Kind:       ActivityTaskCompleted,
		ProjectID:  b.ProjectID,
		Actor:      b.Employee,
		Bucket:     &b,
		TaskID:     taskID,
		OccurredAt: now,
	})
	return t, nil
}

// ErrorCode maps an error to the stable code reported to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
