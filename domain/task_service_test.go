package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func memo() TaskInput {
	return TaskInput{Description: "Draft memo", Category: CategoryImportant, Type: TypeCall}
}

func TestAssignThenListThenComplete(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	svc := NewTaskService(newFakeStore(), rec, quietLogger(), 0)
	b := validBucket()

	res, err := svc.AssignTasks(ctx, b, []TaskInput{memo()})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Succeeded() != 1 || len(res.TaskIDs()) != 1 {
		t.Fatalf("expected one durable task, got %+v", res)
	}
	id := res.TaskIDs()[0]

	tasks, err := svc.ListTasks(ctx, b)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.ID != id || got.Description != "Draft memo" || got.Category != CategoryImportant || got.Type != TypeCall {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Status != StatusPending || got.AssignedAt == 0 {
		t.Fatalf("expected pending task with assignedAt, got %+v", got)
	}

	done, err := svc.CompleteTask(ctx, b, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed() || done.CompletedAt < done.AssignedAt {
		t.Fatalf("unexpected completed task %+v", done)
	}
	again, _ := svc.GetTask(ctx, b, id)
	if again.Status != StatusCompleted {
		t.Fatalf("expected stored status completed, got %v", again.Status)
	}

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != ActivityTaskAssigned || kinds[1] != ActivityTaskCompleted {
		t.Fatalf("unexpected activity %v", kinds)
	}
}

func TestListTasksEmptyBucket(t *testing.T) {
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	tasks, err := svc.ListTasks(context.Background(), validBucket())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty list, got %#v", tasks)
	}
}

func TestListTasksKeepsAssignmentOrder(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	b := validBucket()
	batch := make([]TaskInput, 10)
	for i := range batch {
		batch[i] = memo()
		batch[i].Description = string(rune('a' + i))
	}
	if _, err := svc.AssignTasks(ctx, b, batch); err != nil {
		t.Fatalf("assign: %v", err)
	}
	tasks, _ := svc.ListTasks(ctx, b)
	for i, task := range tasks {
		if task.Description != batch[i].Description {
			t.Fatalf("position %d: expected %q, got %q", i, batch[i].Description, task.Description)
		}
	}
}

func TestAssignTasksPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	var calls atomic.Int32
	st.fail = func(op string, p Path) error {
		if op == "put" && calls.Add(1) == 2 {
			return Unavailable(errors.New("timeout"))
		}
		return nil
	}
	svc := NewTaskService(st, nil, quietLogger(), 0)

	res, err := svc.AssignTasks(ctx, validBucket(), []TaskInput{memo(), memo(), memo()})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Succeeded() != 2 || len(res.Results) != 3 {
		t.Fatalf("expected two of three durable, got %+v", res)
	}
	failed := 0
	for i, o := range res.Results {
		if o.Index != i {
			t.Fatalf("outcome %d reports index %d", i, o.Index)
		}
		if !o.OK {
			failed++
			if o.Code != "storage_unavailable" || !errors.Is(o.Err(), ErrStorageUnavailable) {
				t.Fatalf("unexpected failure outcome %+v", o)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failure, got %d", failed)
	}
	tasks, _ := svc.ListTasks(ctx, validBucket())
	if len(tasks) != 2 {
		t.Fatalf("expected exactly the durable tasks to be listed, got %d", len(tasks))
	}
}

func TestAssignTasksIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	in := memo()
	in.IdempotencyKey = "retry-1"

	first, err := svc.AssignTasks(ctx, validBucket(), []TaskInput{in})
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	second, err := svc.AssignTasks(ctx, validBucket(), []TaskInput{in})
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if first.Results[0].Duplicate || !second.Results[0].Duplicate {
		t.Fatalf("expected only the retry to be a duplicate: %+v %+v", first, second)
	}
	if first.Results[0].TaskID != second.Results[0].TaskID {
		t.Fatalf("expected the same task id, got %s and %s", first.Results[0].TaskID, second.Results[0].TaskID)
	}
	tasks, _ := svc.ListTasks(ctx, validBucket())
	if len(tasks) != 1 {
		t.Fatalf("expected one stored task, got %d", len(tasks))
	}

	other := validBucket()
	other.Day = "Tuesday"
	third, _ := svc.AssignTasks(ctx, other, []TaskInput{in})
	if third.Results[0].TaskID == first.Results[0].TaskID {
		t.Fatalf("expected keys to be scoped to the bucket")
	}
}

func TestAssignTasksRejectsWholeBatchOnInvalidItem(t *testing.T) {
	st := newFakeStore()
	svc := NewTaskService(st, nil, quietLogger(), 2)
	bad := memo()
	bad.Category = "Urgent"

	_, err := svc.AssignTasks(context.Background(), validBucket(), []TaskInput{memo(), bad})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "tasks[1].category" {
		t.Fatalf("expected validation error on tasks[1].category, got %v", err)
	}
	if len(st.docs) != 0 {
		t.Fatalf("expected nothing written, got %d documents", len(st.docs))
	}
	if _, err := svc.AssignTasks(context.Background(), validBucket(), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty batch to be rejected, got %v", err)
	}
	if _, err := svc.AssignTasks(context.Background(), validBucket(), []TaskInput{memo(), memo(), memo()}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected oversized batch to be rejected, got %v", err)
	}
	b := validBucket()
	b.Month = "Smarch"
	if _, err := svc.AssignTasks(context.Background(), b, []TaskInput{memo()}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid bucket to be rejected, got %v", err)
	}
}

func TestCompleteTaskTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	res, _ := svc.AssignTasks(ctx, validBucket(), []TaskInput{memo()})
	id := res.TaskIDs()[0]

	if _, err := svc.CompleteTask(ctx, validBucket(), id); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := svc.CompleteTask(ctx, validBucket(), id)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ErrorCode(err) != "conflict" {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	_, err := svc.CompleteTask(context.Background(), validBucket(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetTask(context.Background(), validBucket(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found from GetTask, got %v", err)
	}
}

func TestConcurrentCompleteExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newFakeStore(), nil, quietLogger(), 0)
	res, _ := svc.AssignTasks(ctx, validBucket(), []TaskInput{memo()})
	id := res.TaskIDs()[0]

	const callers = 16
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CompleteTask(ctx, validBucket(), id)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != callers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", callers-1, wins.Load(), conflicts.Load())
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"":                    nil,
		"validation_error":    invalid("x", "bad"),
		"not_found":           ErrNotFound,
		"conflict":            ErrConflict,
		"storage_unavailable": Unavailable(errors.New("boom")),
		"internal":            errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
