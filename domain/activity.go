package domain

import "context"

// ActivityKind names a durable change worth auditing.
type ActivityKind string

const (
	ActivityProjectCreated ActivityKind = "project.created"
	ActivityEmployeesAdded ActivityKind = "project.employees_added"
	ActivityTaskAssigned   ActivityKind = "task.assigned"
	ActivityTaskCompleted  ActivityKind = "task.completed"
)

// Activity is an audit record emitted after a successful write.
type Activity struct {
	Kind       ActivityKind `json:"kind"`
	ProjectID  string       `json:"projectId"`
	Actor      string       `json:"actor,omitempty"`
	Employees  []string     `json:"employees,omitempty"`
	Bucket     *Bucket      `json:"bucket,omitempty"`
	TaskID     string       `json:"taskId,omitempty"`
	OccurredAt int64        `json:"occurredAt"`
}

// ActivityRecorder accepts activity records. Delivery failures never fail the
// originating request.
type ActivityRecorder interface {
	Record(ctx context.Context, a Activity)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Activity) {}
