package domain

import (
	"strings"
)

// Status is a task's completion state. Stored as an integer.
type Status int

const (
	StatusPending   Status = 0
	StatusCompleted Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Category is the employer's priority bucket for a task.
type Category string

const (
	CategoryDelegate     Category = "Delegate"
	CategoryGrowth       Category = "Growth"
	CategoryImportant    Category = "Important"
	CategoryNotImportant Category = "Not Important"
)

// Categories lists the accepted categories in display order.
var Categories = []Category{CategoryDelegate, CategoryGrowth, CategoryImportant, CategoryNotImportant}

// TaskType is the kind of work a task represents.
type TaskType string

const (
	TypeCall         TaskType = "Call"
	TypeMeeting      TaskType = "Meeting"
	TypePhysicalTask TaskType = "Physical Task"
)

// TaskTypes lists the accepted task types in display order.
var TaskTypes = []TaskType{TypeCall, TypeMeeting, TypePhysicalTask}

var (
	Months   = []string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"}
	Weeks    = []string{"Week 1", "Week 2", "Week 3", "Week 4"}
	Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
)

// Bucket addresses one employee's tasks for a single day of a project.
type Bucket struct {
	ProjectID string `json:"projectId"`
	Employee  string `json:"employee"`
	Year      string `json:"year"`
	Month     string `json:"month"`
	Week      string `json:"week"`
	Day       string `json:"day"`
}

// Validate checks every coordinate against the fixed calendars.
func (b Bucket) Validate() error {
	if strings.TrimSpace(b.ProjectID) == "" {
		return invalid("projectId", "must not be empty")
	}
	if strings.TrimSpace(b.Employee) == "" {
		return invalid("employee", "must not be empty")
	}
	if !validYear(b.Year) {
		return invalid("year", "must be a four digit year")
	}
	if !contains(Months, b.Month) {
		return invalid("month", "must be a calendar month name")
	}
	if !contains(Weeks, b.Week) {
		return invalid("week", "must be one of Week 1..Week 4")
	}
	if !contains(Weekdays, b.Day) {
		return invalid("day", "must be a weekday name")
	}
	return nil
}

// Collection is the storage collection holding the bucket's tasks:
// Tasks/{project}/{employee}/{year}/{month}/{week}/{day}.
func (b Bucket) Collection() Path {
	return CollectionPath(TasksCollection).
		Doc(b.ProjectID).Collection(b.Employee).
		Doc(b.Year).Collection(b.Month).
		Doc(b.Week).Collection(b.Day)
}

func (b Bucket) String() string { return b.Collection().String() }

func validYear(y string) bool {
	if len(y) != 4 {
		return false
	}
	for i := 0; i < len(y); i++ {
		if y[i] < '0' || y[i] > '9' {
			return false
		}
	}
	return true
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// TaskInput is one entry of an assignment batch.
type TaskInput struct {
	Description    string   `json:"description"`
	Category       Category `json:"category"`
	Type           TaskType `json:"type"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

func (in TaskInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if !validCategory(in.Category) {
		return invalid("category", "must be one of Delegate, Growth, Important, Not Important")
	}
	if !validTaskType(in.Type) {
		return invalid("type", "must be one of Call, Meeting, Physical Task")
	}
	return nil
}

func validCategory(c Category) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

func validTaskType(t TaskType) bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Task is a stored assignment.
type Task struct {
	ID          string   `json:"id"`
	Bucket      Bucket   `json:"bucket"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Type        TaskType `json:"type"`
	Status      Status   `json:"status"`
	AssignedAt  int64    `json:"assignedAt"`
	CompletedAt int64    `json:"completedAt,omitempty"`
}

// Completed reports whether the task reached its terminal state.
func (t Task) Completed() bool { return t.Status == StatusCompleted }

func taskFields(t Task) Fields {
	return Fields{
		fieldTaskDesc:   t.Description,
		fieldCategory:   string(t.Category),
		fieldType:       string(t.Type),
		fieldStatus:     int(t.Status),
		fieldAssignedAt: t.AssignedAt,
	}
}

func taskFromDocument(b Bucket, d Document) Task {
	return Task{
		ID:          d.ID(),
		Bucket:      b,
		Description: d.Fields.StringField(fieldTaskDesc),
		Category:    Category(d.Fields.StringField(fieldCategory)),
		Type:        TaskType(d.Fields.StringField(fieldType)),
		Status:      Status(d.Fields.IntField(fieldStatus)),
		AssignedAt:  d.Fields.IntField(fieldAssignedAt),
		CompletedAt: d.Fields.IntField(fieldCompletedAt),
	}
}
