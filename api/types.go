package api

import (
	"context"

	"focusflow-api/domain"
)

// ProjectService is the project surface the handlers depend on.
type ProjectService interface {
	CreateProject(ctx context.Context, in domain.NewProject) (domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjectsCreatedBy(ctx context.Context, identity string) ([]domain.Project, error)
	ListProjectsForEmployee(ctx context.Context, identity string) ([]domain.Project, error)
	ListEmployees(ctx context.Context, id string) ([]string, error)
	AddEmployees(ctx context.Context, id string, identities []string) (domain.Project, error)
}

// TaskService is the task surface the handlers depend on.
type TaskService interface {
	AssignTasks(ctx context.Context, b domain.Bucket, tasks []domain.TaskInput) (domain.AssignResult, error)
	ListTasks(ctx context.Context, b domain.Bucket) ([]domain.Task, error)
	GetTask(ctx context.Context, b domain.Bucket, taskID string) (domain.Task, error)
	CompleteTask(ctx context.Context, b domain.Bucket, taskID string) (domain.Task, error)
}

// HealthCheck reports whether the service can reach its dependencies.
type HealthCheck func(ctx context.Context) error

// Services bundles what Register needs.
type Services struct {
	Projects ProjectService
	Tasks    TaskService
	Health   HealthCheck
}
