package api

import "focusflow-api/domain"

// MaxBodySize caps request bodies.
const MaxBodySize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type projectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

type employeesRequest struct {
	Employees []string `json:"employees"`
}

type employeesResponse struct {
	Employees []string `json:"employees"`
}

type assignRequest struct {
	Tasks []domain.TaskInput `json:"tasks"`
}

// POST /tasks/... response body
type assignResponse struct {
	Results []domain.AssignOutcome `json:"results"`
	TaskIDs []string               `json:"taskIds"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// PATCH /tasks/.../:taskId body; only the completed status is accepted.
type completeRequest struct {
	Status *int `json:"status"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
