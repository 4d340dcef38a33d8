package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"focusflow-api/domain"
)

const bucketRoute = "/tasks/:projectId/:employee/:year/:month/:week/:day"

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	h := handlers{svc: svc, log: logger}

	e.POST("/projects", h.instrument("projects.create", "/projects", h.createProject))
	e.GET("/projects", h.instrument("projects.list", "/projects", h.listProjects))
	e.GET("/projects/:id", h.instrument("projects.get", "/projects/:id", h.getProject))
	e.GET("/projects/:id/employees", h.instrument("projects.employees.list", "/projects/:id/employees", h.listEmployees))
	e.POST("/projects/:id/employees", h.instrument("projects.employees.add", "/projects/:id/employees", h.addEmployees))

	e.POST(bucketRoute, h.instrument("tasks.assign", bucketRoute, h.assignTasks))
	e.GET(bucketRoute, h.instrument("tasks.list", bucketRoute, h.listTasks))
	e.GET(bucketRoute+"/:taskId", h.instrument("tasks.get", bucketRoute+"/:taskId", h.getTask))
	e.PATCH(bucketRoute+"/:taskId", h.instrument("tasks.complete", bucketRoute+"/:taskId", h.completeTask))

	e.GET("/healthz", h.healthz)
}

type handlers struct {
	svc Services
	log *log.Logger
}

type instrumentedHandler func(c echo.Context, m *requestMetrics) error

// instrument opens the request span and emits the observability event once
// the handler has written its response.
func (h handlers) instrument(event, route string, next instrumentedHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), h.log, event, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			cause := err
			if cause == nil {
				cause = m.cause
			}
			m.Log(c.Response().Status, cause)
		}()
		return next(c, m)
	}
}

// respond encodes body with status and records the encode time.
func respond(c echo.Context, m *requestMetrics, status int, body any) error {
	start := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

var errEmptyBody = errors.New("empty body")

// decodeBody reads a size-limited JSON body that must not carry unknown
// fields.
func decodeBody(c echo.Context, m *requestMetrics, v any) error {
	start := time.Now()
	defer func() { m.ObserveDecode(time.Since(start)) }()
	if c.Request().Body == nil {
		return errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// param returns a path parameter, unescaped when the router matched on the
// raw path.
func param(c echo.Context, name string) (string, error) {
	v := c.Param(name)
	if c.Request().URL.RawPath == "" {
		return v, nil
	}
	out, err := url.PathUnescape(v)
	if err != nil {
		return "", &domain.ValidationError{Field: name, Reason: "invalid escape sequence"}
	}
	return out, nil
}

func bucketParams(c echo.Context) (domain.Bucket, error) {
	names := []string{"projectId", "employee", "year", "month", "week", "day"}
	vals := make([]string, len(names))
	for i, n := range names {
		v, err := param(c, n)
		if err != nil {
			return domain.Bucket{}, err
		}
		vals[i] = v
	}
	return domain.Bucket{
		ProjectID: vals[0],
		Employee:  vals[1],
		Year:      vals[2],
		Month:     vals[3],
		Week:      vals[4],
		Day:       vals[5],
	}, nil
}

func (h handlers) createProject(c echo.Context, m *requestMetrics) error {
	var in domain.NewProject
	if err := decodeBody(c, m, &in); err != nil {
		return badRequest(c, m, "decode", "invalid body")
	}
	start := time.Now()
	p, err := h.svc.Projects.CreateProject(c.Request().Context(), in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	m.SetItems(1)
	return respond(c, m, http.StatusCreated, p)
}

func (h handlers) listProjects(c echo.Context, m *requestMetrics) error {
	createdBy := strings.TrimSpace(c.QueryParam("createdBy"))
	member := strings.TrimSpace(c.QueryParam("member"))
	if (createdBy == "") == (member == "") {
		return badRequest(c, m, "query", "exactly one of createdBy or member is required")
	}
	ctx := c.Request().Context()
	start := time.Now()
	var (
		projects []domain.Project
		err      error
	)
	if createdBy != "" {
		projects, err = h.svc.Projects.ListProjectsCreatedBy(ctx, createdBy)
	} else {
		projects, err = h.svc.Projects.ListProjectsForEmployee(ctx, member)
	}
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	m.SetItems(len(projects))
	return respond(c, m, http.StatusOK, projectsResponse{Projects: projects})
}

func (h handlers) getProject(c echo.Context, m *requestMetrics) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, m, "params", err)
	}
	start := time.Now()
	p, err := h.svc.Projects.GetProject(c.Request().Context(), id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	return respond(c, m, http.StatusOK, p)
}

func (h handlers) listEmployees(c echo.Context, m *requestMetrics) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, m, "params", err)
	}
	start := time.Now()
	employees, err := h.svc.Projects.ListEmployees(c.Request().Context(), id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	if employees == nil {
		employees = []string{}
	}
	m.SetItems(len(employees))
	return respond(c, m, http.StatusOK, employeesResponse{Employees: employees})
}

func (h handlers) addEmployees(c echo.Context, m *requestMetrics) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, m, "params", err)
	}
	var req employeesRequest
	if err := decodeBody(c, m, &req); err != nil {
		return badRequest(c, m, "decode", "invalid body")
	}
	m.SetItems(len(req.Employees))
	start := time.Now()
	p, err := h.svc.Projects.AddEmployees(c.Request().Context(), id, req.Employees)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	return respond(c, m, http.StatusOK, p)
}

func (h handlers) assignTasks(c echo.Context, m *requestMetrics) error {
	b, err := bucketParams(c)
	if err != nil {
		return writeError(c, m, "params", err)
	}
	var req assignRequest
	if err := decodeBody(c, m, &req); err != nil {
		return badRequest(c, m, "decode", "invalid body")
	}
	m.SetItems(len(req.Tasks))
	start := time.Now()
	res, err := h.svc.Tasks.AssignTasks(c.Request().Context(), b, req.Tasks)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}

	body := assignResponse{Results: res.Results, TaskIDs: res.TaskIDs()}
	if body.Results == nil {
		body.Results = []domain.AssignOutcome{}
	}
	status := http.StatusCreated
	switch ok := res.Succeeded(); {
	case ok == len(res.Results):
	case ok > 0:
		status = http.StatusMultiStatus
		m.SetErrorStage("partial")
	default:
		cause := firstFailure(res)
		status = statusFor(cause)
		if status < http.StatusInternalServerError {
			status = http.StatusInternalServerError
		}
		m.SetErrorStage("store")
		m.SetCause(cause)
		body.Error = publicMessage(cause)
		body.Code = domain.ErrorCode(cause)
		if status == http.StatusInternalServerError {
			body.Code = "internal"
		}
	}
	return respond(c, m, status, body)
}

// firstFailure prefers a storage outage over other write errors so a batch
// that failed entirely is reported as retryable when it is.
func firstFailure(res domain.AssignResult) error {
	var first error
	for _, o := range res.Results {
		if o.OK {
			continue
		}
		err := o.Err()
		if err == nil {
			err = errors.New(o.Message)
		}
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		first = errors.New("no task was written")
	}
	return first
}

func (h handlers) listTasks(c echo.Context, m *requestMetrics) error {
	b, err := bucketParams(c)
	if err != nil {
		return writeError(c, m, "params", err)
	}
	start := time.Now()
	tasks, err := h.svc.Tasks.ListTasks(c.Request().Context(), b)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	m.SetItems(len(tasks))
	return respond(c, m, http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h handlers) getTask(c echo.Context, m *requestMetrics) error {
	b, err := bucketParams(c)
	if err != nil {
		return writeError(c, m, "params", err)
	}
	taskID, err := param(c, "taskId")
	if err != nil {
		return writeError(c, m, "params", err)
	}
	start := time.Now()
	t, err := h.svc.Tasks.GetTask(c.Request().Context(), b, taskID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	return respond(c, m, http.StatusOK, t)
}

func (h handlers) completeTask(c echo.Context, m *requestMetrics) error {
	b, err := bucketParams(c)
	if err != nil {
		return writeError(c, m, "params", err)
	}
	taskID, err := param(c, "taskId")
	if err != nil {
		return writeError(c, m, "params", err)
	}
	var req completeRequest
	if err := decodeBody(c, m, &req); err != nil && !errors.Is(err, errEmptyBody) {
		return badRequest(c, m, "decode", "invalid body")
	}
	if req.Status != nil && domain.Status(*req.Status) != domain.StatusCompleted {
		return writeError(c, m, "decode", &domain.ValidationError{Field: "status", Reason: "only the completed status (1) can be set"})
	}
	start := time.Now()
	t, err := h.svc.Tasks.CompleteTask(c.Request().Context(), b, taskID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, "store", err)
	}
	return respond(c, m, http.StatusOK, t)
}

func (h handlers) healthz(c echo.Context) error {
	if h.svc.Health != nil {
		if err := h.svc.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		}
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
