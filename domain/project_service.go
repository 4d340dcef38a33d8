package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ProjectService creates projects and lists them by owner or member.
// It holds no state between calls.
type ProjectService struct {
	st       Store
	activity ActivityRecorder
	log      *log.Logger
}

// NewProjectService builds a ProjectService. A nil recorder drops activity
// records and a nil logger falls back to the standard logrus logger.
func NewProjectService(st Store, activity ActivityRecorder, logger *log.Logger) ProjectService {
	if activity == nil {
		activity = nopRecorder{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return ProjectService{st: st, activity: activity, log: logger}
}

// CreateProject validates the submission, stores it under a fresh id and
// returns the stored project.
func (s ProjectService) CreateProject(ctx context.Context, in NewProject) (Project, error) {
	in, err := in.normalize()
	if err != nil {
		return Project{}, err
	}
	p := Project{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Goal:      in.Goal,
		Deadline:  in.Deadline,
		Employees: in.Employees,
		CreatedBy: in.CreatedBy,
		CreatedAt: nextTimestamp(),
	}
	if err := s.st.Create(ctx, projectPath(p.ID), projectFields(p)); err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	s.log.WithFields(log.Fields{"project": p.ID, "createdBy": p.CreatedBy, "employees": len(p.Employees)}).Info("project created")
	s.activity.Record(ctx, Activity{
		Kind:       ActivityProjectCreated,
		ProjectID:  p.ID,
		Actor:      p.CreatedBy,
		Employees:  p.Employees,
		OccurredAt: p.CreatedAt,
	})
	return p, nil
}

// GetProject returns the project or ErrNotFound.
func (s ProjectService) GetProject(ctx context.Context, id string) (Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Project{}, invalid("id", "must not be empty")
	}
	doc, found, err := s.st.Get(ctx, projectPath(id))
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	if !found {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return projectFromDocument(doc), nil
}

// ListProjectsCreatedBy returns the projects owned by identity.
func (s ProjectService) ListProjectsCreatedBy(ctx context.Context, identity string) ([]Project, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, invalid("createdBy", "must not be empty")
	}
	docs, err := s.st.QueryByEquality(ctx, CollectionPath(ProjectsCollection), fieldCreatedBy, identity)
	if err != nil {
		return nil, fmt.Errorf("list projects created by %s: %w", identity, err)
	}
	return projectsFromDocuments(docs), nil
}

// ListProjectsForEmployee returns the projects whose roster contains identity.
func (s ProjectService) ListProjectsForEmployee(ctx context.Context, identity string) ([]Project, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, invalid("member", "must not be empty")
	}
	docs, err := s.st.QueryByArrayMembership(ctx, CollectionPath(ProjectsCollection), fieldEmployees, identity)
	if err != nil {
		return nil, fmt.Errorf("list projects for %s: %w", identity, err)
	}
	return projectsFromDocuments(docs), nil
}

// ListEmployees returns the project's roster.
func (s ProjectService) ListEmployees(ctx context.Context, id string) ([]string, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Employees, nil
}

// AddEmployees merges identities into the roster. Concurrent calls never lose
// each other's additions and existing members are never removed.
func (s ProjectService) AddEmployees(ctx context.Context, id string, identities []string) (Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Project{}, invalid("id", "must not be empty")
	}
	identities = normalizeIdentities(identities)
	if len(identities) == 0 {
		return Project{}, invalid("employees", "must contain at least one identity")
	}
	doc, err := s.st.AddToSet(ctx, projectPath(id), fieldEmployees, identities)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return Project{}, fmt.Errorf("add employees to %s: %w", id, err)
	}
	p := projectFromDocument(doc)
	s.log.WithFields(log.Fields{"project": id, "added": len(identities)}).Info("project employees added")
	s.activity.Record(ctx, Activity{
		Kind:       ActivityEmployeesAdded,
		ProjectID:  id,
		Employees:  identities,
		OccurredAt: nextTimestamp(),
	})
	return p, nil
}

func projectsFromDocuments(docs []Document) []Project {
	out := make([]Project, 0, len(docs))
	for _, d := range docs {
		out = append(out, projectFromDocument(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
