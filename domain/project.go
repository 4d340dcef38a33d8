package domain

import "strings"

// Project is an employer-owned unit of work with a roster of employees.
type Project struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Goal      string   `json:"goal"`
	Deadline  string   `json:"deadline"`
	Employees []string `json:"employees"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt int64    `json:"createdAt"`
}

// NewProject is the employer's submission.
type NewProject struct {
	Title     string   `json:"title"`
	Goal      string   `json:"goal"`
	Deadline  string   `json:"deadline"`
	Employees []string `json:"employees"`
	CreatedBy string   `json:"createdBy"`
}

// Stored field names, shared with the mobile client's documents.
const (
	fieldTitle       = "title"
	fieldGoal        = "goal"
	fieldDeadline    = "deadline"
	fieldEmployees   = "employees"
	fieldCreatedBy   = "createdBy"
	fieldCreatedAt   = "createdAt"
	fieldTaskDesc    = "taskDesc"
	fieldCategory    = "category"
	fieldType        = "type"
	fieldStatus      = "status"
	fieldAssignedAt  = "assignedAt"
	fieldCompletedAt = "completedAt"
)

// Index field names queried by the services. Backends use them to build indexes.
const (
	ProjectCreatedByField = fieldCreatedBy
	ProjectEmployeesField = fieldEmployees
)

func (in NewProject) normalize() (NewProject, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	if in.Title == "" {
		return in, invalid("title", "must not be empty")
	}
	if in.CreatedBy == "" {
		return in, invalid("createdBy", "must not be empty")
	}
	in.Employees = normalizeIdentities(in.Employees)
	return in, nil
}

// normalizeIdentities trims, drops empty values and de-duplicates while
// keeping first-seen order.
func normalizeIdentities(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func projectPath(id string) Path {
	return CollectionPath(ProjectsCollection).Doc(id)
}

func projectFields(p Project) Fields {
	return Fields{
		fieldTitle:     p.Title,
		fieldGoal:      p.Goal,
		fieldDeadline:  p.Deadline,
		fieldEmployees: append([]string(nil), p.Employees...),
		fieldCreatedBy: p.CreatedBy,
		fieldCreatedAt: p.CreatedAt,
	}
}

func projectFromDocument(d Document) Project {
	return Project{
		ID:        d.ID(),
		Title:     d.Fields.StringField(fieldTitle),
		Goal:      d.Fields.StringField(fieldGoal),
		Deadline:  d.Fields.StringField(fieldDeadline),
		Employees: d.Fields.StringsField(fieldEmployees),
		CreatedBy: d.Fields.StringField(fieldCreatedBy),
		CreatedAt: d.Fields.IntField(fieldCreatedAt),
	}
}

// HasEmployee reports whether identity is on the roster.
func (p Project) HasEmployee(identity string) bool {
	for _, e := range p.Employees {
		if e == identity {
			return true
		}
	}
	return false
}
