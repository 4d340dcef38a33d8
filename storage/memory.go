package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"focusflow-api/domain"
)

// collection is one level of the document tree. Documents own their
// sub-collections, mirroring the document database the client was built on.
type collection struct {
	docs map[string]*memDoc
}

type memDoc struct {
	fields domain.Fields
	subs   map[string]*collection
	// exists is false for documents that only anchor sub-collections,
	// e.g. a year created by writing a task under it.
	exists bool
}

// Memory is an in-process Store. Writes create every missing intermediate
// collection and anchor document on the way down.
type Memory struct {
	mu    sync.RWMutex
	roots map[string]*collection
}

func NewMemory() *Memory {
	return &Memory{roots: map[string]*collection{}}
}

func newCollection() *collection { return &collection{docs: map[string]*memDoc{}} }

// lookupCollection walks to a collection without creating anything.
func (m *Memory) lookupCollection(p domain.Path) *collection {
	c, ok := m.roots[p[0]]
	if !ok {
		return nil
	}
	for i := 1; i+1 < len(p); i += 2 {
		d, ok := c.docs[p[i]]
		if !ok || d.subs == nil {
			return nil
		}
		c, ok = d.subs[p[i+1]]
		if !ok {
			return nil
		}
	}
	return c
}

// ensureCollection walks to a collection, creating missing levels.
func (m *Memory) ensureCollection(p domain.Path) *collection {
	c, ok := m.roots[p[0]]
	if !ok {
		c = newCollection()
		m.roots[p[0]] = c
	}
	for i := 1; i+1 < len(p); i += 2 {
		d, ok := c.docs[p[i]]
		if !ok {
			d = &memDoc{}
			c.docs[p[i]] = d
		}
		if d.subs == nil {
			d.subs = map[string]*collection{}
		}
		next, ok := d.subs[p[i+1]]
		if !ok {
			next = newCollection()
			d.subs[p[i+1]] = next
		}
		c = next
	}
	return c
}

func (m *Memory) lookupDoc(p domain.Path) *memDoc {
	c := m.lookupCollection(p.Parent())
	if c == nil {
		return nil
	}
	d, ok := c.docs[p.ID()]
	if !ok || !d.exists {
		return nil
	}
	return d
}

func checkDocPath(p domain.Path) error {
	if err := p.Validate(); err != nil || !p.IsDocument() {
		return fmt.Errorf("%w: %q is not a document path", domain.ErrValidation, p.String())
	}
	return nil
}

func checkCollectionPath(p domain.Path) error {
	if err := p.Validate(); err != nil || !p.IsCollection() {
		return fmt.Errorf("%w: %q is not a collection path", domain.ErrValidation, p.String())
	}
	return nil
}

func (m *Memory) write(p domain.Path, f domain.Fields, create bool) error {
	if err := checkDocPath(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.ensureCollection(p.Parent())
	d, ok := c.docs[p.ID()]
	if !ok {
		d = &memDoc{}
		c.docs[p.ID()] = d
	}
	if create && d.exists {
		return fmt.Errorf("%s: %w", p, domain.ErrAlreadyExists)
	}
	d.fields = domain.CloneFields(f)
	d.exists = true
	return nil
}

func (m *Memory) Put(_ context.Context, p domain.Path, f domain.Fields) error {
	return m.write(p, f, false)
}

func (m *Memory) Create(_ context.Context, p domain.Path, f domain.Fields) error {
	return m.write(p, f, true)
}

func (m *Memory) Get(_ context.Context, p domain.Path) (domain.Document, bool, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.lookupDoc(p)
	if d == nil {
		return domain.Document{}, false, nil
	}
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: domain.CloneFields(d.fields)}, true, nil
}

func (m *Memory) scan(p domain.Path, keep func(domain.Fields) bool) ([]domain.Document, error) {
	if err := checkCollectionPath(p); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Document{}
	c := m.lookupCollection(p)
	if c == nil {
		return out, nil
	}
	ids := make([]string, 0, len(c.docs))
	for id, d := range c.docs {
		if d.exists && keep(d.fields) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, domain.Document{Path: p.Doc(id), Fields: domain.CloneFields(c.docs[id].fields)})
	}
	return out, nil
}

func (m *Memory) List(_ context.Context, p domain.Path) ([]domain.Document, error) {
	return m.scan(p, func(domain.Fields) bool { return true })
}

func (m *Memory) QueryByEquality(_ context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return m.scan(p, func(f domain.Fields) bool {
		s, ok := f[field].(string)
		return ok && s == value
	})
}

func (m *Memory) QueryByArrayMembership(_ context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return m.scan(p, func(f domain.Fields) bool {
		for _, v := range f.StringsField(field) {
			if v == value {
				return true
			}
		}
		return false
	})
}

func (m *Memory) UpdateIf(_ context.Context, p domain.Path, cond domain.Condition, f domain.Fields) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.lookupDoc(p)
	if d == nil {
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
	}
	if !cond.Matches(d.fields) {
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrPreconditionFailed)
	}
	for k, v := range domain.CloneFields(f) {
		d.fields[k] = v
	}
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: domain.CloneFields(d.fields)}, nil
}

func (m *Memory) AddToSet(_ context.Context, p domain.Path, field string, values []string) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.lookupDoc(p)
	if d == nil {
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
	}
	d.fields[field] = union(d.fields.StringsField(field), values)
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: domain.CloneFields(d.fields)}, nil
}

// union appends the values missing from current, keeping order.
func union(current, values []string) []string {
	seen := make(map[string]struct{}, len(current)+len(values))
	out := make([]string, 0, len(current)+len(values))
	for _, v := range append(append([]string(nil), current...), values...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
