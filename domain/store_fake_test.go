package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// fakeStore is a flat map store keyed by Path.Key. The fail hook lets tests
// reject individual writes.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]Document
	fail func(op string, p Path) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]Document{}}
}

func (s *fakeStore) check(op string, p Path) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op, p)
}

func (s *fakeStore) Put(_ context.Context, p Path, f Fields) error {
	if err := s.check("put", p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[p.Key()] = Document{Path: p, Fields: CloneFields(f)}
	return nil
}

func (s *fakeStore) Create(_ context.Context, p Path, f Fields) error {
	if err := s.check("create", p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[p.Key()]; ok {
		return fmt.Errorf("%s: %w", p, ErrAlreadyExists)
	}
	s.docs[p.Key()] = Document{Path: p, Fields: CloneFields(f)}
	return nil
}

func (s *fakeStore) Get(_ context.Context, p Path) (Document, bool, error) {
	if err := s.check("get", p); err != nil {
		return Document{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[p.Key()]
	if !ok {
		return Document{}, false, nil
	}
	return Document{Path: d.Path, Fields: CloneFields(d.Fields)}, true, nil
}

func (s *fakeStore) filter(p Path, keep func(Fields) bool) ([]Document, error) {
	if err := s.check("list", p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := p.Key()
	out := []Document{}
	for _, d := range s.docs {
		if d.Path.Parent().Key() == parent && keep(d.Fields) {
			out = append(out, Document{Path: d.Path, Fields: CloneFields(d.Fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *fakeStore) List(_ context.Context, p Path) ([]Document, error) {
	return s.filter(p, func(Fields) bool { return true })
}

func (s *fakeStore) QueryByEquality(_ context.Context, p Path, field, value string) ([]Document, error) {
	return s.filter(p, func(f Fields) bool { return f.StringField(field) == value })
}

func (s *fakeStore) QueryByArrayMembership(_ context.Context, p Path, field, value string) ([]Document, error) {
	return s.filter(p, func(f Fields) bool {
		for _, v := range f.StringsField(field) {
			if v == value {
				return true
			}
		}
		return false
	})
}

func (s *fakeStore) UpdateIf(_ context.Context, p Path, cond Condition, f Fields) (Document, error) {
	if err := s.check("update", p); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[p.Key()]
	if !ok {
		return Document{}, ErrNotFound
	}
	if !cond.Matches(d.Fields) {
		return Document{}, ErrPreconditionFailed
	}
	for k, v := range f {
		d.Fields[k] = v
	}
	s.docs[p.Key()] = d
	return Document{Path: d.Path, Fields: CloneFields(d.Fields)}, nil
}

func (s *fakeStore) AddToSet(_ context.Context, p Path, field string, values []string) (Document, error) {
	if err := s.check("update", p); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[p.Key()]
	if !ok {
		return Document{}, ErrNotFound
	}
	d.Fields[field] = normalizeIdentities(append(d.Fields.StringsField(field), values...))
	s.docs[p.Key()] = d
	return Document{Path: d.Path, Fields: CloneFields(d.Fields)}, nil
}

type recordingRecorder struct {
	mu   sync.Mutex
	seen []Activity
}

func (r *recordingRecorder) Record(_ context.Context, a Activity) {
	r.mu.Lock()
	r.seen = append(r.seen, a)
	r.mu.Unlock()
}

func (r *recordingRecorder) kinds() []ActivityKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityKind, 0, len(r.seen))
	for _, a := range r.seen {
		out = append(out, a.Kind)
	}
	return out
}
