package domain

import (
	"errors"
	"net/url"
	"strings"
)

// Root collections.
const (
	ProjectsCollection = "Projects"
	TasksCollection    = "Tasks"
)

const keySeparator = "|"

var errInvalidPath = errors.New("invalid path")

// Path addresses a collection or a document. Segments alternate collection
// name and document id, so a document path has even length and a collection
// path odd length.
type Path []string

// CollectionPath builds a collection path from root to leaf collection.
func CollectionPath(segments ...string) Path {
	return append(Path(nil), segments...)
}

// Doc returns the document path for id inside collection p.
func (p Path) Doc(id string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// Collection returns the sub-collection path name under document p.
func (p Path) Collection(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, name)
}

// IsDocument reports whether p addresses a document.
func (p Path) IsDocument() bool { return len(p) > 0 && len(p)%2 == 0 }

// IsCollection reports whether p addresses a collection.
func (p Path) IsCollection() bool { return len(p)%2 == 1 }

// Root is the top level collection name.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// ID is the last segment of a document path.
func (p Path) ID() string {
	if !p.IsDocument() {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the collection containing document p.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return append(Path(nil), p[:len(p)-1]...)
}

// Validate checks that no segment is empty.
func (p Path) Validate() error {
	if len(p) == 0 {
		return errInvalidPath
	}
	for _, s := range p {
		if s == "" {
			return errInvalidPath
		}
	}
	return nil
}

// Key encodes p into a single string. Each segment is escaped, so keys are
// unambiguous and contain none of the characters table stores reject.
func (p Path) Key() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = EscapeSegment(s)
	}
	return strings.Join(parts, keySeparator)
}

func (p Path) String() string { return strings.Join(p, "/") }

// ParseKey reverses Key.
func ParseKey(key string) (Path, error) {
	if key == "" {
		return nil, errInvalidPath
	}
	parts := strings.Split(key, keySeparator)
	out := make(Path, len(parts))
	for i, part := range parts {
		s, err := url.PathUnescape(part)
		if err != nil {
			return nil, errInvalidPath
		}
		out[i] = s
	}
	return out, nil
}

// EscapeSegment escapes a single path segment for use inside a key.
func EscapeSegment(s string) string {
	return url.PathEscape(s)
}
