// Package labels implements the label class map: a bijection between class
// names and the dense output indices of a classifier head.
package labels

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Errors returned by ClassMap constructors and mutations.
var (
	ErrNotContiguous  = errors.New("label class indices are not contiguous")
	ErrDuplicateClass = errors.New("duplicate label class")
	ErrUnknownClass   = errors.New("unknown label class")
	ErrClassExists    = errors.New("label class already present")
)

// ClassMap maps class names to indices in [0, N).
//
// A ClassMap is immutable: Append and Remove return new maps. The zero value
// is an empty map.
type ClassMap struct {
	index map[string]int
	names []string // names[i] is the class with index i
}

// New builds a ClassMap from a name -> index mapping, rejecting gaps and
// duplicate indices.
func New(m map[string]int) (*ClassMap, error) {
	names := make([]string, len(m))
	seen := make([]bool, len(m))
	for name, idx := range m {
		if idx < 0 || idx >= len(m) {
			return nil, errors.Wrapf(ErrNotContiguous, "class %q has index %d, want [0, %d)", name, idx, len(m))
		}
		if seen[idx] {
			return nil, errors.Wrapf(ErrNotContiguous, "index %d assigned twice", idx)
		}
		seen[idx] = true
		names[idx] = name
	}
	return fromOrdered(names), nil
}

// FromNames assigns indices to names in the given order.
func FromNames(names []string) (*ClassMap, error) {
	if err := CheckUnique(names); err != nil {
		return nil, err
	}
	ordered := make([]string, len(names))
	copy(ordered, names)
	return fromOrdered(ordered), nil
}

// MustFromNames is like FromNames but panics on error.
func MustFromNames(names ...string) *ClassMap {
	m, err := FromNames(names)
	if err != nil {
		panic(err)
	}
	return m
}

// CheckUnique returns ErrDuplicateClass if a name occurs more than once.
func CheckUnique(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			return errors.Wrapf(ErrDuplicateClass, "%q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func fromOrdered(names []string) *ClassMap {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return &ClassMap{index: index, names: names}
}

// Len returns the number of classes.
func (m *ClassMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Index returns the index of a class.
func (m *ClassMap) Index(name string) (int, bool) {
	if m == nil {
		return 0, false
	}
	idx, ok := m.index[name]
	return idx, ok
}

// Has reports whether the class is present.
func (m *ClassMap) Has(name string) bool {
	_, ok := m.Index(name)
	return ok
}

// Name returns the class at index i.
func (m *ClassMap) Name(i int) string {
	return m.names[i]
}

// Names returns class names ordered by index.
func (m *ClassMap) Names() []string {
	out := make([]string, m.Len())
	if m != nil {
		copy(out, m.names)
	}
	return out
}

// Map returns a copy of the name -> index mapping.
func (m *ClassMap) Map() map[string]int {
	out := make(map[string]int, m.Len())
	if m != nil {
		for name, idx := range m.index {
			out[name] = idx
		}
	}
	return out
}

// Clone returns an independent copy.
func (m *ClassMap) Clone() *ClassMap {
	return fromOrdered(m.Names())
}

// Equal reports whether both maps assign the same index to the same names.
func (m *ClassMap) Equal(other *ClassMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i := 0; i < m.Len(); i++ {
		if m.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// Append returns a new map with name assigned the next free index.
func (m *ClassMap) Append(name string) (*ClassMap, error) {
	if m.Has(name) {
		return nil, errors.Wrapf(ErrClassExists, "%q", name)
	}
	names := append(m.Names(), name)
	return fromOrdered(names), nil
}

// Remove returns a new map without name, where every class whose index was
// greater than the removed one moves down by one. The removed index is
// returned as well.
func (m *ClassMap) Remove(name string) (*ClassMap, int, error) {
	idx, ok := m.Index(name)
	if !ok {
		return nil, 0, errors.Wrapf(ErrUnknownClass, "%q", name)
	}
	names := make([]string, 0, m.Len()-1)
	names = append(names, m.names[:idx]...)
	names = append(names, m.names[idx+1:]...)
	return fromOrdered(names), idx, nil
}

// Diff compares the map against a target class set. missing holds target
// classes absent from the map; obsolete holds mapped classes absent from the
// target. Both are sorted so that callers process them deterministically.
func (m *ClassMap) Diff(target []string) (missing, obsolete []string) {
	want := make(map[string]struct{}, len(target))
	for _, name := range target {
		want[name] = struct{}{}
		if !m.Has(name) {
			missing = append(missing, name)
		}
	}
	for _, name := range m.Names() {
		if _, ok := want[name]; !ok {
			obsolete = append(obsolete, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(obsolete)
	return missing, obsolete
}

// Validate checks the contiguity invariant.
func (m *ClassMap) Validate() error {
	if m == nil {
		return nil
	}
	if len(m.names) != len(m.index) {
		return errors.Wrapf(ErrNotContiguous, "%d names but %d indices", len(m.names), len(m.index))
	}
	for i, name := range m.names {
		if m.index[name] != i {
			return errors.Wrapf(ErrNotContiguous, "class %q: index %d, position %d", name, m.index[name], i)
		}
	}
	return nil
}

// MarshalJSON encodes the map as a JSON object of name -> index.
func (m *ClassMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// UnmarshalJSON decodes a JSON object of name -> index and validates it.
func (m *ClassMap) UnmarshalJSON(b []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := New(raw)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
