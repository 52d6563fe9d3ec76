package dagrun

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// OnMissing controls what Reference.Resolve does when the referenced
// (uuid, index) has no output document in the store.
type OnMissing int

const (
	// OnMissingFail raises a ReferenceResolutionFailure.
	OnMissingFail OnMissing = iota
	// OnMissingPassThrough returns the unresolved Reference itself.
	OnMissingPassThrough
	// OnMissingNone returns a nil value.
	OnMissingNone
)

func (m OnMissing) String() string {
	switch m {
	case OnMissingFail:
		return "fail"
	case OnMissingPassThrough:
		return "pass_through"
	case OnMissingNone:
		return "none"
	default:
		return "unknown"
	}
}

// SelectorKind distinguishes the two selector forms a Reference path can
// carry.
type SelectorKind int

const (
	SelectorAttr SelectorKind = iota
	SelectorItem
)

// Selector is one hop of a Reference's path: either a named attribute or
// an indexed/keyed item.
type Selector struct {
	Kind SelectorKind
	Attr string
	Item any
}

func (s Selector) String() string {
	if s.Kind == SelectorAttr {
		return "." + s.Attr
	}
	return fmt.Sprintf("[%v]", s.Item)
}

// Reference is a symbolic, resolvable handle to the output of a Job
// identified by (uuid, iteration), optionally narrowed by a selector
// path into that output. References are immutable value types: every
// selector operation returns a new Reference, never a resolved value.
type Reference struct {
	UUID      uuid.UUID
	Iteration int
	Path      []Selector
}

// NewReference builds the canonical (un-selected) Reference to a Job's
// output at the given iteration.
func NewReference(id uuid.UUID, iteration int) Reference {
	return Reference{UUID: id, Iteration: iteration}
}

// Attr returns a new Reference that additionally selects a named
// attribute of the resolved value.
func (r Reference) Attr(name string) Reference {
	return r.appendSelector(Selector{Kind: SelectorAttr, Attr: name})
}

// Item returns a new Reference that additionally selects an index or
// key of the resolved value.
func (r Reference) Item(key any) Reference {
	return r.appendSelector(Selector{Kind: SelectorItem, Item: key})
}

func (r Reference) appendSelector(s Selector) Reference {
	path := make([]Selector, len(r.Path)+1)
	copy(path, r.Path)
	path[len(r.Path)] = s
	return Reference{UUID: r.UUID, Iteration: r.Iteration, Path: path}
}

// SetUUID returns a copy of r with its uuid replaced; iteration and path
// are kept.
func (r Reference) SetUUID(newUUID uuid.UUID) Reference {
	return Reference{UUID: newUUID, Iteration: r.Iteration, Path: append([]Selector{}, r.Path...)}
}

// Equal reports whether two References carry the same uuid, iteration
// and path.
func (r Reference) Equal(other Reference) bool {
	if r.UUID != other.UUID || r.Iteration != other.Iteration || len(r.Path) != len(other.Path) {
		return false
	}
	for i := range r.Path {
		if r.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

func (r Reference) String() string {
	s := r.UUID.String()
	for _, sel := range r.Path {
		s += sel.String()
	}
	return s
}

// applySelector walks one path hop of a resolved value. Attribute
// selectors try mapping-key lookup first, then struct field access by
// reflection. Item selectors accept ordered-sequence indices (negative
// allowed) and mapping keys.
func applySelector(val any, sel Selector) (any, error) {
	switch sel.Kind {
	case SelectorAttr:
		if m, ok := val.(map[string]any); ok {
			v, ok := m[sel.Attr]
			if !ok {
				return nil, fmt.Errorf("attribute %q not found", sel.Attr)
			}
			return v, nil
		}
		rv := reflect.ValueOf(val)
		for rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Struct {
			fv := rv.FieldByName(sel.Attr)
			if fv.IsValid() {
				return fv.Interface(), nil
			}
		}
		return nil, fmt.Errorf("cannot select attribute %q on %T", sel.Attr, val)
	case SelectorItem:
		switch seq := val.(type) {
		case []any:
			idx, ok := toInt(sel.Item)
			if !ok {
				return nil, fmt.Errorf("item selector %v is not an index", sel.Item)
			}
			if idx < 0 {
				idx += len(seq)
			}
			if idx < 0 || idx >= len(seq) {
				return nil, fmt.Errorf("index %v out of range", sel.Item)
			}
			return seq[idx], nil
		case map[string]any:
			key := fmt.Sprintf("%v", sel.Item)
			v, ok := seq[key]
			if !ok {
				return nil, fmt.Errorf("key %v not found", sel.Item)
			}
			return v, nil
		default:
			return nil, fmt.Errorf("cannot select item %v on %T", sel.Item, val)
		}
	default:
		return nil, fmt.Errorf("unknown selector kind %d", sel.Kind)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// walkReferences recursively substitutes every Reference found inside
// an arbitrary nested structure (maps, slices) with its resolved value,
// honouring onMissing for each individual Reference encountered.
func walkReferences(resolve func(Reference) (any, error), v any) (any, error) {
	switch x := v.(type) {
	case Reference:
		return resolve(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, sub := range x {
			rv, err := walkReferences(resolve, sub)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, sub := range x {
			rv, err := walkReferences(resolve, sub)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// collectReferences gathers every Reference reachable inside an
// arbitrary nested structure, used by Flow for dependency discovery.
func collectReferences(v any, into *[]Reference) {
	switch x := v.(type) {
	case Reference:
		*into = append(*into, x)
	case map[string]any:
		for _, sub := range x {
			collectReferences(sub, into)
		}
	case []any:
		for _, sub := range x {
			collectReferences(sub, into)
		}
	}
}
