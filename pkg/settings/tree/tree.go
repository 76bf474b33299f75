// Package tree holds the JSON-shaped value trees settings are stored in and
// the key paths that address them.
//
// A tree is a map[string]any whose values are JSON-compatible: nil, bool,
// float64, string, []any or map[string]any. Normalize converts arbitrary Go
// values into that shape.
package tree

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

// Path addresses a value in a tree, one segment per map level.
type Path []string

// ParsePath splits a dotted key. Empty segments are dropped.
func ParsePath(key string) Path {
	return lo.Filter(strings.Split(key, "."), func(s string, _ int) bool { return s != "" })
}

// PathOf builds a path from string and integer segments.
func PathOf(segments ...any) Path {
	p := make(Path, 0, len(segments))
	for _, s := range segments {
		switch v := s.(type) {
		case string:
			p = append(p, ParsePath(v)...)
		case int:
			p = append(p, strconv.Itoa(v))
		case Path:
			p = append(p, v...)
		}
	}
	return p
}

// String joins the path with dots.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	return p.HasPrefix(o)
}

// HasPrefix reports whether p starts with prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Child returns a new path with the segments appended.
func (p Path) Child(segments ...string) Path {
	out := make(Path, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

// Normalize converts v into its JSON-compatible form, deep-copying
// containers along the way. Values that cannot be encoded become nil.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return t
	}
}

// CloneMap deep-copies a tree. A nil tree yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}

// Equal compares two normalized values deeply.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// IsObject reports whether v is a nested tree.
func IsObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// Get resolves p inside m. Array elements are addressed by index segments.
func Get(m map[string]any, p Path) (any, bool) {
	if len(p) == 0 {
		return m, m != nil
	}
	var cur any = m
	for _, seg := range p {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at p inside m, creating intermediate maps and replacing any
// non-map value standing in the way.
func Set(m map[string]any, p Path, v any) {
	if len(p) == 0 {
		return
	}
	cur := m
	for _, seg := range p[:len(p)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[p[len(p)-1]] = v
}

// Delete removes p from m and prunes maps left empty by the removal. It
// reports whether anything was removed.
func Delete(m map[string]any, p Path) bool {
	if len(p) == 0 {
		return false
	}
	if len(p) == 1 {
		_, ok := m[p[0]]
		delete(m, p[0])
		return ok
	}
	child, ok := m[p[0]].(map[string]any)
	if !ok {
		return false
	}
	removed := Delete(child, p[1:])
	if removed && len(child) == 0 {
		delete(m, p[0])
	}
	return removed
}

// Merge deep-merges src into dst. Values in src win; nested maps merge.
func Merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				Merge(dm, sm)
				continue
			}
			dst[k] = Clone(sm)
			continue
		}
		dst[k] = Clone(v)
	}
}

// Leaves returns the paths of every non-map value below base in v, sorted.
// Empty maps and non-map values count as leaves.
func Leaves(base Path, v any) []Path {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		if v == nil && !ok {
			return nil
		}
		return []Path{base.Child()}
	}

	keys := lo.Keys(m)
	sort.Strings(keys)

	var out []Path
	for _, k := range keys {
		out = append(out, Leaves(base.Child(k), m[k])...)
	}
	return out
}

// Flatten turns a tree into dotted leaf keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	for _, p := range Leaves(nil, m) {
		if len(p) == 0 {
			continue
		}
		v, _ := Get(m, p)
		out[p.String()] = Clone(v)
	}
	return out
}

// Unflatten rebuilds a tree from dotted leaf keys.
func Unflatten(flat map[string]any) map[string]any {
	keys := lo.Keys(flat)
	sort.Strings(keys)

	out := make(map[string]any)
	for _, k := range keys {
		Set(out, ParsePath(k), Clone(flat[k]))
	}
	return out
}

// Removed returns the leaves present under p in oldVal but absent in newVal.
// Storages that can only insert need these deleted explicitly.
func Removed(p Path, oldVal, newVal any) []Path {
	if oldVal == nil {
		return nil
	}
	keep := make(map[string]struct{})
	for _, l := range Leaves(p, newVal) {
		keep[l.String()] = struct{}{}
	}
	return lo.Filter(Leaves(p, oldVal), func(l Path, _ int) bool {
		_, ok := keep[l.String()]
		return !ok
	})
}
