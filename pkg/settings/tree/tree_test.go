package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePath(t *testing.T) {
	assert.Equal(t, Path{"a", "b", "c"}, ParsePath("a.b.c"))
	assert.Equal(t, Path{"a", "c"}, ParsePath("a..c."))
	assert.Empty(t, ParsePath(""))
	assert.Equal(t, Path{"layers", "2", "name"}, PathOf("layers", 2, "name"))
	assert.Equal(t, "a.b", Path{"a", "b"}.String())
	assert.True(t, Path{"a", "b"}.Equal(ParsePath("a.b")))
	assert.False(t, Path{"a", "b"}.Equal(Path{"a"}))
	assert.True(t, Path{"a", "b", "c"}.HasPrefix(Path{"a", "b"}))
}

func TestNormalize(t *testing.T) {
	type point struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}

	assert.Equal(t, 3.0, Normalize(3))
	assert.Equal(t, "x", Normalize("x"))
	assert.Equal(t, []any{1.0, "two"}, Normalize([]any{1, "two"}))
	assert.Equal(t, map[string]any{"lat": 1.5, "lon": 2.5}, Normalize(point{1.5, 2.5}))
	assert.Nil(t, Normalize(make(chan int)))
}

func TestGetSetDelete(t *testing.T) {
	m := map[string]any{}
	Set(m, ParsePath("a.b.c"), 1.0)
	Set(m, ParsePath("a.d"), []any{"x", "y"})

	v, ok := Get(m, ParsePath("a.b.c"))
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = Get(m, ParsePath("a.d.1"))
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = Get(m, ParsePath("a.d.7"))
	assert.False(t, ok)
	_, ok = Get(m, ParsePath("a.b.c.d"))
	assert.False(t, ok)

	// replacing a scalar with a subtree
	Set(m, ParsePath("a.b.c.e"), true)
	v, _ = Get(m, ParsePath("a.b.c"))
	assert.Equal(t, map[string]any{"e": true}, v)

	assert.True(t, Delete(m, ParsePath("a.b.c.e")))
	_, ok = Get(m, ParsePath("a.b"))
	assert.False(t, ok, "empty parents are pruned")
	assert.False(t, Delete(m, ParsePath("nope.x")))
}

func TestMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}, "b": "keep"}
	src := map[string]any{"a": map[string]any{"y": 3.0, "z": 4.0}, "c": []any{1.0}}

	Merge(dst, src)

	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1.0, "y": 3.0, "z": 4.0},
		"b": "keep",
		"c": []any{1.0},
	}, dst)

	// merged containers must not alias src
	src["c"].([]any)[0] = 99.0
	assert.Equal(t, []any{1.0}, dst["c"])
}

func TestLeavesAndRemoved(t *testing.T) {
	old := map[string]any{
		"x": 1.0,
		"y": map[string]any{"z": 2.0, "w": 3.0},
	}
	newVal := map[string]any{"y": map[string]any{"z": 5.0}}

	assert.Equal(t, []Path{{"p", "x"}, {"p", "y", "w"}, {"p", "y", "z"}}, Leaves(Path{"p"}, old))
	assert.Equal(t, []Path{{"p", "x"}, {"p", "y", "w"}}, Removed(Path{"p"}, old, newVal))

	// scalar replacing a subtree removes every old leaf
	assert.Len(t, Removed(Path{"p"}, old, 7.0), 3)
	// subtree replacing a scalar removes the scalar leaf
	assert.Equal(t, []Path{{"p"}}, Removed(Path{"p"}, 7.0, newVal))
	assert.Nil(t, Removed(Path{"p"}, nil, newVal))
}

func TestFlattenRoundTrip(t *testing.T) {
	m := map[string]any{"a": map[string]any{"b": 1.0, "c": map[string]any{"d": "e"}}, "f": []any{true}}
	flat := Flatten(m)

	assert.Equal(t, map[string]any{"a.b": 1.0, "a.c.d": "e", "f": []any{true}}, flat)
	assert.Equal(t, m, Unflatten(flat))
}

func TestClone(t *testing.T) {
	m := map[string]any{"a": []any{map[string]any{"b": 1.0}}}
	c := CloneMap(m)
	c["a"].([]any)[0].(map[string]any)["b"] = 2.0

	assert.Equal(t, 1.0, m["a"].([]any)[0].(map[string]any)["b"])
	assert.Equal(t, map[string]any{}, CloneMap(nil))
	assert.True(t, Equal(map[string]any{"a": 1.0}, map[string]any{"a": 1.0}))
}
