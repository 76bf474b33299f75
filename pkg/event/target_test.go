package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTarget_Dispatch(t *testing.T) {
	tgt := NewTarget[int]()

	var typed, all []int
	tgt.Listen("a", func(v int) { typed = append(typed, v) })
	tgt.ListenAll(func(v int) { all = append(all, v) })

	tgt.Dispatch("a", 1)
	tgt.Dispatch("b", 2)

	assert.Equal(t, []int{1}, typed)
	assert.Equal(t, []int{1, 2}, all)
	assert.True(t, tgt.HasListeners("zzz"), "catch-all counts")
}

func TestTarget_AddDuringDispatch(t *testing.T) {
	tgt := NewTarget[string]()

	var late []string
	tgt.Listen("x", func(string) {
		tgt.Listen("x", func(v string) { late = append(late, v) })
	})

	tgt.Dispatch("x", "first")
	assert.Empty(t, late, "listener added during dispatch must not see the in-flight event")

	tgt.Dispatch("x", "second")
	assert.Equal(t, []string{"second"}, late)
}

func TestTarget_RemoveDuringDispatch(t *testing.T) {
	tgt := NewTarget[int]()

	calls := 0
	var unlistenSecond func()
	tgt.Listen("x", func(int) { unlistenSecond() })
	unlistenSecond = tgt.Listen("x", func(int) { calls++ })

	tgt.Dispatch("x", 1)
	assert.Equal(t, 0, calls, "removed listener must be skipped")

	unlistenSecond() // idempotent
	tgt.Dispatch("x", 2)
	assert.Equal(t, 0, calls)
}

func TestTarget_RemoveAll(t *testing.T) {
	tgt := NewTarget[int]()
	calls := 0
	tgt.Listen("x", func(int) { calls++ })
	tgt.ListenAll(func(int) { calls++ })

	tgt.RemoveAll()
	tgt.Dispatch("x", 1)

	assert.Equal(t, 0, calls)
	assert.False(t, tgt.HasListeners("x"))
}
