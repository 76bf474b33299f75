package settings

import (
	"log/slog"

	"workbench/pkg/peer"
	"workbench/pkg/settings/tree"
)

// Set stores value at the dotted key. See SetPath.
func (e *Engine) Set(key string, value any, localOnly bool) {
	e.SetPath(tree.ParsePath(key), value, localOnly)
}

// SetPath stores value at p. Keys provided by admin config only change the
// merged view. Other keys are written to the namespaced preferences and the
// delta. A change dispatches one event; unless localOnly it is also announced
// to other contexts and schedules a save. It panics with ErrNotLoaded before
// Load.
func (e *Engine) SetPath(p tree.Path, value any, localOnly bool) {
	if len(p) == 0 {
		return
	}

	e.lockLoaded()
	ev, changed := e.set(p, value, localOnly)
	e.mu.Unlock()

	if changed {
		e.dispatch(ev)
		if !localOnly {
			e.saveDelay.Start()
		}
	}
}

// set applies a write. Caller holds e.mu.
func (e *Engine) set(p tree.Path, value any, localOnly bool) (ChangeEvent, bool) {
	v := tree.Normalize(value)
	oldVal, _ := tree.Get(e.merged, p)
	oldVal = tree.Clone(oldVal)
	ns := e.namespaceFor(p)

	ev := ChangeEvent{
		Key:       p.String(),
		Path:      append(tree.Path(nil), p...),
		Namespace: ns,
		NewValue:  tree.Clone(v),
		OldValue:  oldVal,
	}

	if _, admin := tree.Get(e.admin, p); admin {
		tree.Set(e.merged, p, tree.Clone(v))
		return ev, !tree.Equal(oldVal, v)
	}

	tree.Set(e.merged, p, tree.Clone(v))
	tree.Set(e.nsTree(e.preference, ns), p, tree.Clone(v))
	tree.Set(e.nsTree(e.delta, ns), p, tree.Clone(v))

	if tree.Equal(oldVal, v) {
		return ev, false
	}

	nsPath := append(tree.Path{ns}, p...)
	e.deletes = append(e.deletes, tree.Removed(nsPath, oldVal, v)...)
	e.changed = true

	if !localOnly {
		e.notifications = append(e.notifications, peer.Message{
			Namespace: ns,
			Keys:      append([]string(nil), p...),
			NewValue:  tree.Clone(v),
			OldValue:  tree.Clone(oldVal),
		})
	}
	return ev, true
}

// Delete removes the dotted key. See DeletePath.
func (e *Engine) Delete(key string) {
	e.DeletePath(tree.ParsePath(key))
}

// DeletePath removes p from the merged view and the preferences and marks
// every persisted leaf below it for deletion. Admin keys cannot be deleted.
// It panics with ErrNotLoaded before Load.
func (e *Engine) DeletePath(p tree.Path) {
	if len(p) == 0 {
		return
	}

	e.lockLoaded()

	if _, admin := tree.Get(e.admin, p); admin {
		e.mu.Unlock()
		slog.Debug("Settings: refusing to delete admin key", "key", p.String())
		return
	}

	ns := e.namespaceFor(p)
	oldVal, _ := tree.Get(e.merged, p)
	oldVal = tree.Clone(oldVal)

	tree.Delete(e.merged, p)
	tree.Delete(e.nsTree(e.preference, ns), p)
	tree.Delete(e.nsTree(e.delta, ns), p)

	nsPath := append(tree.Path{ns}, p...)
	if tree.IsObject(oldVal) {
		e.deletes = append(e.deletes, tree.Leaves(nsPath, oldVal)...)
	} else {
		e.deletes = append(e.deletes, nsPath)
	}
	e.changed = true
	e.notifications = append(e.notifications, peer.Message{
		Namespace: ns,
		Keys:      append([]string(nil), p...),
		OldValue:  tree.Clone(oldVal),
	})

	ev := ChangeEvent{
		Key:       p.String(),
		Path:      append(tree.Path(nil), p...),
		Namespace: ns,
		OldValue:  oldVal,
	}
	e.mu.Unlock()

	e.dispatch(ev)
	e.saveDelay.Start()
}

// nsTree returns the tree of ns in m, creating it. Caller holds e.mu.
func (e *Engine) nsTree(m map[string]map[string]any, ns string) map[string]any {
	t := m[ns]
	if t == nil {
		t = map[string]any{}
		m[ns] = t
	}
	return t
}
