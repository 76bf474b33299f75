package settings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"workbench/pkg/peer"
	"workbench/pkg/settings/storage"
	"workbench/pkg/settings/tree"
)

// Types returns the message types the engine processes: its namespaces.
func (e *Engine) Types() []string {
	return []string{e.opts.CoreNamespace, e.opts.AppNamespace}
}

// Process handles a change announced by another context. A write storage
// type change is applied at once so every context writes to the same place.
// Anything else is queued and answered with a debounced full reload from the
// storages, after which the queued changes are replayed as local events.
func (e *Engine) Process(msg peer.Message) {
	p := tree.Path(msg.Keys)
	if p.Equal(tree.ParsePath(WriteTypeKey)) {
		s, _ := msg.NewValue.(string)
		t, err := storage.ParseType(s)
		if err != nil {
			slog.Warn("Settings: ignoring unknown write storage type from peer", "value", msg.NewValue, "sender", msg.Sender)
			return
		}
		if err := e.SetWriteStorageType(context.Background(), t, false); err != nil {
			slog.Warn("Settings: could not follow peer write storage type", "type", t, "error", err)
		}
		return
	}

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		slog.Debug("Settings: dropping peer message before load", "key", p.String())
		return
	}
	old, _ := tree.Get(e.merged, p)
	msg.OldValue = tree.Clone(old)
	e.queued = append(e.queued, msg)
	e.mu.Unlock()

	e.reloadDelay.Start()
}

// reload rebuilds all state from the storages and replays queued peer
// messages. Local changes not yet saved are applied on top.
func (e *Engine) reload(ctx context.Context) error {
	results := e.reg.LoadAll(ctx)
	failed := lo.CountBy(results, func(r storage.Result) bool { return r.Err != nil })
	if len(results) > 0 && failed == len(results) {
		return fmt.Errorf("reload: all %d storages failed", failed)
	}

	e.mu.Lock()
	e.rebuild(results)
	for _, p := range e.deletes {
		if len(p) > 1 {
			tree.Delete(e.preference[p[0]], p[1:])
		} else if len(p) == 1 {
			delete(e.preference, p[0])
		}
	}
	for ns, t := range e.delta {
		tree.Merge(e.nsTree(e.preference, ns), t)
	}
	e.remerge()

	queued := e.queued
	e.queued = nil
	evs := make([]ChangeEvent, 0, len(queued))
	for _, msg := range queued {
		p := tree.Path(msg.Keys)
		v, _ := tree.Get(e.merged, p)
		evs = append(evs, ChangeEvent{
			Key:       p.String(),
			Path:      append(tree.Path(nil), p...),
			Namespace: msg.Namespace,
			NewValue:  tree.Clone(v),
			OldValue:  msg.OldValue,
			Remote:    true,
		})
	}
	e.mu.Unlock()

	slog.Debug("Settings: reloaded from storages", "replayed", len(evs))
	e.dispatch(evs...)
	return nil
}
