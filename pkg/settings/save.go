package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/lo"

	"workbench/pkg/alert"
	"workbench/pkg/settings/storage"
	"workbench/pkg/settings/tree"
)

// Save writes pending changes to the write storage. It does nothing while
// persistence is disabled, before Load, or when nothing changed. A failed
// save keeps the changes for the next attempt; once a storage type fails
// more than MaxStorageFails times in a row the storage is marked
// inaccessible and another one of the same type is selected.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	ws := e.reg.WriteStorage()
	if !e.persist || !e.loaded || !e.changed || ws == nil {
		e.mu.Unlock()
		return nil
	}

	var payload map[string]any
	if ws.CanInsertDeltas() && !e.typeChanged {
		payload = toPayload(e.delta)
	} else {
		payload = toPayload(e.preference)
	}
	sent := e.delta
	deletes := e.deletes
	e.delta = map[string]map[string]any{}
	e.deletes = nil
	e.changed = false
	e.mu.Unlock()

	err := ws.SetSettings(ctx, payload, deletes)

	e.mu.Lock()
	if err == nil {
		e.failures[ws.Type()] = 0
		e.typeChanged = false
		notes := e.notifications
		e.notifications = nil
		p := e.peer
		e.mu.Unlock()

		slog.Debug("Settings: saved", "storage", ws.Name(), "namespaces", len(payload), "deletes", len(deletes))
		if p != nil {
			for _, msg := range notes {
				if err := p.Send(ctx, msg.Namespace, msg); err != nil {
					slog.Warn("Settings: failed to notify peers", "key", tree.Path(msg.Keys).String(), "error", err)
				}
			}
		}
		e.reg.ClearStale(ctx)
		return nil
	}

	// Newer writes made during the attempt win over the unsent ones.
	for ns, t := range e.delta {
		tree.Merge(e.nsTree(sent, ns), t)
	}
	e.delta = sent
	e.deletes = append(deletes, e.deletes...)
	e.changed = true

	typ := ws.Type()
	e.failures[typ]++
	fails := e.failures[typ]
	exceeded := fails > e.opts.MaxStorageFails
	if exceeded {
		e.failures[typ] = 0
	}
	e.mu.Unlock()

	slog.Warn("Settings: save failed", "storage", ws.Name(), "failures", fails, "error", err)
	if exceeded {
		slog.Error("Settings: storage exceeded failure limit, excluding it", "storage", ws.Name(), "limit", e.opts.MaxStorageFails)
		ws.SetCanAccess(false)
		if serr := e.SetWriteStorageType(ctx, typ, false); serr != nil {
			slog.Warn("Settings: no replacement write storage", "type", typ, "error", serr)
		}
	}
	return fmt.Errorf("save to %s: %w", ws.Name(), err)
}

// Flush saves pending changes now instead of waiting for the save delay.
func (e *Engine) Flush(ctx context.Context) error {
	e.saveDelay.Stop()
	return e.Save(ctx)
}

func toPayload(m map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for ns, t := range m {
		out[ns] = tree.CloneMap(t)
	}
	return out
}

// SetWriteStorageType selects the first accessible storage of type t as the
// write storage. When none exists persistence is disabled and an error alert
// is raised; the engine keeps running without saving. The requested type is
// always recorded as a setting and in the raw state backup.
func (e *Engine) SetWriteStorageType(ctx context.Context, t storage.Type, notify bool) error {
	prev := e.reg.WriteStorage()
	ws, err := e.reg.SelectWriteStorage(t)

	e.mu.Lock()
	e.writeType = t
	if err != nil {
		e.persist = false
	} else {
		e.persist = true
		if ws != prev {
			// A new write storage gets the full preference tree.
			e.typeChanged = true
			e.changed = true
		}
	}
	var ev ChangeEvent
	var changed bool
	if e.loaded {
		ev, changed = e.set(tree.ParsePath(WriteTypeKey), string(t), false)
	}
	schedule := e.persist && e.changed
	e.mu.Unlock()

	if changed {
		e.dispatch(ev)
	}
	if schedule {
		e.saveDelay.Start()
	}

	if e.opts.State != nil {
		if serr := e.opts.State.SetState(ctx, StateWriteType, string(t)); serr != nil {
			slog.Warn("Settings: failed to back up write storage type", "error", serr)
		}
	}

	if err != nil {
		e.opts.Alerts.SendAlert(
			fmt.Sprintf("No accessible %s settings storage. Settings will not be saved.", t),
			alert.SeverityError)
		return err
	}
	if notify {
		e.opts.Alerts.SendAlert(fmt.Sprintf("Settings are now stored in %s (%s).", ws.Name(), t), alert.SeveritySuccess)
	}
	slog.Info("Settings: write storage selected", "storage", ws.Name(), "type", t)
	return nil
}

// WriteStorageType returns the last requested write storage type.
func (e *Engine) WriteStorageType() storage.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeType
}

// IsPersistenceEnabled reports whether changes are being saved.
func (e *Engine) IsPersistenceEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persist
}

// Reset removes the core namespace and namespace (the application namespace
// when empty) from the write storage and from local state, keeps the write
// storage type, records the reset time and saves.
func (e *Engine) Reset(ctx context.Context, namespace string) error {
	if namespace == "" {
		namespace = e.opts.AppNamespace
	}

	reset := []string{e.opts.CoreNamespace, namespace}

	e.lockLoaded()
	wt := e.writeType
	persist := e.persist
	e.mu.Unlock()

	if ws := e.reg.WriteStorage(); persist && ws != nil {
		for _, ns := range reset {
			if err := ws.Remove(ctx, ns); err != nil {
				slog.Warn("Settings: failed to remove namespace during reset", "namespace", ns, "storage", ws.Name(), "error", err)
			}
		}
	}

	e.mu.Lock()
	before := tree.CloneMap(e.merged)
	for _, ns := range reset {
		delete(e.preference, ns)
		delete(e.delta, ns)
	}
	e.deletes = lo.Reject(e.deletes, func(p tree.Path, _ int) bool {
		return len(p) > 0 && lo.Contains(reset, p[0])
	})
	e.remerge()
	evs := diffTop(before, e.merged)
	e.mu.Unlock()

	e.dispatch(evs...)

	if wt == "" {
		wt = e.opts.WriteStorageType
	}
	if err := e.SetWriteStorageType(ctx, wt, false); err != nil {
		slog.Warn("Settings: write storage unavailable after reset", "error", err)
	}

	now := time.Now().UnixMilli()
	e.Set(ResetKey, now, false)
	if e.opts.State != nil {
		if err := e.opts.State.SetState(ctx, StateReset, strconv.FormatInt(now, 10)); err != nil {
			slog.Warn("Settings: failed to back up reset time", "error", err)
		}
	}

	slog.Info("Settings: reset", "namespace", namespace)
	return e.Flush(ctx)
}

// diffTop returns one event per top-level key whose value differs.
func diffTop(before, after map[string]any) []ChangeEvent {
	keys := map[string]struct{}{}
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	var evs []ChangeEvent
	for k := range keys {
		if tree.Equal(before[k], after[k]) {
			continue
		}
		evs = append(evs, ChangeEvent{
			Key:      k,
			Path:     tree.Path{k},
			NewValue: tree.Clone(after[k]),
			OldValue: tree.Clone(before[k]),
		})
	}
	return evs
}
