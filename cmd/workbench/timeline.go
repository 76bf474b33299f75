package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"workbench/pkg/config"
	"workbench/pkg/delay"
	"workbench/pkg/settings"
	"workbench/pkg/timeline"
)

// timelineSaveDelay is the quiet period before the timeline state is
// written back.
const timelineSaveDelay = 500 * time.Millisecond

// openTimeline creates the controller from the provider, restores the
// persisted state and keeps it saved. The returned func saves once more and
// closes the controller.
func openTimeline(ctx context.Context, a *app) (*timeline.Controller, func(), error) {
	d, err := timeline.ParseDuration(a.provider.TimelineDuration())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeline duration: %w", err)
	}
	tl := timeline.New(timeline.Options{
		FPS:        a.provider.TimelineFPS(),
		ResetDelay: a.provider.TimelineResetDelay(),
		Duration:   d,
		Alerts:     a.alerts,
	})

	key := a.cfg.Timeline.StateKey
	if raw, ok := a.state.GetState(ctx, key); ok {
		st, err := timeline.UnmarshalState([]byte(raw))
		if err == nil {
			err = tl.Restore(st)
		}
		if err != nil {
			slog.Warn("Timeline: discarding persisted state", "key", key, "error", err)
		} else {
			slog.Info("Timeline: state restored", "current", tl.Current(), "playing", tl.IsPlaying())
		}
	}

	save := func() {
		data, err := timeline.MarshalState(tl.Persist())
		if err != nil {
			slog.Error("Timeline: failed to encode state", "error", err)
			return
		}
		if err := a.state.SetState(context.Background(), key, string(data)); err != nil {
			slog.Warn("Timeline: failed to save state", "key", key, "error", err)
		}
	}
	saver := delay.New(save, timelineSaveDelay)
	unlisten := tl.ListenAll(func(ev timeline.Event) {
		if savesState(ev, tl.IsPlaying()) {
			saver.Start()
		}
	})

	unFPS := a.engine.Listen(config.KeyTimelineFPS, func(settings.ChangeEvent) {
		tl.SetFPS(a.provider.TimelineFPS())
	})
	unDuration := a.engine.Listen(config.KeyTimelineDuration, func(settings.ChangeEvent) {
		d, err := timeline.ParseDuration(a.provider.TimelineDuration())
		if err != nil {
			slog.Warn("Timeline: ignoring invalid duration setting", "error", err)
			return
		}
		tl.SetDuration(d)
	})

	return tl, func() {
		unFPS()
		unDuration()
		unlisten()
		saver.Dispose()
		save()
		tl.Close()
	}, nil
}

// savesState reports whether ev schedules a state save. Per-frame show
// events during playback are skipped so they do not keep restarting the
// saver; play, stop and shutdown still save.
func savesState(ev timeline.Event, playing bool) bool {
	switch ev.Type {
	case timeline.EventReset:
		return false
	case timeline.EventShow:
		return !playing
	}
	return true
}
