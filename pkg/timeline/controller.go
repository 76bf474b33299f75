// Package timeline drives the workbench playhead over a set of time ranges.
//
// Load ranges bound everything: animate ranges restrict playback to parts of
// them, hold ranges mark where the playhead is held, and slice ranges are
// daily windows that cut the load ranges down to the effective load range
// set. The controller owns the current position, the frame window behind it
// and the animation clock.
package timeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"workbench/pkg/alert"
	"workbench/pkg/delay"
	"workbench/pkg/event"
	"workbench/pkg/logging"
	"workbench/pkg/rangeset"
)

// Event types.
const (
	EventShow                = "show"
	EventReset               = "reset"
	EventDurationChange      = "duration_change"
	EventPlay                = "play"
	EventStop                = "stop"
	EventLoadRangeChanged    = "load_range_changed"
	EventAnimateRangeChanged = "animate_range_changed"
	EventHoldRangeChanged    = "hold_range_changed"
	EventSliceRangeChanged   = "slice_range_changed"
	EventFPSChange           = "fps_change"
)

// Alert texts raised when a mutation is refused.
const (
	MsgLastLoadRange = "At least one load range must always be present"
	MsgSliceTooLong  = "Slice ranges must be shorter than 24 hours"
)

// ErrInvalidState is returned when restoring a state without load ranges.
var ErrInvalidState = errors.New("timeline: state has no load range")

// Event is what the controller dispatches.
type Event struct {
	Type string `json:"type"`

	// show
	Current     int64 `json:"current,omitempty"`
	WindowStart int64 `json:"windowStart,omitempty"`
	Fade        bool  `json:"fade,omitempty"`
	Held        bool  `json:"held,omitempty"`

	Duration Duration         `json:"duration,omitempty"`
	FPS      float64          `json:"fps,omitempty"`
	Ranges   []rangeset.Range `json:"ranges,omitempty"`
}

// Options configures a Controller.
type Options struct {
	// Now supplies the clock for the default load range.
	Now        func() time.Time
	FPS        float64
	ResetDelay time.Duration
	Duration   Duration
	Alerts     alert.Sender
}

func (o *Options) withDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FPS <= 0 {
		o.FPS = 2
	}
	if o.ResetDelay <= 0 {
		o.ResetDelay = 50 * time.Millisecond
	}
	if o.Duration == "" {
		o.Duration = DurationDay
	}
	if o.Alerts == nil {
		o.Alerts = alert.Discard{}
	}
}

// Controller is the timeline controller. All methods are safe for
// concurrent use; events are dispatched after internal state is updated and
// the lock released.
type Controller struct {
	opts   Options
	events *event.Target[Event]

	mu       sync.Mutex
	current  int64
	offset   int64
	skip     int64
	fade     bool
	duration Duration
	fps      float64

	load    *rangeset.Set
	animate *rangeset.Set
	hold    *rangeset.Set
	slice   *rangeset.Set
	// effective caches the sliced load ranges; nil when stale.
	effective *rangeset.Set

	lastRange int
	wrapped   bool

	// holding is the hold range the playhead is paused in; holdLeft counts
	// the forward steps it stays there.
	holding  rangeset.Range
	holdLeft int64

	playing bool
	stopCh  chan struct{}

	resetDelay *delay.Delay
}

// New creates a controller spanning the current UTC day.
func New(opts Options) *Controller {
	opts.withDefaults()
	c := &Controller{
		opts:      opts,
		events:    event.NewTarget[Event](),
		duration:  opts.Duration,
		fps:       opts.FPS,
		load:      rangeset.New(),
		animate:   rangeset.New(),
		hold:      rangeset.New(),
		slice:     rangeset.New(),
		lastRange: -1,
	}
	c.resetDelay = delay.New(func() {
		c.events.Dispatch(EventReset, Event{Type: EventReset})
	}, opts.ResetDelay)

	day := floorDay(opts.Now().UnixMilli())
	c.load.Add(rangeset.Range{Start: day, End: day + dayMillis})
	c.updateOffsetAndSkip()
	c.current = c.firstPosition()
	return c
}

// Listen registers fn for events of typ.
func (c *Controller) Listen(typ string, fn func(Event)) func() {
	return c.events.Listen(typ, fn)
}

// ListenAll registers fn for every event.
func (c *Controller) ListenAll(fn func(Event)) func() {
	return c.events.ListenAll(fn)
}

func (c *Controller) dispatch(evs ...Event) {
	for _, ev := range evs {
		c.events.Dispatch(ev.Type, ev)
	}
}

// showEvent builds a show event from current state. Caller holds c.mu.
func (c *Controller) showEvent() Event {
	return Event{
		Type:        EventShow,
		Current:     c.current,
		WindowStart: c.current - c.offset,
		Fade:        c.fade,
		Held:        c.hold.ContainsValue(c.current),
	}
}

// Start returns the start of the load ranges.
func (c *Controller) Start() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := c.load.Bounds()
	return b.Start
}

// End returns the end of the load ranges.
func (c *Controller) End() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := c.load.Bounds()
	return b.End
}

func (c *Controller) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Controller) Skip() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skip
}

func (c *Controller) Fade() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fade
}

func (c *Controller) Duration() Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *Controller) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// CurrentRange returns the current frame window.
func (c *Controller) CurrentRange() rangeset.Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rangeset.Range{Start: c.current - c.offset, End: c.current}
}

// IsHeld reports whether t lies in a hold range.
func (c *Controller) IsHeld(t int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hold.ContainsValue(t)
}

// SetCurrent moves the playhead and dispatches a show event when it moves.
func (c *Controller) SetCurrent(v int64) {
	c.mu.Lock()
	if v == c.current {
		c.mu.Unlock()
		return
	}
	c.current = v
	c.lastRange = -1
	c.holding = rangeset.Range{}
	ev := c.showEvent()
	c.mu.Unlock()
	c.dispatch(ev)
}

// SetOffset sets the frame width, clamped to zero or more.
func (c *Controller) SetOffset(v int64) {
	v = max(v, 0)
	c.mu.Lock()
	if v == c.offset {
		c.mu.Unlock()
		return
	}
	c.offset = v
	ev := c.showEvent()
	c.mu.Unlock()
	c.dispatch(ev)
}

// SetSkip sets the step size, clamped to -1 or more. Zero or less steps by
// the offset.
func (c *Controller) SetSkip(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skip = max(v, -1)
}

func (c *Controller) SetFade(v bool) {
	c.mu.Lock()
	if v == c.fade {
		c.mu.Unlock()
		return
	}
	c.fade = v
	ev := c.showEvent()
	c.mu.Unlock()
	c.dispatch(ev)
}

// SetDuration changes the bucket. Animate and hold ranges are relative to a
// duration, so both are cleared.
func (c *Controller) SetDuration(d Duration) {
	c.mu.Lock()
	if d == c.duration {
		c.mu.Unlock()
		return
	}
	c.duration = d
	active := c.activeRanges().Clone()
	evs := []Event{{Type: EventDurationChange, Duration: d}}
	if !c.animate.IsEmpty() {
		c.animate.Clear()
		evs = append(evs, Event{Type: EventAnimateRangeChanged, Ranges: c.animate.Ranges()})
	}
	if !c.hold.IsEmpty() {
		c.hold.Clear()
		evs = append(evs, Event{Type: EventHoldRangeChanged, Ranges: c.hold.Ranges()})
	}
	c.rangesChanged(active)
	c.mu.Unlock()

	c.dispatch(evs...)
	c.resetDelay.Start()
}

// SetFPS changes the animation rate and re-arms a running clock.
func (c *Controller) SetFPS(fps float64) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	if fps == c.fps {
		c.mu.Unlock()
		return
	}
	c.fps = fps
	restart := c.playing
	if restart {
		c.stopClock()
		c.startClock()
	}
	c.mu.Unlock()

	c.dispatch(Event{Type: EventFPSChange, FPS: fps})
}

// Play starts the animation clock. It is a no-op while playing.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	c.startClock()
	c.mu.Unlock()

	slog.Debug("Timeline: playing", "fps", c.FPS())
	c.dispatch(Event{Type: EventPlay})
}

// Stop halts the animation clock. An already dispatched show event is not
// affected.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = false
	c.stopClock()
	c.mu.Unlock()

	slog.Debug("Timeline: stopped")
	c.dispatch(Event{Type: EventStop})
}

// TogglePlay switches between playing and stopped.
func (c *Controller) TogglePlay() {
	if c.IsPlaying() {
		c.Stop()
	} else {
		c.Play()
	}
}

// startClock runs the tick goroutine. Caller holds c.mu.
func (c *Controller) startClock() {
	period := time.Duration(float64(time.Second) / c.fps)
	stop := make(chan struct{})
	c.stopCh = stop

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.onTick()
			case <-stop:
				return
			}
		}
	}()
}

// stopClock ends the tick goroutine. Caller holds c.mu.
func (c *Controller) stopClock() {
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

func (c *Controller) onTick() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Next()
	logging.TraceDefault("Timeline: tick", "current", c.Current())
}

// Close stops the clock and drops listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	c.playing = false
	c.stopClock()
	c.mu.Unlock()
	c.resetDelay.Dispose()
	c.events.RemoveAll()
}
