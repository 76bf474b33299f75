package timeline

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"workbench/pkg/rangeset"
)

// State is the persisted form of a controller.
type State struct {
	Start         int64            `json:"start"`
	End           int64            `json:"end"`
	Duration      Duration         `json:"duration"`
	Current       int64            `json:"current"`
	Offset        *int64           `json:"offset,omitempty"`
	Fade          bool             `json:"fade"`
	Skip          *int64           `json:"skip,omitempty"`
	Playing       bool             `json:"playing"`
	SliceRanges   []rangeset.Range `json:"sliceRanges"`
	LoadRanges    []rangeset.Range `json:"loadRanges"`
	AnimateRanges []rangeset.Range `json:"animateRanges"`
	HoldRanges    []rangeset.Range `json:"holdRanges"`
}

// Persist captures the controller state.
func (c *Controller) Persist() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := c.load.Bounds()
	offset, skip := c.offset, c.skip
	return State{
		Start:         b.Start,
		End:           b.End,
		Duration:      c.duration,
		Current:       c.current,
		Offset:        &offset,
		Fade:          c.fade,
		Skip:          &skip,
		Playing:       c.playing,
		SliceRanges:   c.slice.Ranges(),
		LoadRanges:    c.load.Ranges(),
		AnimateRanges: c.animate.Ranges(),
		HoldRanges:    c.hold.Ranges(),
	}
}

// Restore replaces the controller state with s. Without load ranges the
// [Start, End) span is used; a state with neither is rejected with
// ErrInvalidState. Offset and skip are re-derived from the restored ranges
// when s leaves them out; present values, zero included, are applied as
// they are. Playback resumes when s was playing.
func (c *Controller) Restore(s State) error {
	load := rangeset.New(s.LoadRanges...)
	if load.IsEmpty() {
		r := rangeset.Range{Start: s.Start, End: s.End}
		if r.IsEmpty() {
			return ErrInvalidState
		}
		load.Add(r)
	}
	duration := s.Duration
	if duration != "" {
		d, err := ParseDuration(string(duration))
		if err != nil {
			return fmt.Errorf("restore timeline: %w", err)
		}
		duration = d
	}

	c.mu.Lock()
	c.load = load
	c.slice = rangeset.New()
	for _, r := range s.SliceRanges {
		if r.Len() < dayMillis && !r.IsEmpty() {
			start := r.Start - floorDay(r.Start)
			c.slice.Add(rangeset.Range{Start: start, End: start + r.Len()})
		}
	}
	c.animate = rangeset.New(s.AnimateRanges...)
	c.hold = rangeset.New(s.HoldRanges...)
	c.effective = nil
	if duration != "" {
		c.duration = duration
	}
	c.fade = s.Fade
	c.reconcile()
	c.rangesChanged(nil)
	if s.Offset != nil {
		c.offset = max(*s.Offset, 0)
	}
	if s.Skip != nil {
		c.skip = max(*s.Skip, -1)
	}
	c.current = s.Current
	c.wrapped = false
	c.holding = rangeset.Range{}

	evs := []Event{
		{Type: EventLoadRangeChanged, Ranges: c.load.Ranges()},
		{Type: EventSliceRangeChanged, Ranges: c.slice.Ranges()},
		{Type: EventAnimateRangeChanged, Ranges: c.animate.Ranges()},
		{Type: EventHoldRangeChanged, Ranges: c.hold.Ranges()},
		{Type: EventDurationChange, Duration: c.duration},
		c.showEvent(),
	}
	c.mu.Unlock()

	slog.Debug("Timeline: restored", "loadRanges", len(s.LoadRanges), "playing", s.Playing)
	c.dispatch(evs...)
	c.resetDelay.Start()

	if s.Playing {
		c.Play()
	} else {
		c.Stop()
	}
	return nil
}

// MarshalState encodes s as JSON.
func MarshalState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a JSON state.
func UnmarshalState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode timeline state: %w", err)
	}
	return s, nil
}
