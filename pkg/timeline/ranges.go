package timeline

import (
	"log/slog"

	"workbench/pkg/alert"
	"workbench/pkg/rangeset"
)

type rangeKind int

const (
	kindLoad rangeKind = iota
	kindAnimate
	kindHold
	kindSlice
)

func (k rangeKind) event() string {
	switch k {
	case kindAnimate:
		return EventAnimateRangeChanged
	case kindHold:
		return EventHoldRangeChanged
	case kindSlice:
		return EventSliceRangeChanged
	}
	return EventLoadRangeChanged
}

// set returns the range set of kind k. Caller holds c.mu.
func (c *Controller) set(k rangeKind) *rangeset.Set {
	switch k {
	case kindAnimate:
		return c.animate
	case kindHold:
		return c.hold
	case kindSlice:
		return c.slice
	}
	return c.load
}

// mutate applies fn to the set of kind k and dispatches change events only
// when the set's coverage changed. A refused mutation returns false from fn
// and leaves everything as it was.
func (c *Controller) mutate(k rangeKind, fn func(s *rangeset.Set) bool) {
	c.mu.Lock()
	s := c.set(k)
	before := s.Clone()
	active := c.activeRanges().Clone()
	if !fn(s) || before.Equal(s) {
		c.mu.Unlock()
		return
	}

	evs := []Event{{Type: k.event(), Ranges: s.Ranges()}}
	if k == kindLoad || k == kindSlice {
		c.effective = nil
	}
	evs = append(evs, c.reconcile()...)
	c.rangesChanged(active)
	c.mu.Unlock()

	c.dispatch(evs...)
	c.resetDelay.Start()
}

// reconcile drops animate and hold ranges that are not fully inside the
// load ranges. Caller holds c.mu.
func (c *Controller) reconcile() []Event {
	var evs []Event
	for _, k := range []rangeKind{kindAnimate, kindHold} {
		s := c.set(k)
		dropped := false
		for _, r := range s.Ranges() {
			if !c.load.Contains(r) {
				s.Remove(r)
				dropped = true
			}
		}
		if dropped {
			slog.Debug("Timeline: dropped ranges outside load ranges", "event", k.event())
			evs = append(evs, Event{Type: k.event(), Ranges: s.Ranges()})
		}
	}
	return evs
}

// rangesChanged keeps the playhead inside the active ranges. Offset and skip
// are re-derived only when the active ranges differ from before, so hold
// edits and no-op changes keep a user's frame settings. A nil before always
// re-derives. Caller holds c.mu.
func (c *Controller) rangesChanged(before *rangeset.Set) {
	c.lastRange = -1
	c.holding = rangeset.Range{}
	active := c.activeRanges()
	if before == nil || !active.Equal(before) {
		c.updateOffsetAndSkip()
	}
	if active.IsEmpty() {
		return
	}
	if !active.Overlaps(rangeset.Range{Start: c.current - c.offset, End: c.current + 1}) {
		c.current = c.firstPosition()
	}
}

// updateOffsetAndSkip sizes the frame to a 24th of the smallest active
// range and the step to half a frame. Caller holds c.mu.
func (c *Controller) updateOffsetAndSkip() {
	c.offset = c.smallestRangeLength() / 24
	c.skip = max(c.offset/2, 1)
}

// smallestRangeLength is the shortest animate range, or the shortest
// effective load range without animate ranges. Caller holds c.mu.
func (c *Controller) smallestRangeLength() int64 {
	if r, ok := c.animate.Smallest(); ok {
		return r.Len()
	}
	if r, ok := c.effectiveSet().Smallest(); ok {
		return r.Len()
	}
	return 0
}

// SmallestAnimateRangeLength returns the length used to size the default
// offset and skip.
func (c *Controller) SmallestAnimateRangeLength() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smallestRangeLength()
}

// effectiveSet returns the cached sliced load ranges. Caller holds c.mu.
func (c *Controller) effectiveSet() *rangeset.Set {
	if c.effective != nil {
		return c.effective
	}
	if c.slice.IsEmpty() {
		c.effective = c.load.Clone()
		return c.effective
	}

	out := rangeset.New()
	slices := c.slice.Ranges()
	for _, lr := range c.load.Ranges() {
		// start a day early so windows crossing midnight are kept
		for day := floorDay(lr.Start) - dayMillis; day < lr.End; day += dayMillis {
			for _, s := range slices {
				w := rangeset.Range{Start: day + s.Start, End: day + s.End}.Intersect(lr)
				if !w.IsEmpty() {
					out.Add(w)
				}
			}
		}
	}
	c.effective = out
	return out
}

// EffectiveLoadRangeSet returns the load ranges cut down to the daily slice
// windows, or the load ranges themselves without slices.
func (c *Controller) EffectiveLoadRangeSet() *rangeset.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveSet().Clone()
}

// activeRanges is what playback steps through: the animate ranges, or the
// effective load ranges without any. Caller holds c.mu.
func (c *Controller) activeRanges() *rangeset.Set {
	if !c.animate.IsEmpty() {
		return c.animate
	}
	return c.effectiveSet()
}

// ActiveRangeSet returns a copy of the ranges playback steps through.
func (c *Controller) ActiveRangeSet() *rangeset.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRanges().Clone()
}

func (c *Controller) ranges(k rangeKind) []rangeset.Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(k).Ranges()
}

func (c *Controller) rangeSet(k rangeKind) *rangeset.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(k).Clone()
}

func (c *Controller) LoadRanges() []rangeset.Range      { return c.ranges(kindLoad) }
func (c *Controller) AnimationRanges() []rangeset.Range { return c.ranges(kindAnimate) }
func (c *Controller) HoldRanges() []rangeset.Range      { return c.ranges(kindHold) }
func (c *Controller) SliceRanges() []rangeset.Range     { return c.ranges(kindSlice) }

func (c *Controller) LoadRangeSet() *rangeset.Set      { return c.rangeSet(kindLoad) }
func (c *Controller) AnimationRangeSet() *rangeset.Set { return c.rangeSet(kindAnimate) }
func (c *Controller) HoldRangeSet() *rangeset.Set      { return c.rangeSet(kindHold) }
func (c *Controller) SliceRangeSet() *rangeset.Set     { return c.rangeSet(kindSlice) }

// SetRange replaces all load ranges with r.
func (c *Controller) SetRange(r rangeset.Range) {
	if r.IsEmpty() {
		return
	}
	c.mutate(kindLoad, func(s *rangeset.Set) bool {
		s.Clear()
		s.Add(r)
		return true
	})
}

func (c *Controller) AddLoadRange(r rangeset.Range) {
	c.mutate(kindLoad, func(s *rangeset.Set) bool { s.Add(r); return true })
}

// RemoveLoadRange removes r unless that would leave no load range, in which
// case the removal is undone and the user alerted.
func (c *Controller) RemoveLoadRange(r rangeset.Range) {
	refused := false
	c.mutate(kindLoad, func(s *rangeset.Set) bool {
		before := s.Clone()
		s.Remove(r)
		if s.IsEmpty() {
			s.AddSet(before)
			refused = true
			return false
		}
		return true
	})
	if refused {
		c.opts.Alerts.SendAlert(MsgLastLoadRange, alert.SeverityInfo)
	}
}

func (c *Controller) UpdateLoadRange(old, r rangeset.Range) {
	c.mutate(kindLoad, func(s *rangeset.Set) bool {
		s.Remove(old)
		s.Add(r)
		return true
	})
}

func (c *Controller) AddAnimationRange(r rangeset.Range) {
	c.mutate(kindAnimate, func(s *rangeset.Set) bool { s.Add(r); return true })
}

func (c *Controller) RemoveAnimationRange(r rangeset.Range) {
	c.mutate(kindAnimate, func(s *rangeset.Set) bool { s.Remove(r); return true })
}

func (c *Controller) UpdateAnimationRange(old, r rangeset.Range) {
	c.mutate(kindAnimate, func(s *rangeset.Set) bool {
		s.Remove(old)
		s.Add(r)
		return true
	})
}

func (c *Controller) ClearAnimationRanges() {
	c.mutate(kindAnimate, func(s *rangeset.Set) bool { s.Clear(); return true })
}

func (c *Controller) AddHoldRange(r rangeset.Range) {
	c.mutate(kindHold, func(s *rangeset.Set) bool { s.Add(r); return true })
}

func (c *Controller) RemoveHoldRange(r rangeset.Range) {
	c.mutate(kindHold, func(s *rangeset.Set) bool { s.Remove(r); return true })
}

func (c *Controller) UpdateHoldRange(old, r rangeset.Range) {
	c.mutate(kindHold, func(s *rangeset.Set) bool {
		s.Remove(old)
		s.Add(r)
		return true
	})
}

func (c *Controller) ClearHoldRanges() {
	c.mutate(kindHold, func(s *rangeset.Set) bool { s.Clear(); return true })
}

// normalizeSlice maps a slice onto time-of-day offsets. Slices of a day or
// more are refused.
func (c *Controller) normalizeSlice(r rangeset.Range) (rangeset.Range, bool) {
	if r.IsEmpty() {
		return r, false
	}
	if r.Len() >= dayMillis {
		c.opts.Alerts.SendAlert(MsgSliceTooLong, alert.SeverityInfo)
		return r, false
	}
	start := r.Start - floorDay(r.Start)
	return rangeset.Range{Start: start, End: start + r.Len()}, true
}

func (c *Controller) AddSliceRange(r rangeset.Range) {
	n, ok := c.normalizeSlice(r)
	if !ok {
		return
	}
	c.mutate(kindSlice, func(s *rangeset.Set) bool { s.Add(n); return true })
}

func (c *Controller) RemoveSliceRange(r rangeset.Range) {
	n, ok := c.normalizeSlice(r)
	if !ok {
		return
	}
	c.mutate(kindSlice, func(s *rangeset.Set) bool { s.Remove(n); return true })
}

func (c *Controller) UpdateSliceRange(old, r rangeset.Range) {
	o, ok := c.normalizeSlice(old)
	if !ok {
		return
	}
	n, ok := c.normalizeSlice(r)
	if !ok {
		return
	}
	c.mutate(kindSlice, func(s *rangeset.Set) bool {
		s.Remove(o)
		s.Add(n)
		return true
	})
}

func (c *Controller) ClearSliceRanges() {
	c.mutate(kindSlice, func(s *rangeset.Set) bool { s.Clear(); return true })
}
